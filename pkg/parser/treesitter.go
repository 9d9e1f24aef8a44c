package parser

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/embargo/pkg/models"
)

// TreeSitterParser extracts nodes, call sites, imports and protocol exports
// from one built-in language. It is safe for concurrent use.
type TreeSitterParser struct {
	lang Language
	pool sync.Pool
}

// NewTreeSitterParser creates a parser for lang.
func NewTreeSitterParser(lang Language) *TreeSitterParser {
	p := &TreeSitterParser{lang: lang}
	p.pool.New = func() any {
		return sitter.NewParser()
	}
	return p
}

// Language returns the language name results are stamped with.
func (p *TreeSitterParser) Language() string {
	return string(p.lang)
}

// Parse parses content as the file at path.
func (p *TreeSitterParser) Parse(path string, content []byte) (*models.ParseResult, error) {
	tree, err := p.parse(content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("empty syntax tree for %s", path)
	}
	return extract(p.lang, path, content, root), nil
}

func (p *TreeSitterParser) parse(content []byte) (*sitter.Tree, error) {
	tsLang, err := GetTreeSitterLanguage(p.lang)
	if err != nil {
		return nil, err
	}
	sp := p.pool.Get().(*sitter.Parser)
	defer p.pool.Put(sp)
	sp.SetLanguage(tsLang)

	tree, err := sp.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter: %w", err)
	}
	return tree, nil
}
