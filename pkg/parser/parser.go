package parser

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language represents a supported programming language.
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangTSX        Language = "tsx"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangUnknown    Language = "unknown"
)

// grammar binds a built-in language to its tree-sitter grammar and the
// file extensions routed to it.
type grammar struct {
	language   func() *sitter.Language
	extensions []string
}

var grammars = map[Language]grammar{
	LangC:          {c.GetLanguage, []string{".c", ".h"}},
	LangCPP:        {cpp.GetLanguage, []string{".cpp", ".cc", ".cxx", ".hpp", ".hxx", ".hh"}},
	LangCSharp:     {csharp.GetLanguage, []string{".cs"}},
	LangGo:         {golang.GetLanguage, []string{".go"}},
	LangJava:       {java.GetLanguage, []string{".java"}},
	LangJavaScript: {javascript.GetLanguage, []string{".js", ".mjs", ".cjs"}},
	LangPython:     {python.GetLanguage, []string{".py", ".pyw", ".pyi"}},
	LangRust:       {rust.GetLanguage, []string{".rs"}},
	LangTSX:        {tsx.GetLanguage, []string{".tsx", ".jsx"}},
	LangTypeScript: {typescript.GetLanguage, []string{".ts", ".mts", ".cts"}},
}

// byExtension is the reverse of grammars.
var byExtension = func() map[string]Language {
	m := make(map[string]Language)
	for lang, g := range grammars {
		for _, ext := range g.extensions {
			m[ext] = lang
		}
	}
	return m
}()

// BuiltinLanguages lists the languages with a tree-sitter parser, sorted.
func BuiltinLanguages() []Language {
	langs := make([]Language, 0, len(grammars))
	for lang := range grammars {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// Extensions returns the file extensions routed to l.
func (l Language) Extensions() []string {
	return grammars[l].extensions
}

// GetTreeSitterLanguage returns the tree-sitter grammar for lang.
func GetTreeSitterLanguage(lang Language) (*sitter.Language, error) {
	g, ok := grammars[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
	return g.language(), nil
}

// DetectLanguage maps a path to a built-in language by extension.
func DetectLanguage(path string) Language {
	if lang, ok := byExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangUnknown
}

// NodeVisitor is a function that visits AST nodes.
type NodeVisitor func(node *sitter.Node, source []byte) bool

// Walk traverses the AST calling visitor for each node. Returning false
// skips the node's children.
func Walk(node *sitter.Node, source []byte, visitor NodeVisitor) {
	if node == nil {
		return
	}

	if !visitor(node, source) {
		return
	}

	for i := range int(node.ChildCount()) {
		Walk(node.Child(i), source, visitor)
	}
}

// FindNodesByType returns all nodes of a specific type.
func FindNodesByType(root *sitter.Node, source []byte, nodeType string) []*sitter.Node {
	var results []*sitter.Node
	Walk(root, source, func(n *sitter.Node, _ []byte) bool {
		if n.Type() == nodeType {
			results = append(results, n)
		}
		return true
	})
	return results
}

// GetNodeText extracts the source text for a node.
// Returns empty string if node is nil or byte offsets are out of bounds.
func GetNodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if start > end || end > uint32(len(source)) {
		return ""
	}
	return string(source[start:end])
}
