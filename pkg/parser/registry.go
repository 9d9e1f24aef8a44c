package parser

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/panbanda/embargo/pkg/config"
	"github.com/panbanda/embargo/pkg/models"
)

// FileParser turns one source file into a ParseResult. Implementations must
// be safe for concurrent use and must not consult other files.
type FileParser interface {
	Language() string
	Parse(path string, content []byte) (*models.ParseResult, error)
}

// Registry maps languages and file extensions to parsers. A registry is
// built per run and is read-only once analysis starts.
type Registry struct {
	parsers map[string]FileParser
	exts    map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]FileParser),
		exts:    make(map[string]string),
	}
}

// Register adds p and routes the given extensions to it. A later
// registration for the same language or extension replaces the earlier one.
func (r *Registry) Register(p FileParser, extensions ...string) {
	r.parsers[p.Language()] = p
	for _, ext := range extensions {
		r.exts[strings.ToLower(ext)] = p.Language()
	}
}

// Lookup returns the parser for path, chosen by extension.
func (r *Registry) Lookup(path string) (FileParser, bool) {
	lang, ok := r.exts[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, false
	}
	p, ok := r.parsers[lang]
	return p, ok
}

// Parser returns the parser registered for language.
func (r *Registry) Parser(language string) (FileParser, bool) {
	p, ok := r.parsers[language]
	return p, ok
}

// Languages returns the registered languages in sorted order.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.parsers))
	for l := range r.parsers {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Extensions returns the routed extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.exts))
	for e := range r.exts {
		exts = append(exts, e)
	}
	slices.Sort(exts)
	return exts
}

// DefaultRegistry registers the tree-sitter parsers for every built-in
// language, then the external parsers from cfg, which may override them.
func DefaultRegistry(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	for _, lang := range BuiltinLanguages() {
		r.Register(NewTreeSitterParser(lang), lang.Extensions()...)
	}
	if cfg == nil {
		return r, nil
	}
	for _, pc := range cfg.Parsers {
		ep, err := NewExternalParser(pc)
		if err != nil {
			return nil, fmt.Errorf("external parser %s: %w", pc.Language, err)
		}
		r.Register(ep, pc.Extensions...)
	}
	return r, nil
}
