// Package index builds the read-only lookup tables used during resolution.
package index

import (
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/panbanda/embargo/pkg/models"
	"github.com/panbanda/embargo/pkg/signature"
)

type nameKey struct {
	language string
	name     string
}

// Export is a normalized cross-language entrypoint.
type Export struct {
	Key        models.Key
	Language   string
	Protocol   models.Protocol
	Signature  string // normalized
	Raw        string // as declared
	Namespace  string
	Attributes models.Attrs
}

// Index is immutable once built and safe for concurrent readers.
type Index struct {
	nodes    map[models.Key]*models.Node
	byName   map[nameKey][]models.Key
	byModule map[nameKey][]models.Key
	modules  map[nameKey][]models.Key
	// sorted module names per language, for suffix matching
	moduleNames map[string][]string
	exports     map[models.Protocol][]Export

	droppedExports int
	nodeCount      int
}

// Build indexes every node and export in results. Results may arrive in any
// order; all lookup lists are sorted by key.
func Build(results []*models.ParseResult) *Index {
	ix := &Index{
		nodes:       make(map[models.Key]*models.Node),
		byName:      make(map[nameKey][]models.Key),
		byModule:    make(map[nameKey][]models.Key),
		modules:     make(map[nameKey][]models.Key),
		moduleNames: make(map[string][]string),
		exports:     make(map[models.Protocol][]Export),
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		for i := range r.Nodes {
			n := &r.Nodes[i]
			key := n.Key()
			if _, dup := ix.nodes[key]; dup {
				continue
			}
			ix.nodes[key] = n
			ix.nodeCount++

			if n.Kind == models.KindModule {
				name := moduleName(n)
				mk := nameKey{n.Language, name}
				if _, seen := ix.modules[mk]; !seen {
					ix.moduleNames[n.Language] = append(ix.moduleNames[n.Language], name)
				}
				ix.modules[mk] = append(ix.modules[mk], key)
				continue
			}
			if n.Kind.Callable() {
				nk := nameKey{n.Language, n.Name}
				ix.byName[nk] = append(ix.byName[nk], key)
			}
			if n.Module != "" {
				mk := nameKey{n.Language, n.Module}
				ix.byModule[mk] = append(ix.byModule[mk], key)
			}
		}
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		for _, e := range r.Exports {
			node, ok := ix.nodes[e.Node]
			if !ok || !e.Protocol.Valid() {
				ix.droppedExports++
				continue
			}
			sig, err := signature.NormalizeExport(e.Protocol, e.Signature)
			if err != nil {
				ix.droppedExports++
				continue
			}
			ix.exports[e.Protocol] = append(ix.exports[e.Protocol], Export{
				Key:        e.Node,
				Language:   node.Language,
				Protocol:   e.Protocol,
				Signature:  sig,
				Raw:        e.Signature,
				Namespace:  Namespace(e.Attributes, node.File),
				Attributes: e.Attributes,
			})
		}
	}

	for k := range ix.byName {
		slices.SortFunc(ix.byName[k], models.Key.Compare)
	}
	for k := range ix.byModule {
		slices.SortFunc(ix.byModule[k], models.Key.Compare)
	}
	for k := range ix.modules {
		slices.SortFunc(ix.modules[k], models.Key.Compare)
	}
	for lang := range ix.moduleNames {
		sort.Strings(ix.moduleNames[lang])
	}
	for p, list := range ix.exports {
		slices.SortFunc(list, func(a, b Export) int {
			if c := strings.Compare(a.Signature, b.Signature); c != 0 {
				return c
			}
			return a.Key.Compare(b.Key)
		})
		ix.exports[p] = slices.CompactFunc(list, func(a, b Export) bool {
			return a.Signature == b.Signature && a.Key == b.Key
		})
	}
	return ix
}

func moduleName(n *models.Node) string {
	if n.Module != "" {
		return n.Module
	}
	return n.Name
}

// Namespace returns the declared service when present, otherwise the
// directory containing file.
func Namespace(attrs models.Attrs, file string) string {
	if svc := attrs.Value(models.MetaService); svc != "" {
		return "service:" + strings.ToLower(svc)
	}
	return "dir:" + filepath.ToSlash(filepath.Dir(file))
}

// Node returns the node stored under key.
func (ix *Index) Node(key models.Key) (*models.Node, bool) {
	n, ok := ix.nodes[key]
	return n, ok
}

// Len returns the number of indexed nodes.
func (ix *Index) Len() int { return ix.nodeCount }

// ByName returns the callable nodes of language named name, in key order.
func (ix *Index) ByName(language, name string) []models.Key {
	return ix.byName[nameKey{language, name}]
}

// ByModule returns the non-module nodes declared in module, in key order.
func (ix *Index) ByModule(language, module string) []models.Key {
	return ix.byModule[nameKey{language, module}]
}

// Modules returns the module nodes registered under name.
func (ix *Index) Modules(language, name string) []models.Key {
	return ix.modules[nameKey{language, name}]
}

// ModuleNames returns the sorted module names known for language.
func (ix *Index) ModuleNames(language string) []string {
	return ix.moduleNames[language]
}

// Exports returns every export for protocol, ordered by signature then key.
func (ix *Index) Exports(p models.Protocol) []Export {
	return ix.exports[p]
}

// ExportCount returns the number of registered exports across protocols.
func (ix *Index) ExportCount() int {
	n := 0
	for _, list := range ix.exports {
		n += len(list)
	}
	return n
}

// DroppedExports reports exports discarded because they referenced unknown
// nodes or their signature could not be normalized.
func (ix *Index) DroppedExports() int { return ix.droppedExports }

// ModuleMatch is the result of matching a reference against the module table.
type ModuleMatch struct {
	Name  string
	Exact bool
}

// ResolveModule matches ref against the module names of language. An equal
// name is exact; otherwise the module whose segments share the longest
// suffix with ref wins, ties broken by name order.
func (ix *Index) ResolveModule(language, ref string) (ModuleMatch, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ModuleMatch{}, false
	}
	if _, ok := ix.modules[nameKey{language, ref}]; ok {
		return ModuleMatch{Name: ref, Exact: true}, true
	}
	refSegs := Segments(ref)
	if len(refSegs) == 0 {
		return ModuleMatch{}, false
	}

	best, bestLen := "", 0
	for _, name := range ix.moduleNames[language] {
		segs := Segments(name)
		n := suffixMatch(refSegs, segs)
		if n > bestLen {
			best, bestLen = name, n
		}
	}
	if bestLen == 0 {
		return ModuleMatch{}, false
	}
	if strings.Join(Segments(best), "/") == strings.Join(refSegs, "/") {
		return ModuleMatch{Name: best, Exact: true}, true
	}
	return ModuleMatch{Name: best}, true
}

// suffixMatch returns the length of the shorter list when it is a suffix of
// the longer one, or 0.
func suffixMatch(a, b []string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(a) == 0 {
		return 0
	}
	off := len(b) - len(a)
	for i := range a {
		if a[i] != b[off+i] {
			return 0
		}
	}
	return len(a)
}

var sourceExts = []string{".py", ".mjs", ".cjs", ".js", ".jsx", ".ts", ".tsx", ".go", ".rs", ".java", ".cs", ".h", ".hpp", ".c", ".cpp"}

// Segments splits a module reference on path and package separators,
// dropping relative markers and source file extensions.
func Segments(ref string) []string {
	ref = strings.Trim(ref, `"'<>`)
	// dotted package names are not file names, so only paths and headers
	// lose their extension
	if strings.ContainsAny(ref, `/\`) || strings.HasSuffix(ref, ".h") || strings.HasSuffix(ref, ".hpp") {
		for _, ext := range sourceExts {
			if strings.HasSuffix(ref, ext) {
				ref = strings.TrimSuffix(ref, ext)
				break
			}
		}
	}
	fields := strings.FieldsFunc(ref, func(r rune) bool {
		return r == '/' || r == '.' || r == ':' || r == '\\'
	})
	out := fields[:0]
	for _, f := range fields {
		if f == "" || f == "@" {
			continue
		}
		out = append(out, f)
	}
	return out
}
