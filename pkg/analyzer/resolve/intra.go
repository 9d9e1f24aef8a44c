// Package resolve turns call sites and imports into edges using a built index.
//
// Resolvers only read the index, so one resolver may be shared by any number
// of goroutines.
package resolve

import (
	"strconv"
	"strings"

	"github.com/panbanda/embargo/pkg/analyzer/index"
	"github.com/panbanda/embargo/pkg/models"
)

var receiverPrefixes = []string{"super().", "self.", "this.", "cls.", "super.", "this->", "self::", "Self::", "static::"}

// NormalizeCallee reduces a raw callee expression to the unqualified name
// looked up in the by-name index, plus the qualifier immediately before it
// (empty when there is none). Receiver prefixes are stripped first, so
// "self.save" yields ("save", "").
func NormalizeCallee(raw string) (name, qualifier string) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "new ")
	s = strings.TrimPrefix(s, "await ")
	for stripped := true; stripped; {
		stripped = false
		for _, p := range receiverPrefixes {
			if strings.HasPrefix(s, p) {
				s = s[len(p):]
				stripped = true
			}
		}
	}
	if i := strings.IndexAny(s, "(<"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ':' || r == '>' || r == '-' })
	if len(parts) == 0 {
		return "", ""
	}
	name = parts[len(parts)-1]
	if len(parts) > 1 {
		qualifier = parts[len(parts)-2]
	}
	return name, qualifier
}

// Intra resolves call sites and imports within one language.
type Intra struct {
	ix *index.Index
}

// NewIntra creates an intra-language resolver over ix.
func NewIntra(ix *index.Index) *Intra {
	return &Intra{ix: ix}
}

// ResolveCall resolves a call site by name. The tie-break order
// is: candidates in the caller's (or the qualifier-named) module, then
// matching arity when both sides know it, then the first candidate in key
// order. The edge is exact when the module rule selected the pool and high
// otherwise.
func (r *Intra) ResolveCall(site *models.CallSite) (models.Edge, bool) {
	caller, ok := r.ix.Node(site.Caller)
	if !ok {
		return models.Edge{}, false
	}
	name, qualifier := NormalizeCallee(site.Callee)
	if name == "" {
		return models.Edge{}, false
	}
	candidates := r.ix.ByName(caller.Language, name)
	if len(candidates) == 0 {
		return models.Edge{}, false
	}

	scope := caller.Module
	if qualifier != "" {
		if m, ok := r.ix.ResolveModule(caller.Language, qualifier); ok {
			scope = m.Name
		}
	}

	pool := candidates
	confidence := models.ConfidenceHigh
	if scope != "" {
		var inModule []models.Key
		for _, k := range candidates {
			if n, _ := r.ix.Node(k); n != nil && n.Module == scope {
				inModule = append(inModule, k)
			}
		}
		if len(inModule) > 0 {
			pool = inModule
			confidence = models.ConfidenceExact
		}
	}

	if site.Arity != models.ArityUnknown && len(pool) > 1 {
		var sameArity []models.Key
		for _, k := range pool {
			if n, _ := r.ix.Node(k); n != nil && n.Arity == site.Arity {
				sameArity = append(sameArity, k)
			}
		}
		if len(sameArity) > 0 {
			pool = sameArity
		}
	}

	ctx := models.Attrs{
		{Key: models.CtxCallee, Value: site.Callee},
		{Key: models.CtxLine, Value: strconv.Itoa(site.Line)},
	}
	if site.CallType != "" {
		ctx = append(ctx, models.KV{Key: models.CtxCallType, Value: string(site.CallType)})
	}
	return models.Edge{
		Source:     site.Caller,
		Target:     pool[0],
		Type:       models.EdgeCall,
		Context:    ctx,
		Confidence: confidence,
	}, true
}

// ResolveImport links an import statement to the module node it names. An
// exact module name gives an exact edge; a path-segment suffix match gives a
// high one. Self-imports are not linked.
func (r *Intra) ResolveImport(imp *models.Import) (models.Edge, bool) {
	from, ok := r.ix.Node(imp.Module)
	if !ok {
		return models.Edge{}, false
	}
	m, ok := r.ix.ResolveModule(from.Language, imp.Path)
	if !ok {
		return models.Edge{}, false
	}
	var target models.Key
	found := false
	for _, k := range r.ix.Modules(from.Language, m.Name) {
		if k.File != imp.Module.File {
			target, found = k, true
			break
		}
	}
	if !found {
		return models.Edge{}, false
	}
	confidence := models.ConfidenceHigh
	if m.Exact {
		confidence = models.ConfidenceExact
	}
	return models.Edge{
		Source: imp.Module,
		Target: target,
		Type:   models.EdgeImport,
		Context: models.Attrs{
			{Key: models.CtxImport, Value: imp.Path},
			{Key: models.CtxLine, Value: strconv.Itoa(imp.Line)},
		},
		Confidence: confidence,
	}, true
}
