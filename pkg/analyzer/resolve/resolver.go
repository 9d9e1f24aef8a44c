package resolve

import (
	"github.com/panbanda/embargo/pkg/analyzer/index"
	"github.com/panbanda/embargo/pkg/models"
)

// Outcome is what resolution produced for one call site.
type Outcome struct {
	Edges    []models.Edge
	Resolved bool
	Cross    bool // resolved by protocol matching
}

// Resolver dispatches call sites to the intra- and cross-language resolvers.
type Resolver struct {
	intra *Intra
	cross *Cross
}

// New creates a resolver over ix.
func New(ix *index.Index) *Resolver {
	return &Resolver{intra: NewIntra(ix), cross: NewCross(ix)}
}

// Site resolves one call site. A protocol-tagged site is matched against
// exports first when allowCross is set; any site that produced no
// cross-language edge then goes through intra-language resolution.
func (r *Resolver) Site(site *models.CallSite, allowCross bool) Outcome {
	if allowCross && site.Protocol != models.ProtocolNone {
		if edges := r.cross.Resolve(site); len(edges) > 0 {
			return Outcome{Edges: edges, Resolved: true, Cross: true}
		}
	}
	if e, ok := r.intra.ResolveCall(site); ok {
		return Outcome{Edges: []models.Edge{e}, Resolved: true}
	}
	return Outcome{}
}

// Import resolves one import statement.
func (r *Resolver) Import(imp *models.Import) (models.Edge, bool) {
	return r.intra.ResolveImport(imp)
}
