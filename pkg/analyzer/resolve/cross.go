package resolve

import (
	"strconv"

	"github.com/panbanda/embargo/pkg/analyzer/index"
	"github.com/panbanda/embargo/pkg/models"
	"github.com/panbanda/embargo/pkg/signature"
)

// Cross matches protocol-tagged call sites against the export registry.
type Cross struct {
	ix *index.Index
}

// NewCross creates a cross-language resolver over ix.
func NewCross(ix *index.Index) *Cross {
	return &Cross{ix: ix}
}

// Resolve returns one edge per export in the best match class. A single
// full match is exact when caller and export share a namespace and high
// otherwise; a single partial match is medium; several exports sharing the
// best class all get low. No match returns nil.
func (r *Cross) Resolve(site *models.CallSite) []models.Edge {
	if !site.Protocol.Valid() {
		return nil
	}
	caller, ok := r.ix.Node(site.Caller)
	if !ok {
		return nil
	}
	sig, err := signature.Normalize(site.Protocol, site.Metadata)
	if err != nil {
		return nil
	}

	best := signature.MatchNone
	var matched []index.Export
	for _, e := range r.ix.Exports(site.Protocol) {
		if e.Key == site.Caller {
			continue
		}
		m := signature.Match(site.Protocol, sig, e.Signature)
		switch {
		case m == signature.MatchNone:
		case m > best:
			best = m
			matched = append(matched[:0], e)
		case m == best:
			matched = append(matched, e)
		}
	}
	if best == signature.MatchNone {
		return nil
	}

	var confidence models.Confidence
	switch {
	case len(matched) > 1:
		confidence = models.ConfidenceLow
	case best == signature.MatchFull && matched[0].Namespace == index.Namespace(site.Metadata, caller.File):
		confidence = models.ConfidenceExact
	case best == signature.MatchFull:
		confidence = models.ConfidenceHigh
	default:
		confidence = models.ConfidenceMedium
	}

	edges := make([]models.Edge, 0, len(matched))
	for _, e := range matched {
		edges = append(edges, models.Edge{
			Source: site.Caller,
			Target: e.Key,
			Type:   models.EdgeCall,
			Context: models.Attrs{
				{Key: models.CtxProtocol, Value: string(site.Protocol)},
				{Key: models.CtxSignature, Value: e.Signature},
				{Key: models.CtxMatch, Value: best.String()},
				{Key: models.CtxLine, Value: strconv.Itoa(site.Line)},
			},
			Confidence: confidence,
		})
	}
	return edges
}
