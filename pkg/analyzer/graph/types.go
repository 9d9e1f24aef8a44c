package graph

import (
	"time"

	"github.com/panbanda/embargo/pkg/models"
)

// Skip reasons recorded in Summary.Skipped.
const (
	ReasonDeadline    = "deadline"
	ReasonCancelled   = "cancelled"
	ReasonTooLarge    = "too large"
	ReasonUnsupported = "unsupported language"
)

// Skipped is a file that produced no ParseResult.
type Skipped struct {
	Path   string `json:"path" toon:"path"`
	Reason string `json:"reason" toon:"reason"`
}

// PhaseTiming is the wall time spent in one phase.
type PhaseTiming struct {
	Phase    string        `json:"phase" toon:"phase"`
	Duration time.Duration `json:"duration_ns" toon:"duration_ns"`
}

// Summary describes one run.
type Summary struct {
	RunID string `json:"run_id" toon:"run_id"`

	Files     int       `json:"files" toon:"files"`
	Parsed    int       `json:"parsed" toon:"parsed"`
	CacheHits int       `json:"cache_hits" toon:"cache_hits"`
	Skipped   []Skipped `json:"skipped" toon:"skipped"`

	Nodes              int `json:"nodes" toon:"nodes"`
	Edges              int `json:"edges" toon:"edges"`
	CrossLanguageEdges int `json:"cross_language_edges" toon:"cross_language_edges"`
	FilteredEdges      int `json:"filtered_edges" toon:"filtered_edges"`
	DroppedEdges       int `json:"dropped_edges" toon:"dropped_edges"`
	DroppedExports     int `json:"dropped_exports" toon:"dropped_exports"`

	CallSites         int `json:"call_sites" toon:"call_sites"`
	Resolved          int `json:"resolved" toon:"resolved"`
	Unresolved        int `json:"unresolved" toon:"unresolved"`
	ImportsResolved   int `json:"imports_resolved" toon:"imports_resolved"`
	ImportsUnresolved int `json:"imports_unresolved" toon:"imports_unresolved"`

	Cycles     int `json:"cycles" toon:"cycles"`
	Components int `json:"components" toon:"components"`

	Degraded bool     `json:"degraded" toon:"degraded"`
	Warnings []string `json:"warnings" toon:"warnings"`

	Timings []PhaseTiming `json:"timings" toon:"timings"`
}

// Result is the output of a run.
type Result struct {
	Graph   *models.Graph `json:"graph" toon:"graph"`
	Summary Summary       `json:"summary" toon:"summary"`
	// Cycles lists each dependency cycle's node keys in key order.
	Cycles [][]models.Key `json:"cycles,omitempty" toon:"cycles,omitempty"`
	// MinConfidence is the configured cross-language threshold used by
	// Filtered.
	MinConfidence models.Confidence `json:"min_confidence" toon:"min_confidence"`
}

// Filtered returns the graph without cross-language edges below the
// configured threshold.
func (r *Result) Filtered() *models.Graph {
	return r.Graph.Filter(r.MinConfidence)
}
