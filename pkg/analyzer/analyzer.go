package analyzer

import "context"

// FileAnalyzer is the interface that all file-based analyzers must implement.
// It provides a standard way to analyze collections of files with context support.
type FileAnalyzer[T any] interface {
	// Analyze processes a collection of files and returns the analysis result.
	// The context carries the deadline and an optional progress Tracker.
	Analyze(ctx context.Context, files []string) (T, error)

	// Close releases any resources held by the analyzer.
	Close()
}

// Phase is one state of an analysis run. Phases advance strictly forward.
type Phase int

const (
	PhaseScanning Phase = iota
	PhaseParsing
	PhaseIndexing
	PhaseResolving
	PhaseAssembling
	PhaseDone
)

var phaseNames = [...]string{"scanning", "parsing", "indexing", "resolving", "assembling", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Phases lists all phases in run order.
func Phases() []Phase {
	return []Phase{PhaseScanning, PhaseParsing, PhaseIndexing, PhaseResolving, PhaseAssembling, PhaseDone}
}
