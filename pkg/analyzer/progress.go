package analyzer

import (
	"context"
	"sync/atomic"
)

// Progress is a point-in-time view of a run. Done is zero exactly when the
// view reports a phase entry.
type Progress struct {
	Phase Phase
	Done  int
	Total int
	// Item is the last completed item, if any.
	Item string
}

// Tracker counts completed items per phase and is safe for concurrent use.
// Totals may grow while a phase runs.
type Tracker struct {
	phase  atomic.Int32
	done   atomic.Int32
	total  atomic.Int32
	notify func(Progress)
}

// NewTracker creates a tracker that calls notify on every phase entry and
// every tick. notify may be nil and must tolerate concurrent calls.
func NewTracker(notify func(Progress)) *Tracker {
	return &Tracker{notify: notify}
}

// EnterPhase starts counting p from zero.
func (t *Tracker) EnterPhase(p Phase) {
	t.phase.Store(int32(p))
	t.done.Store(0)
	t.total.Store(0)
	if t.notify != nil {
		t.notify(Progress{Phase: p})
	}
}

// Add grows the current phase's total by n.
func (t *Tracker) Add(n int) {
	t.total.Add(int32(n))
}

// Tick marks item as completed.
func (t *Tracker) Tick(item string) {
	done := int(t.done.Add(1))
	if t.notify != nil {
		t.notify(Progress{
			Phase: Phase(t.phase.Load()),
			Done:  done,
			Total: int(t.total.Load()),
			Item:  item,
		})
	}
}

// Snapshot returns the current phase and counters.
func (t *Tracker) Snapshot() Progress {
	return Progress{
		Phase: Phase(t.phase.Load()),
		Done:  int(t.done.Load()),
		Total: int(t.total.Load()),
	}
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// TrackerFromContext returns the tracker on ctx, or nil.
func TrackerFromContext(ctx context.Context) *Tracker {
	if t, ok := ctx.Value(trackerKey{}).(*Tracker); ok {
		return t
	}
	return nil
}
