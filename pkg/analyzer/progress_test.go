package analyzer

import (
	"context"
	"sync"
	"testing"
)

func recordTracker() (*Tracker, func() []Progress) {
	var (
		mu   sync.Mutex
		seen []Progress
	)
	t := NewTracker(func(p Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	return t, func() []Progress {
		mu.Lock()
		defer mu.Unlock()
		return append([]Progress(nil), seen...)
	}
}

func TestTracker_AddAndTick(t *testing.T) {
	tracker, seen := recordTracker()

	tracker.EnterPhase(PhaseParsing)
	tracker.Add(3)
	tracker.Tick("file1.go")
	tracker.Tick("file2.go")
	tracker.Tick("file3.go")

	got := seen()
	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	if got[0] != (Progress{Phase: PhaseParsing}) {
		t.Errorf("entry = %+v", got[0])
	}
	if want := (Progress{Phase: PhaseParsing, Done: 1, Total: 3, Item: "file1.go"}); got[1] != want {
		t.Errorf("tick 1 = %+v, want %+v", got[1], want)
	}
	if want := (Progress{Phase: PhaseParsing, Done: 3, Total: 3, Item: "file3.go"}); got[3] != want {
		t.Errorf("tick 3 = %+v, want %+v", got[3], want)
	}

	if snap := tracker.Snapshot(); snap.Done != 3 || snap.Total != 3 || snap.Item != "" {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestTracker_GrowingTotal(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Add(5)
	tracker.Add(5)
	if got := tracker.Snapshot().Total; got != 10 {
		t.Errorf("Total = %d, want 10", got)
	}
}

func TestTracker_ConcurrentTicks(t *testing.T) {
	tracker, seen := recordTracker()
	tracker.Add(100)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Tick("file.go")
		}()
	}
	wg.Wait()

	if got := tracker.Snapshot().Done; got != 100 {
		t.Errorf("Done = %d, want 100", got)
	}
	if got := len(seen()); got != 100 {
		t.Errorf("notifications = %d, want 100", got)
	}
}

func TestTracker_NilNotify(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.EnterPhase(PhaseScanning)
	tracker.Add(1)
	tracker.Tick("file.go")
}

func TestTracker_EnterPhaseResets(t *testing.T) {
	tracker, seen := recordTracker()

	tracker.EnterPhase(PhaseParsing)
	tracker.Add(2)
	tracker.Tick("a.py")
	tracker.EnterPhase(PhaseResolving)

	if snap := tracker.Snapshot(); snap != (Progress{Phase: PhaseResolving}) {
		t.Errorf("Snapshot() = %+v, want fresh resolving phase", snap)
	}

	var entries []Phase
	for _, p := range seen() {
		if p.Done == 0 {
			entries = append(entries, p.Phase)
		}
	}
	if len(entries) != 2 || entries[0] != PhaseParsing || entries[1] != PhaseResolving {
		t.Errorf("phase entries = %v", entries)
	}
}

func TestWithTracker(t *testing.T) {
	tracker := NewTracker(nil)
	ctx := WithTracker(context.Background(), tracker)

	if got := TrackerFromContext(ctx); got != tracker {
		t.Error("TrackerFromContext should return the same tracker")
	}
	if got := TrackerFromContext(context.Background()); got != nil {
		t.Error("TrackerFromContext should return nil for context without tracker")
	}
}

func TestPhase_String(t *testing.T) {
	want := []string{"scanning", "parsing", "indexing", "resolving", "assembling", "done"}
	for i, p := range Phases() {
		if p.String() != want[i] {
			t.Errorf("Phase(%d).String() = %q, want %q", i, p.String(), want[i])
		}
	}
	if Phase(99).String() != "unknown" {
		t.Errorf("Phase(99).String() = %q", Phase(99).String())
	}
}
