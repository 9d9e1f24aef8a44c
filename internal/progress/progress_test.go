package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/panbanda/embargo/pkg/analyzer"
)

func TestDisplay_FollowsPhases(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	tracker := d.Tracker()

	tracker.EnterPhase(analyzer.PhaseScanning)
	tracker.EnterPhase(analyzer.PhaseParsing)
	tracker.Add(3)
	for _, f := range []string{"a.go", "b.go", "c.go"} {
		tracker.Tick(f)
	}
	if d.max != 3 {
		t.Errorf("bar max = %d, want 3", d.max)
	}

	tracker.EnterPhase(analyzer.PhaseResolving)
	tracker.Add(2)
	tracker.Tick("chunk")
	tracker.Add(2)
	tracker.Tick("chunk")
	if d.max != 4 {
		t.Errorf("bar max should follow a growing total, got %d", d.max)
	}

	tracker.EnterPhase(analyzer.PhaseDone)
	if d.bar != nil {
		t.Error("done phase should clear the bar")
	}
	tracker.Tick("late")
	d.Finish()

	if !strings.Contains(buf.String(), analyzer.PhaseParsing.String()) {
		t.Errorf("output should name the parsing phase, got %q", buf.String())
	}
}

func TestDisplay_FinishError(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.Tracker().EnterPhase(analyzer.PhaseParsing)
	d.FinishError(errors.New("boom"))

	if !strings.Contains(buf.String(), "analysis error: boom") {
		t.Errorf("expected error line, got %q", buf.String())
	}
}
