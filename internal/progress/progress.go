package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/panbanda/embargo/pkg/analyzer"
)

// Display renders the phases of an analysis run on a terminal. Phases that
// count items get a bar, the rest a spinner.
type Display struct {
	mu    sync.Mutex
	w     io.Writer
	bar   *progressbar.ProgressBar
	max   int
	phase analyzer.Phase
}

// New creates a display writing to w. A nil w means stderr.
func New(w io.Writer) *Display {
	if w == nil {
		w = os.Stderr
	}
	return &Display{w: w}
}

// Tracker returns an analyzer tracker that drives this display.
func (d *Display) Tracker() *analyzer.Tracker {
	return analyzer.NewTracker(d.update)
}

func (d *Display) update(p analyzer.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.Done == 0 {
		d.enter(p.Phase)
		return
	}
	d.tick(p.Done, p.Total)
}

func (d *Display) newSpinner(label string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(d.w),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}

func (d *Display) newBar(label string, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(d.w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (d *Display) enter(p analyzer.Phase) {
	d.clear()
	d.phase = p
	if p == analyzer.PhaseDone {
		return
	}
	d.bar = d.newSpinner(p.String())
	d.max = -1
}

// tick moves the bar of the current phase. The total may still grow while
// a phase runs.
func (d *Display) tick(done, total int) {
	if d.phase == analyzer.PhaseDone {
		return
	}
	if total > 0 && total != d.max {
		if d.max <= 0 {
			d.clear()
			d.bar = d.newBar(d.phase.String(), total)
		} else {
			d.bar.ChangeMax(total)
		}
		d.max = total
	}
	if d.bar == nil {
		return
	}
	if d.max > 0 {
		_ = d.bar.Set(done)
	} else {
		_ = d.bar.Add(1)
	}
}

func (d *Display) clear() {
	if d.bar == nil {
		return
	}
	_ = d.bar.Finish()
	_ = d.bar.Clear()
	d.bar = nil
}

// Finish clears the display.
func (d *Display) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clear()
}

// FinishError clears the display and prints an error line.
func (d *Display) FinishError(err error) {
	d.Finish()
	fmt.Fprintf(d.w, "  analysis error: %v\n", err)
}
