// Package fileproc runs per-file work on a bounded goroutine pool.
package fileproc

import (
	"context"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/panbanda/embargo/pkg/analyzer"
)

// Outcome is what processing one file produced. Err is set when the
// function failed or the file never started because ctx was done.
type Outcome[T any] struct {
	Path  string
	Value T
	Err   error
}

// OK reports whether the file was processed successfully.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// workersPerCPU suits parsing, which mixes file reads with cgo calls.
const workersPerCPU = 2

// Workers resolves a configured worker count. Non-positive means
// two workers per CPU.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU() * workersPerCPU
}

// Map applies fn to every file with at most workers goroutines. The
// outcome at index i always describes files[i].
//
// Each file ticks the Tracker on ctx, if any, whether it succeeded or not.
func Map[T any](
	ctx context.Context,
	files []string,
	workers int,
	fn func(context.Context, string) (T, error),
) []Outcome[T] {
	if len(files) == 0 {
		return nil
	}

	tracker := analyzer.TrackerFromContext(ctx)
	if tracker != nil {
		tracker.Add(len(files))
	}

	outcomes := make([]Outcome[T], len(files))
	p := pool.New().WithMaxGoroutines(Workers(workers))
	for i, path := range files {
		p.Go(func() {
			o := &outcomes[i]
			o.Path = path
			if tracker != nil {
				defer tracker.Tick(path)
			}
			if err := ctx.Err(); err != nil {
				o.Err = err
				return
			}
			o.Value, o.Err = fn(ctx, path)
		})
	}
	p.Wait()
	return outcomes
}
