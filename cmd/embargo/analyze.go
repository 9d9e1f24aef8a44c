package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/internal/output"
	"github.com/panbanda/embargo/internal/progress"
	"github.com/panbanda/embargo/internal/scanner"
	"github.com/panbanda/embargo/pkg/analyzer"
	"github.com/panbanda/embargo/pkg/analyzer/graph"
	"github.com/panbanda/embargo/pkg/config"
	"github.com/panbanda/embargo/pkg/parser"
	"github.com/panbanda/embargo/pkg/watch"
)

func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Aliases:   []string{"a"},
		Usage:     "Build the dependency graph for the given paths",
		ArgsUsage: "[path|owner/repo[@ref]...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "languages",
				Aliases: []string{"l"},
				Usage:   "Only analyze these languages (e.g. go,python)",
			},
			&cli.StringFlag{
				Name:  "min-confidence",
				Usage: "Cross-language confidence threshold: exact, high, medium, low",
			},
			&cli.BoolFlag{
				Name:  "no-cross-language",
				Usage: "Do not link call sites to exports in other languages",
			},
			&cli.DurationFlag{
				Name:  "deadline",
				Usage: "Stop after this long and report a partial graph (0 = none)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Parser worker count (0 = based on CPU count)",
			},
			&cli.StringFlag{
				Name:  "cache-backend",
				Usage: "Parse cache backend: file, badger, memory",
			},
			&cli.BoolFlag{
				Name:  "filtered",
				Usage: "Hide cross-language edges below the confidence threshold",
			},
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Re-run the analysis when source files change",
			},
			&cli.BoolFlag{
				Name:  "shallow",
				Value: true,
				Usage: "Clone remote repositories with depth 1",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Value: watch.DefaultDebounce,
				Usage: "Quiet period before a watch re-run",
			},
		},
		Action: runAnalyzeCmd,
	}
}

// applyAnalyzeFlags overrides config values with the flags that were set.
func applyAnalyzeFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("languages") {
		cfg.Core.Languages = c.StringSlice("languages")
	}
	if c.IsSet("min-confidence") {
		cfg.Core.MinCrossLanguageConfidence = c.String("min-confidence")
	}
	if c.Bool("no-cross-language") {
		cfg.Core.EnableCrossLanguage = false
	}
	if c.IsSet("deadline") {
		cfg.Analysis.Deadline = c.Duration("deadline")
	}
	if c.IsSet("workers") {
		cfg.Analysis.Workers = c.Int("workers")
	}
	if c.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if c.IsSet("cache-backend") {
		cfg.Cache.Backend = c.String("cache-backend")
	}
}

// analyzeRun holds what one analysis needs so watch mode can repeat it.
type analyzeRun struct {
	c        *cli.Context
	cfg      *config.Config
	logger   *slog.Logger
	scanner  *scanner.Scanner
	analyzer *graph.Analyzer
	paths    []string
}

func runAnalyzeCmd(c *cli.Context) error {
	paths := getPaths(c)
	if c.Bool("watch") {
		if err := rejectRemotes(paths, "--watch"); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, cleanup, err := cloneRemotes(ctx, c, paths)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyAnalyzeFlags(c, cfg)
	logger := newLogger(c, cfg)

	registry, err := parser.DefaultRegistry(cfg)
	if err != nil {
		return err
	}

	ch, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	if ch != nil {
		defer ch.Close()
	}

	a, err := graph.New(cfg,
		graph.WithLogger(logger),
		graph.WithParsers(registry),
		graph.WithCache(ch),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	run := &analyzeRun{
		c:        c,
		cfg:      cfg,
		logger:   logger,
		scanner:  scanner.NewScanner(cfg, registry.Extensions()...),
		analyzer: a,
		paths:    paths,
	}
	if !c.Bool("watch") {
		return run.once(ctx)
	}
	return run.watch(ctx, registry.Extensions(), c.Duration("debounce"))
}

// once scans, analyzes and writes a single report.
func (r *analyzeRun) once(ctx context.Context) error {
	files, err := r.scanner.ScanPaths(r.paths)
	if err != nil {
		return fmt.Errorf("failed to scan paths: %w", err)
	}
	if len(files) == 0 {
		color.Yellow("No source files found")
		return nil
	}

	display := progress.New(errWriter(r.c))
	ctx = analyzer.WithTracker(ctx, display.Tracker())
	result, err := r.analyzer.Analyze(ctx, files)
	if err != nil {
		display.FinishError(err)
		return fmt.Errorf("analysis failed: %w", err)
	}
	display.Finish()
	r.logger.Debug("analysis complete", "run_id", result.Summary.RunID,
		"nodes", result.Summary.Nodes, "edges", result.Summary.Edges,
		"cache_hits", result.Summary.CacheHits)

	formatter, err := newFormatter(r.c, r.cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	report := &output.GraphReport{
		Result:   result,
		Filtered: r.c.Bool("filtered"),
		Root:     output.ReportRoot(r.paths),
	}
	if err := formatter.Output(report); err != nil {
		return err
	}

	if result.Summary.Degraded && formatter.Format() == output.FormatText {
		color.Yellow("Partial graph: %d files skipped", len(result.Summary.Skipped))
	}
	return nil
}

// watch runs once, then again after every batch of source changes until
// ctx is cancelled. Unchanged files come from the parse cache.
func (r *analyzeRun) watch(ctx context.Context, exts []string, debounce time.Duration) error {
	if len(r.paths) != 1 {
		return fmt.Errorf("--watch takes a single directory, got %d paths", len(r.paths))
	}
	info, err := os.Stat(r.paths[0])
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("--watch needs a directory: %s", r.paths[0])
	}
	root := output.ReportRoot(r.paths)

	// a separate scanner, since the filter is used from the event loop
	keepDir, keepFile, err := scanner.NewScanner(r.cfg, exts...).Filter(root)
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher(root,
		watch.WithDebounce(debounce),
		watch.WithFilter(keepDir, keepFile),
		watch.WithLogger(r.logger),
		watch.WithOutput(errWriter(r.c)),
	)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := r.once(ctx); err != nil {
		return err
	}
	w.SetCallback(func(ctx context.Context, changed []string) {
		r.logger.Debug("re-running analysis", "changed", len(changed))
		if err := r.once(ctx); err != nil && ctx.Err() == nil {
			color.New(color.FgRed).Fprintf(errWriter(r.c), "Error: %v\n", err)
		}
	})

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
