// Package graph runs the dependency graph pipeline and assembles its output.
//
// A run moves through Scanning, Parsing, Indexing, Resolving and Assembling.
// Parsing fans out over a bounded worker pool, indexing is a barrier, and
// resolution fans out again over the immutable index. Per-file failures and
// deadline expiry degrade the result instead of failing the run.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/panbanda/embargo/internal/cache"
	"github.com/panbanda/embargo/internal/fileproc"
	"github.com/panbanda/embargo/pkg/analyzer"
	"github.com/panbanda/embargo/pkg/analyzer/index"
	"github.com/panbanda/embargo/pkg/analyzer/resolve"
	"github.com/panbanda/embargo/pkg/config"
	"github.com/panbanda/embargo/pkg/models"
	"github.com/panbanda/embargo/pkg/parser"
)

// resolveChunk is the number of call sites or imports per resolve task.
const resolveChunk = 256

// Analyzer builds dependency graphs.
type Analyzer struct {
	core        config.CoreConfig
	minConf     models.Confidence
	languages   map[string]bool
	parsers     *parser.Registry
	cache       *cache.Cache
	logger      *slog.Logger
	workers     int
	deadline    time.Duration
	maxFileSize int64
	hot         HotOptions
	onPhase     func(analyzer.Phase)
}

// Compile-time check that Analyzer implements FileAnalyzer.
var _ analyzer.FileAnalyzer[*Result] = (*Analyzer)(nil)

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCache sets the parse cache. Without one every file is parsed.
func WithCache(c *cache.Cache) Option {
	return func(a *Analyzer) {
		a.cache = c
	}
}

// WithParsers replaces the default parser registry.
func WithParsers(r *parser.Registry) Option {
	return func(a *Analyzer) {
		a.parsers = r
	}
}

// WithPhaseHook registers fn to be called on entry to each phase.
func WithPhaseHook(fn func(analyzer.Phase)) Option {
	return func(a *Analyzer) {
		a.onPhase = fn
	}
}

// WithWorkers overrides analysis.workers.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		a.workers = n
	}
}

// WithDeadline overrides analysis.deadline. Zero means no deadline.
func WithDeadline(d time.Duration) Option {
	return func(a *Analyzer) {
		a.deadline = d
	}
}

// WithMaxFileSize overrides analysis.max_file_size.
func WithMaxFileSize(n int64) Option {
	return func(a *Analyzer) {
		a.maxFileSize = n
	}
}

// WithHot overrides the hot tagging options from the config.
func WithHot(h HotOptions) Option {
	return func(a *Analyzer) {
		a.hot = h
	}
}

// New creates an Analyzer from cfg. Configuration problems are reported
// here, before any file is touched. A nil cfg means DefaultConfig.
func New(cfg *config.Config, opts ...Option) (*Analyzer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minConf, err := cfg.Core.MinConfidence()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	hints, err := cfg.Hot.AllHints()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	a := &Analyzer{
		core:        cfg.Core,
		minConf:     minConf,
		logger:      slog.New(slog.DiscardHandler),
		workers:     cfg.Analysis.Workers,
		deadline:    cfg.Analysis.Deadline,
		maxFileSize: cfg.Analysis.MaxFileSize,
		hot:         HotOptions{Hints: hints, TopPercent: cfg.Hot.TopPercent},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.parsers == nil {
		if a.parsers, err = parser.DefaultRegistry(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
	}
	if len(cfg.Core.Languages) > 0 {
		a.languages = make(map[string]bool, len(cfg.Core.Languages))
		for _, l := range cfg.Core.Languages {
			if _, ok := a.parsers.Parser(l); !ok {
				return nil, fmt.Errorf("%w: no parser for language %q", config.ErrInvalidConfig, l)
			}
			a.languages[l] = true
		}
	}
	return a, nil
}

// Close releases analyzer resources. The cache is owned by the caller.
func (a *Analyzer) Close() {}

// run carries the mutable state of one Analyze call.
type run struct {
	a       *Analyzer
	ctx     context.Context
	tracker *analyzer.Tracker
	sum     Summary
	phase   analyzer.Phase
	started time.Time
}

func (r *run) enter(p analyzer.Phase) {
	now := time.Now()
	if p != analyzer.PhaseScanning {
		r.sum.Timings = append(r.sum.Timings, PhaseTiming{Phase: r.phase.String(), Duration: now.Sub(r.started)})
	}
	r.phase, r.started = p, now
	if r.tracker != nil {
		r.tracker.EnterPhase(p)
	}
	if r.a.onPhase != nil {
		r.a.onPhase(p)
	}
	r.a.logger.Debug("phase", "run_id", r.sum.RunID, "phase", p.String())
}

func (r *run) warn(msg string) {
	r.sum.Degraded = true
	r.sum.Warnings = append(r.sum.Warnings, msg)
	r.a.logger.Warn(msg, "run_id", r.sum.RunID)
}

// Analyze builds the dependency graph for files. It fails only when ctx is
// cancelled; an expired deadline yields a degraded partial result.
func (a *Analyzer) Analyze(ctx context.Context, files []string) (*Result, error) {
	runCtx := ctx
	if a.deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.deadline)
		defer cancel()
	}

	r := &run{
		a:       a,
		ctx:     runCtx,
		tracker: analyzer.TrackerFromContext(ctx),
		sum: Summary{
			RunID:    uuid.NewString(),
			Skipped:  []Skipped{},
			Warnings: []string{},
		},
	}

	r.enter(analyzer.PhaseScanning)
	paths := r.scan(files)

	r.enter(analyzer.PhaseParsing)
	results := r.parse(paths)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	r.enter(analyzer.PhaseIndexing)
	ix := index.Build(results)
	r.sum.DroppedExports = ix.DroppedExports()
	if r.sum.DroppedExports > 0 {
		a.logger.Debug("dropped invalid exports", "run_id", r.sum.RunID, "count", r.sum.DroppedExports)
	}

	r.enter(analyzer.PhaseResolving)
	edges := r.resolve(ix, results)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	r.enter(analyzer.PhaseAssembling)
	asm := Assemble(results, edges, a.hot)
	g := asm.Graph
	r.sum.Nodes = len(g.Nodes)
	r.sum.Edges = len(g.Edges)
	for i := range g.Edges {
		if g.Edges[i].CrossLanguage() {
			r.sum.CrossLanguageEdges++
		}
	}
	r.sum.FilteredEdges = len(g.Edges) - len(g.Filter(a.minConf).Edges)
	r.sum.DroppedEdges = asm.Dropped
	r.sum.Cycles = len(asm.Cycles)
	r.sum.Components = asm.Components
	if asm.Dropped > 0 {
		a.logger.Debug("dropped dangling edges", "run_id", r.sum.RunID, "count", asm.Dropped)
	}

	r.enter(analyzer.PhaseDone)
	a.logger.Info("analysis complete",
		"run_id", r.sum.RunID,
		"files", r.sum.Files,
		"parsed", r.sum.Parsed,
		"cache_hits", r.sum.CacheHits,
		"nodes", r.sum.Nodes,
		"edges", r.sum.Edges,
		"degraded", r.sum.Degraded,
	)

	return &Result{
		Graph:         g,
		Summary:       r.sum,
		Cycles:        asm.Cycles,
		MinConfidence: a.minConf,
	}, nil
}

// scan normalizes, dedupes, filters and sorts the input paths.
func (r *run) scan(files []string) []string {
	seen := make(map[string]bool, len(files))
	paths := make([]string, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = filepath.Clean(f)
		}
		if !seen[abs] {
			seen[abs] = true
			paths = append(paths, abs)
		}
	}
	slices.Sort(paths)
	r.sum.Files = len(paths)

	kept := paths[:0]
	for _, p := range paths {
		fp, ok := r.a.parsers.Lookup(p)
		if !ok || (r.a.languages != nil && !r.a.languages[fp.Language()]) {
			r.sum.Skipped = append(r.sum.Skipped, Skipped{Path: p, Reason: ReasonUnsupported})
			continue
		}
		if r.a.maxFileSize > 0 {
			if info, err := os.Stat(p); err == nil && info.Size() > r.a.maxFileSize {
				r.sum.Skipped = append(r.sum.Skipped, Skipped{Path: p, Reason: ReasonTooLarge})
				continue
			}
		}
		kept = append(kept, p)
	}
	return kept
}

type parsed struct {
	result *models.ParseResult
	cached bool
}

// parse runs the worker pool and returns successful results in path order.
func (r *run) parse(paths []string) []*models.ParseResult {
	outcomes := fileproc.Map(r.ctx, paths, r.a.workers, r.a.parseFile)

	var results []*models.ParseResult
	var deadline int
	for _, o := range outcomes {
		if !o.OK() {
			reason := skipReason(o.Err)
			if reason == ReasonDeadline {
				deadline++
			} else {
				r.a.logger.Debug("skipping file", "run_id", r.sum.RunID, "path", o.Path, "reason", reason)
			}
			r.sum.Skipped = append(r.sum.Skipped, Skipped{Path: o.Path, Reason: reason})
			continue
		}
		results = append(results, o.Value.result)
		if o.Value.cached {
			r.sum.CacheHits++
		} else {
			r.sum.Parsed++
		}
	}
	slices.SortStableFunc(r.sum.Skipped, func(a, b Skipped) int {
		return strings.Compare(a.Path, b.Path)
	})
	if deadline > 0 {
		r.warn(fmt.Sprintf("deadline exceeded during parsing: %d files not parsed", deadline))
	}
	return results
}

func skipReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadline
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	}
	return "parse failure: " + err.Error()
}

// parseFile reads, hashes and parses one file, consulting the cache first.
func (a *Analyzer) parseFile(_ context.Context, path string) (parsed, error) {
	p, ok := a.parsers.Lookup(path)
	if !ok {
		return parsed{}, fmt.Errorf("no parser for %s", filepath.Ext(path))
	}

	var content []byte
	var hash string
	if a.cache != nil {
		lk, err := a.cache.Lookup(path)
		if err != nil {
			return parsed{}, fmt.Errorf("read: %w", err)
		}
		if lk.Hit {
			return parsed{result: lk.Result, cached: true}, nil
		}
		content, hash = lk.Content, lk.Hash
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return parsed{}, fmt.Errorf("read: %w", err)
		}
		content = data
	}

	result, err := p.Parse(path, content)
	if err != nil {
		return parsed{}, err
	}
	if result == nil {
		return parsed{}, fmt.Errorf("%s parser returned no result", p.Language())
	}
	switch result.SchemaVersion {
	case 0:
		result.SchemaVersion = models.SchemaVersion
	case models.SchemaVersion:
	default:
		return parsed{}, fmt.Errorf("schema version %d, want %d", result.SchemaVersion, models.SchemaVersion)
	}
	if result.Path != path {
		result.Rebase(path)
	}
	if result.Language == "" {
		result.Language = p.Language()
	}

	if a.cache != nil && hash != "" {
		if err := a.cache.Store(path, hash, result); err != nil {
			a.logger.Warn("cache store failed", "path", path, "error", err)
		}
	}
	return parsed{result: result}, nil
}

type chunkOutcome struct {
	edges         []models.Edge
	resolved      int
	crossSkipped  int
	importsLinked int
}

// resolve fans call sites and imports out in chunks. Each task writes only
// its own slot, so the concatenated edges are in input order.
func (r *run) resolve(ix *index.Index, results []*models.ParseResult) []models.Edge {
	var sites []*models.CallSite
	var imports []*models.Import
	for _, res := range results {
		for i := range res.CallSites {
			sites = append(sites, &res.CallSites[i])
		}
		for i := range res.Imports {
			imports = append(imports, &res.Imports[i])
		}
	}
	r.sum.CallSites = len(sites)

	allowCross := r.a.core.EnableCrossLanguage
	if allowCross && r.ctx.Err() != nil {
		allowCross = false
	}

	resolver := resolve.New(ix)
	siteChunks := (len(sites) + resolveChunk - 1) / resolveChunk
	importChunks := (len(imports) + resolveChunk - 1) / resolveChunk
	outcomes := make([]chunkOutcome, siteChunks+importChunks)

	var g errgroup.Group
	g.SetLimit(fileproc.Workers(r.a.workers))
	for c := 0; c < siteChunks; c++ {
		g.Go(func() error {
			lo, hi := c*resolveChunk, min((c+1)*resolveChunk, len(sites))
			out := &outcomes[c]
			for _, s := range sites[lo:hi] {
				cross := allowCross && r.ctx.Err() == nil
				if allowCross && !cross && s.Protocol != models.ProtocolNone {
					out.crossSkipped++
				}
				o := resolver.Site(s, cross)
				if o.Resolved {
					out.resolved++
					out.edges = append(out.edges, o.Edges...)
				}
			}
			return nil
		})
	}
	for c := 0; c < importChunks; c++ {
		g.Go(func() error {
			lo, hi := c*resolveChunk, min((c+1)*resolveChunk, len(imports))
			out := &outcomes[siteChunks+c]
			for _, imp := range imports[lo:hi] {
				if e, ok := resolver.Import(imp); ok {
					out.importsLinked++
					out.edges = append(out.edges, e)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var edges []models.Edge
	var crossSkipped int
	for i := range outcomes {
		edges = append(edges, outcomes[i].edges...)
		r.sum.Resolved += outcomes[i].resolved
		r.sum.ImportsResolved += outcomes[i].importsLinked
		crossSkipped += outcomes[i].crossSkipped
	}
	r.sum.Unresolved = r.sum.CallSites - r.sum.Resolved
	r.sum.ImportsUnresolved = len(imports) - r.sum.ImportsResolved

	switch {
	case r.a.core.EnableCrossLanguage && !allowCross:
		r.warn("deadline exceeded before resolving: cross-language resolution skipped")
	case crossSkipped > 0:
		r.warn(fmt.Sprintf("deadline exceeded during resolving: cross-language resolution skipped for %d call sites", crossSkipped))
	}
	return edges
}
