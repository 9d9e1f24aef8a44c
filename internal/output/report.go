package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/panbanda/embargo/internal/cache"
	"github.com/panbanda/embargo/pkg/analyzer/graph"
	"github.com/panbanda/embargo/pkg/models"
)

// maxListedTargets caps the call targets shown per node in markdown.
const maxListedTargets = 5

// GraphReport renders an analysis result in every output format.
type GraphReport struct {
	Result *graph.Result
	// Filtered drops cross-language edges below the configured threshold.
	Filtered bool
	// Root, when set, is trimmed from file paths in text, markdown and
	// compact output.
	Root string
}

// graphData is the JSON and TOON document.
type graphData struct {
	Graph   *models.Graph  `json:"graph" toon:"graph"`
	Summary graph.Summary  `json:"summary" toon:"summary"`
	Cycles  [][]models.Key `json:"cycles,omitempty" toon:"cycles,omitempty"`
}

// ReportRoot returns the directory that file paths are shown relative to
// when paths were analyzed, or "" when they do not share a single one.
func ReportRoot(paths []string) string {
	if len(paths) != 1 {
		return ""
	}
	abs, err := filepath.Abs(paths[0])
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return filepath.Dir(abs)
	}
	return abs
}

func (r *GraphReport) graph() *models.Graph {
	if r.Filtered {
		return r.Result.Filtered()
	}
	return r.Result.Graph
}

func (r *GraphReport) rel(path string) string {
	if r.Root == "" {
		return path
	}
	if rel, err := filepath.Rel(r.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

func (r *GraphReport) RenderData() any {
	return graphData{
		Graph:   r.graph(),
		Summary: r.Result.Summary,
		Cycles:  r.Result.Cycles,
	}
}

func (r *GraphReport) summaryTable() *Table {
	s := r.Result.Summary
	rows := [][]string{
		{"Files", strconv.Itoa(s.Files)},
		{"Parsed", strconv.Itoa(s.Parsed)},
		{"Cache hits", strconv.Itoa(s.CacheHits)},
		{"Skipped", strconv.Itoa(len(s.Skipped))},
		{"Nodes", strconv.Itoa(s.Nodes)},
		{"Edges", strconv.Itoa(s.Edges)},
		{"Cross-language edges", strconv.Itoa(s.CrossLanguageEdges)},
		{"Below threshold", strconv.Itoa(s.FilteredEdges)},
		{"Call sites resolved", fmt.Sprintf("%d/%d", s.Resolved, s.CallSites)},
		{"Imports resolved", fmt.Sprintf("%d/%d", s.ImportsResolved, s.ImportsResolved+s.ImportsUnresolved)},
		{"Cycles", strconv.Itoa(s.Cycles)},
		{"Components", strconv.Itoa(s.Components)},
		{"Degraded", strconv.FormatBool(s.Degraded)},
	}
	return NewTable("Summary", []string{"Metric", "Value"}, rows, s)
}

func edgeTypeCounts(g *models.Graph) map[models.EdgeType]int {
	counts := make(map[models.EdgeType]int)
	for i := range g.Edges {
		counts[g.Edges[i].Type]++
	}
	return counts
}

var edgeTypeOrder = []models.EdgeType{
	models.EdgeImport, models.EdgeCall, models.EdgeInherit, models.EdgeImplements, models.EdgeContains,
}

func (r *GraphReport) edgeTable(g *models.Graph) *Table {
	counts := edgeTypeCounts(g)
	var rows [][]string
	for _, t := range edgeTypeOrder {
		if counts[t] > 0 {
			rows = append(rows, []string{string(t), strconv.Itoa(counts[t])})
		}
	}
	return NewTable("Edges by type", []string{"Type", "Count"}, rows, counts)
}

func (r *GraphReport) nodeName(g *models.Graph, k models.Key) string {
	if n, ok := g.Node(k); ok {
		return r.rel(n.File) + ":" + n.Name
	}
	return r.rel(k.String())
}

func (r *GraphReport) crossTable(g *models.Graph, colored bool) *Table {
	var rows [][]string
	for i := range g.Edges {
		e := &g.Edges[i]
		if !e.CrossLanguage() {
			continue
		}
		conf := e.Confidence.String()
		if colored {
			conf = ConfidenceColor(e.Confidence, conf)
		}
		rows = append(rows, []string{
			r.nodeName(g, e.Source),
			r.nodeName(g, e.Target),
			e.Context.Value(models.CtxProtocol),
			e.Context.Value(models.CtxSignature),
			conf,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return NewTable("Cross-language edges", []string{"Source", "Target", "Protocol", "Signature", "Confidence"}, rows, nil)
}

func (r *GraphReport) sections(colored bool) []Renderable {
	g := r.graph()
	parts := []Renderable{r.summaryTable(), r.edgeTable(g)}
	if t := r.crossTable(g, colored); t != nil {
		parts = append(parts, t)
	}

	s := r.Result.Summary
	if len(s.Skipped) > 0 {
		rows := make([][]string, 0, len(s.Skipped))
		for _, sk := range s.Skipped {
			rows = append(rows, []string{r.rel(sk.Path), sk.Reason})
		}
		parts = append(parts, NewTable("Skipped files", []string{"Path", "Reason"}, rows, s.Skipped))
	}
	if len(s.Warnings) > 0 {
		parts = append(parts, &List{Title: "Warnings", Items: s.Warnings})
	}
	return parts
}

func (r *GraphReport) RenderText(w io.Writer, colored bool) error {
	rep := &Report{Title: "Dependency Graph", Parts: r.sections(colored)}
	return rep.RenderText(w, colored)
}

// RenderMarkdown writes an LLM-oriented listing: files, then each file's
// entities with their outgoing calls, then cross-language links.
func (r *GraphReport) RenderMarkdown(w io.Writer) error {
	g := r.graph()
	var b strings.Builder
	s := r.Result.Summary

	b.WriteString("# CODE_GRAPH\n")
	fmt.Fprintf(&b, "NODES:%d EDGES:%d CROSS_LANGUAGE:%d CYCLES:%d\n", len(g.Nodes), len(g.Edges), s.CrossLanguageEdges, s.Cycles)
	if s.Degraded {
		b.WriteString("DEGRADED: partial graph\n")
	}
	b.WriteString("\n")

	outgoing := make(map[models.Key][]models.Key)
	for i := range g.Edges {
		if e := &g.Edges[i]; e.Type == models.EdgeCall {
			outgoing[e.Source] = append(outgoing[e.Source], e.Target)
		}
	}

	var file string
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.File != file {
			file = n.File
			fmt.Fprintf(&b, "## %s (%s)\n", r.rel(file), n.Language)
		}
		if n.Kind == models.KindModule {
			continue
		}
		fmt.Fprintf(&b, "- %s", n.Name)
		if n.Kind.Callable() && n.Kind != models.KindClass {
			b.WriteString("()")
		}
		fmt.Fprintf(&b, ":%d %s", n.Lines.Start, n.Kind)
		for _, t := range n.Tags {
			fmt.Fprintf(&b, " [%s]", strings.ToUpper(string(t)))
		}
		if targets := outgoing[n.Key()]; len(targets) > 0 {
			names := make([]string, 0, maxListedTargets)
			for _, k := range targets[:min(len(targets), maxListedTargets)] {
				names = append(names, r.nodeName(g, k))
			}
			fmt.Fprintf(&b, " → %s", strings.Join(names, ", "))
			if extra := len(targets) - maxListedTargets; extra > 0 {
				fmt.Fprintf(&b, " +%d", extra)
			}
		}
		b.WriteString("\n")
	}

	var cross []string
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.CrossLanguage() {
			cross = append(cross, fmt.Sprintf("- %s → %s [%s %s] (%s)",
				r.nodeName(g, e.Source), r.nodeName(g, e.Target),
				e.Context.Value(models.CtxProtocol), e.Context.Value(models.CtxSignature), e.Confidence))
		}
	}
	if len(cross) > 0 {
		b.WriteString("\n## CROSS_LANGUAGE\n")
		b.WriteString(strings.Join(cross, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n## DEPS\n")
	counts := edgeTypeCounts(g)
	for _, t := range edgeTypeOrder {
		if counts[t] > 0 {
			fmt.Fprintf(&b, "%s: %d\n", t, counts[t])
		}
	}

	fmt.Fprintf(&b, "\n_~%s tokens_\n", approxTokens(b.String()))
	_, err := io.WriteString(w, b.String())
	return err
}

// Compact kind and edge codes. Method takes the next free kind code.
var (
	kindCodes = map[models.NodeKind]int{
		models.KindModule: 0, models.KindClass: 1, models.KindFunction: 2, models.KindVariable: 3,
		models.KindInterface: 4, models.KindEnum: 5, models.KindMethod: 6,
	}
	edgeCodes = map[models.EdgeType]int{
		models.EdgeImport: 0, models.EdgeCall: 1, models.EdgeInherit: 2,
		models.EdgeImplements: 3, models.EdgeContains: 5,
	}
)

type compactNode struct {
	N string `json:"n"`
	T int    `json:"t"`
	F int    `json:"f"`
	L int    `json:"l"`
}

// RenderCompact writes single-line JSON with a file table, node tuples
// {n,t,f,l} and edge arrays [source, target, type, confidence].
func (r *GraphReport) RenderCompact(w io.Writer) error {
	g := r.graph()

	files := make([]string, 0)
	fileIDs := make(map[string]int)
	index := make(map[models.Key]int, len(g.Nodes))
	nodes := make([]compactNode, 0, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		id, ok := fileIDs[n.File]
		if !ok {
			id = len(files)
			fileIDs[n.File] = id
			files = append(files, r.rel(n.File))
		}
		index[n.Key()] = i
		nodes = append(nodes, compactNode{N: n.Name, T: kindCodes[n.Kind], F: id, L: n.Lines.Start})
	}

	edges := make([][4]int, 0, len(g.Edges))
	for i := range g.Edges {
		e := &g.Edges[i]
		src, ok1 := index[e.Source]
		tgt, ok2 := index[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		edges = append(edges, [4]int{src, tgt, edgeCodes[e.Type], int(e.Confidence)})
	}

	doc := struct {
		Meta  map[string]any `json:"meta"`
		Files []string       `json:"files"`
		Nodes []compactNode  `json:"nodes"`
		Edges [][4]int       `json:"edges"`
	}{
		Meta: map[string]any{
			"nodes":    len(nodes),
			"edges":    len(edges),
			"format":   "compact",
			"degraded": r.Result.Summary.Degraded,
		},
		Files: files,
		Nodes: nodes,
		Edges: edges,
	}
	return json.NewEncoder(w).Encode(doc)
}

// CacheStatsView renders parse cache statistics.
type CacheStatsView struct {
	Stats *cache.Stats
}

func (c *CacheStatsView) table() *Table {
	s := c.Stats
	rows := [][]string{
		{"Backend", string(s.Backend)},
		{"Memory entries", strconv.Itoa(s.MemoryEntries)},
		{"Disk entries", strconv.Itoa(s.DiskEntries)},
		{"Disk size", formatBytes(s.DiskBytes)},
	}
	if s.Dir != "" {
		rows = append(rows, []string{"Directory", s.Dir})
	}
	if s.Hits+s.Misses > 0 {
		rows = append(rows, []string{"Hit rate", fmt.Sprintf("%.1f%%", 100*float64(s.Hits)/float64(s.Hits+s.Misses))})
	}
	return NewTable("Parse cache", []string{"Property", "Value"}, rows, s)
}

func (c *CacheStatsView) RenderData() any { return c.Stats }

func (c *CacheStatsView) RenderText(w io.Writer, colored bool) error {
	return c.table().RenderText(w, colored)
}

func (c *CacheStatsView) RenderMarkdown(w io.Writer) error {
	return c.table().RenderMarkdown(w)
}

// approxTokens estimates the LLM token count of text at four runes per
// token, shortened to thousands past 1000.
func approxTokens(text string) string {
	n := (utf8.RuneCountInString(text) + 2) / 4
	if n < 1000 {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%.1fk", float64(n)/1000)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
