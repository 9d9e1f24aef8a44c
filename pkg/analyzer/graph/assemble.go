package graph

import (
	"math"
	"path"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/panbanda/embargo/pkg/models"
)

// HotOptions selects which nodes are tagged hot.
type HotOptions struct {
	// Hints are node names, name globs, or "file:name" globs.
	Hints []string
	// TopPercent tags that share of called nodes ranked by PageRank over
	// call edges. Zero disables ranking.
	TopPercent float64
}

// Assembly is the assembler's output.
type Assembly struct {
	Graph      *models.Graph
	Dropped    int // edges with an endpoint missing from the graph
	Duplicates int
	Cycles     [][]models.Key
	Components int
}

// Assemble merges per-file nodes and edges with resolved edges into the
// final ordered graph. Node tags are recomputed; the inputs are not mutated.
func Assemble(results []*models.ParseResult, resolved []models.Edge, hot HotOptions) *Assembly {
	g := models.NewGraph()
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, n := range r.Nodes {
			n.Tags = nil
			g.Nodes = append(g.Nodes, n)
		}
	}
	slices.SortStableFunc(g.Nodes, func(a, b models.Node) int {
		return a.Key().Compare(b.Key())
	})
	g.Nodes = slices.CompactFunc(g.Nodes, func(a, b models.Node) bool {
		return a.Key() == b.Key()
	})

	pos := make(map[models.Key]uint32, len(g.Nodes))
	for i := range g.Nodes {
		pos[g.Nodes[i].Key()] = uint32(i)
	}

	a := &Assembly{Graph: g}
	keep := func(e models.Edge) {
		_, okS := pos[e.Source]
		_, okT := pos[e.Target]
		if !okS || !okT {
			a.Dropped++
			return
		}
		g.Edges = append(g.Edges, e)
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, e := range r.Edges {
			keep(e)
		}
	}
	for _, e := range resolved {
		keep(e)
	}

	// Compare puts the highest confidence first among equal tuples, so
	// compacting keeps it.
	slices.SortStableFunc(g.Edges, func(x, y models.Edge) int { return x.Compare(&y) })
	before := len(g.Edges)
	g.Edges = slices.CompactFunc(g.Edges, func(x, y models.Edge) bool {
		return x.Source == y.Source && x.Target == y.Target && x.Type == y.Type && x.Context.Compare(y.Context) == 0
	})
	a.Duplicates = before - len(g.Edges)

	tagEntries(g, pos)
	tagHot(g, pos, hot)
	a.Cycles, a.Components = structure(g, pos)
	return a
}

// tagEntries marks exported nodes that nothing in their own language calls.
func tagEntries(g *models.Graph, pos map[models.Key]uint32) {
	called := roaring.New()
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Type != models.EdgeCall {
			continue
		}
		src, tgt := pos[e.Source], pos[e.Target]
		if g.Nodes[src].Language == g.Nodes[tgt].Language {
			called.Add(tgt)
		}
	}
	for i := range g.Nodes {
		if g.Nodes[i].Exported && !called.Contains(uint32(i)) {
			g.Nodes[i].Tags = append(g.Nodes[i].Tags, models.TagEntry)
		}
	}
}

func tagHot(g *models.Graph, pos map[models.Key]uint32, opts HotOptions) {
	hot := roaring.New()
	if len(opts.Hints) > 0 {
		for i := range g.Nodes {
			if g.Nodes[i].Kind == models.KindModule {
				continue
			}
			for _, h := range opts.Hints {
				if MatchHint(h, &g.Nodes[i]) {
					hot.Add(uint32(i))
					break
				}
			}
		}
	}

	if opts.TopPercent > 0 && len(g.Nodes) > 0 {
		var calls [][2]int
		inDegree := make([]int, len(g.Nodes))
		for i := range g.Edges {
			e := &g.Edges[i]
			if e.Type != models.EdgeCall || e.Source == e.Target {
				continue
			}
			s, t := int(pos[e.Source]), int(pos[e.Target])
			calls = append(calls, [2]int{s, t})
			inDegree[t]++
		}
		rank := sparsePageRank(len(g.Nodes), calls, 0.85, 1e-9)

		var candidates []int
		for i, d := range inDegree {
			if d > 0 {
				candidates = append(candidates, i)
			}
		}
		// Node order is key order, so a stable sort breaks rank ties by key.
		slices.SortStableFunc(candidates, func(x, y int) int {
			switch {
			case rank[x] > rank[y]:
				return -1
			case rank[x] < rank[y]:
				return 1
			}
			return 0
		})
		n := int(math.Ceil(float64(len(candidates)) * opts.TopPercent / 100))
		for _, i := range candidates[:min(n, len(candidates))] {
			hot.Add(uint32(i))
		}
	}

	it := hot.Iterator()
	for it.HasNext() {
		i := it.Next()
		g.Nodes[i].Tags = append(g.Nodes[i].Tags, models.TagHot)
	}
}

// MatchHint reports whether a hot hint selects n. A hint containing ':' is
// split at the last colon into a file glob and a name glob; the file glob
// may match the full path, the base name, or a path suffix.
func MatchHint(hint string, n *models.Node) bool {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return false
	}
	if i := strings.LastIndexByte(hint, ':'); i >= 0 {
		filePat, namePat := hint[:i], hint[i+1:]
		return globMatch(namePat, n.Name) && fileMatch(filePat, n.File)
	}
	return globMatch(hint, n.Name)
}

func globMatch(pattern, s string) bool {
	if pattern == s {
		return true
	}
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}

func fileMatch(pattern, file string) bool {
	file = strings.ReplaceAll(file, "\\", "/")
	if globMatch(pattern, file) || globMatch(pattern, path.Base(file)) {
		return true
	}
	parts := strings.Split(file, "/")
	depth := strings.Count(pattern, "/") + 1
	if depth <= len(parts) {
		return globMatch(pattern, strings.Join(parts[len(parts)-depth:], "/"))
	}
	return false
}

// sparsePageRank computes PageRank by power iteration over an edge list.
// Iteration order is fixed, so equal inputs give bit-identical ranks.
func sparsePageRank(n int, edges [][2]int, damping, tolerance float64) []float64 {
	if n == 0 {
		return nil
	}

	outNeighbors := make([][]int, n)
	for _, e := range edges {
		outNeighbors[e[0]] = append(outNeighbors[e[0]], e[1])
	}

	rank := make([]float64, n)
	newRank := make([]float64, n)
	initial := 1.0 / float64(n)
	for i := range rank {
		rank[i] = initial
	}
	teleport := (1.0 - damping) / float64(n)

	for iter := 0; iter < 100; iter++ {
		dangling := 0.0
		for i := 0; i < n; i++ {
			if len(outNeighbors[i]) == 0 {
				dangling += rank[i]
			}
		}
		base := teleport + damping*dangling/float64(n)
		for i := range newRank {
			newRank[i] = base
		}
		for i := 0; i < n; i++ {
			if deg := len(outNeighbors[i]); deg > 0 {
				contrib := damping * rank[i] / float64(deg)
				for _, j := range outNeighbors[i] {
					newRank[j] += contrib
				}
			}
		}

		diff := 0.0
		for i := range rank {
			diff += math.Abs(newRank[i] - rank[i])
		}
		rank, newRank = newRank, rank
		if diff < tolerance {
			break
		}
	}
	return rank
}

// structure reports dependency cycles over call and import edges, and the
// number of weakly connected components over all edges.
func structure(g *models.Graph, pos map[models.Key]uint32) ([][]models.Key, int) {
	if len(g.Nodes) == 0 {
		return nil, 0
	}
	directed := simple.NewDirectedGraph()
	undirected := simple.NewUndirectedGraph()
	for i := range g.Nodes {
		directed.AddNode(simple.Node(i))
		undirected.AddNode(simple.Node(i))
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		from, to := int64(pos[e.Source]), int64(pos[e.Target])
		if from == to {
			continue
		}
		if e.Type == models.EdgeCall || e.Type == models.EdgeImport {
			directed.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		}
		if !undirected.HasEdgeBetween(from, to) {
			undirected.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		}
	}

	var cycles [][]models.Key
	for _, scc := range topo.TarjanSCC(directed) {
		if len(scc) < 2 {
			continue
		}
		keys := make([]models.Key, 0, len(scc))
		for _, n := range scc {
			keys = append(keys, g.Nodes[n.ID()].Key())
		}
		slices.SortFunc(keys, models.Key.Compare)
		cycles = append(cycles, keys)
	}
	slices.SortFunc(cycles, func(a, b []models.Key) int {
		return a[0].Compare(b[0])
	})

	return cycles, len(topo.ConnectedComponents(undirected))
}
