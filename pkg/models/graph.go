package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the globally unique address of a node: the owning file plus the
// node's file-local ID.
type Key struct {
	File string `json:"file" toon:"file"`
	ID   int    `json:"id" toon:"id"`
}

// String renders the key as "file#id".
func (k Key) String() string {
	return k.File + "#" + strconv.Itoa(k.ID)
}

// Compare orders keys by file path, then by local ID.
func (k Key) Compare(other Key) int {
	if c := strings.Compare(k.File, other.File); c != 0 {
		return c
	}
	switch {
	case k.ID < other.ID:
		return -1
	case k.ID > other.ID:
		return 1
	}
	return 0
}

// ParseKey parses the "file#id" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '#')
	if i < 0 {
		return Key{}, fmt.Errorf("invalid node key %q", s)
	}
	id, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Key{}, fmt.Errorf("invalid node key %q: %w", s, err)
	}
	return Key{File: s[:i], ID: id}, nil
}

// NodeKind represents the kind of code entity a node describes.
type NodeKind string

const (
	KindFunction  NodeKind = "function"
	KindMethod    NodeKind = "method"
	KindClass     NodeKind = "class"
	KindModule    NodeKind = "module"
	KindVariable  NodeKind = "variable"
	KindInterface NodeKind = "interface"
	KindEnum      NodeKind = "enum"
)

// Callable reports whether nodes of this kind can be the target of a call.
func (k NodeKind) Callable() bool {
	switch k {
	case KindFunction, KindMethod, KindClass:
		return true
	}
	return false
}

// Tag marks a node with an informational property assigned during assembly.
type Tag string

const (
	TagEntry Tag = "entry"
	TagHot   Tag = "hot"
)

// ArityUnknown is used when a parser cannot determine a parameter count.
const ArityUnknown = -1

// LineRange is an inclusive, 1-based line span.
type LineRange struct {
	Start int `json:"start" toon:"start"`
	End   int `json:"end" toon:"end"`
}

// Node represents a code entity in the dependency graph.
type Node struct {
	ID        int       `json:"id" toon:"id"`
	Name      string    `json:"name" toon:"name"`
	Kind      NodeKind  `json:"kind" toon:"kind"`
	Language  string    `json:"language" toon:"language"`
	File      string    `json:"file" toon:"file"`
	Module    string    `json:"module,omitempty" toon:"module,omitempty"`
	Lines     LineRange `json:"lines" toon:"lines"`
	Exported  bool      `json:"exported,omitempty" toon:"exported,omitempty"`
	Arity     int       `json:"arity" toon:"arity"`
	Signature string    `json:"signature,omitempty" toon:"signature,omitempty"`
	Doc       string    `json:"doc,omitempty" toon:"doc,omitempty"`
	Tags      []Tag     `json:"tags,omitempty" toon:"tags,omitempty"`
}

// Key returns the node's global key.
func (n *Node) Key() Key {
	return Key{File: n.File, ID: n.ID}
}

// HasTag reports whether the node carries tag.
func (n *Node) HasTag(tag Tag) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// EdgeType represents the type of relationship between two nodes.
type EdgeType string

const (
	EdgeCall       EdgeType = "call"
	EdgeImport     EdgeType = "import"
	EdgeInherit    EdgeType = "inherit"
	EdgeImplements EdgeType = "implements"
	EdgeContains   EdgeType = "contains"
)

// Edge is a directed relationship between two nodes, addressed by key.
type Edge struct {
	Source     Key        `json:"source" toon:"source"`
	Target     Key        `json:"target" toon:"target"`
	Type       EdgeType   `json:"type" toon:"type"`
	Context    Attrs      `json:"context,omitempty" toon:"context,omitempty"`
	Confidence Confidence `json:"confidence" toon:"confidence"`
}

// Context keys shared by resolvers and formatters.
const (
	CtxCallee    = "callee"
	CtxCallType  = "call_type"
	CtxLine      = "line"
	CtxImport    = "import"
	CtxProtocol  = "protocol"
	CtxSignature = "signature"
	CtxMatch     = "match"
)

// CrossLanguage reports whether the edge was produced by protocol matching.
func (e *Edge) CrossLanguage() bool {
	_, ok := e.Context.Get(CtxProtocol)
	return ok
}

// Compare orders edges by source, target, type, context and confidence.
func (e *Edge) Compare(other *Edge) int {
	if c := e.Source.Compare(other.Source); c != 0 {
		return c
	}
	if c := e.Target.Compare(other.Target); c != 0 {
		return c
	}
	if c := strings.Compare(string(e.Type), string(other.Type)); c != 0 {
		return c
	}
	if c := e.Context.Compare(other.Context); c != 0 {
		return c
	}
	switch {
	case e.Confidence > other.Confidence:
		return -1
	case e.Confidence < other.Confidence:
		return 1
	}
	return 0
}

// Graph is the final, deterministically ordered dependency graph.
type Graph struct {
	Nodes []Node `json:"nodes" toon:"nodes"`
	Edges []Edge `json:"edges" toon:"edges"`
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make([]Node, 0),
		Edges: make([]Edge, 0),
	}
}

// Filter returns a view of the graph without cross-language edges whose
// confidence is below min. The receiver is not modified.
func (g *Graph) Filter(min Confidence) *Graph {
	view := &Graph{
		Nodes: g.Nodes,
		Edges: make([]Edge, 0, len(g.Edges)),
	}
	for _, e := range g.Edges {
		if e.CrossLanguage() && e.Confidence < min {
			continue
		}
		view.Edges = append(view.Edges, e)
	}
	return view
}

// Node looks up a node by key using binary search over the ordered nodes.
func (g *Graph) Node(key Key) (*Node, bool) {
	lo, hi := 0, len(g.Nodes)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if g.Nodes[mid].Key().Compare(key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(g.Nodes) && g.Nodes[lo].Key() == key {
		return &g.Nodes[lo], true
	}
	return nil, false
}
