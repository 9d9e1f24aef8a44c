package models

// SchemaVersion is the current ParseResult/cache format version. Bump it
// whenever the shape or meaning of any parse output changes; cached entries
// written under another version are discarded and reparsed.
const SchemaVersion = 3

// Protocol tags a cross-language invocation mechanism.
type Protocol string

const (
	ProtocolNone Protocol = ""
	ProtocolHTTP Protocol = "http"
	ProtocolCLI  Protocol = "cli"
	ProtocolFFI  Protocol = "ffi"
	ProtocolRPC  Protocol = "rpc"
)

// Protocols lists every protocol in a fixed order.
var Protocols = []Protocol{ProtocolHTTP, ProtocolCLI, ProtocolFFI, ProtocolRPC}

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolCLI, ProtocolFFI, ProtocolRPC:
		return true
	}
	return false
}

// CallType classifies the syntactic shape of a call site.
type CallType string

const (
	CallSimple      CallType = "simple"      // fn()
	CallMethod      CallType = "method"      // obj.method()
	CallQualified   CallType = "qualified"   // module.fn()
	CallAttribute   CallType = "attribute"   // obj.attr.method()
	CallDynamic     CallType = "dynamic"     // computed()
	CallConstructor CallType = "constructor" // new T() / T()
)

// Metadata keys used on protocol call sites and exports.
const (
	MetaMethod  = "method"
	MetaPath    = "path"
	MetaURL     = "url"
	MetaCommand = "command"
	MetaSymbol  = "symbol"
	MetaService = "service"
	MetaRPC     = "rpc"
)

// CallSite is one unresolved invocation extracted by a parser.
type CallSite struct {
	Caller   Key      `json:"caller" toon:"caller"`
	Callee   string   `json:"callee" toon:"callee"`
	Raw      string   `json:"raw,omitempty" toon:"raw,omitempty"`
	Line     int      `json:"line" toon:"line"`
	CallType CallType `json:"call_type,omitempty" toon:"call_type,omitempty"`
	Arity    int      `json:"arity" toon:"arity"`
	Protocol Protocol `json:"protocol,omitempty" toon:"protocol,omitempty"`
	Metadata Attrs    `json:"metadata,omitempty" toon:"metadata,omitempty"`
}

// Import is a module-level import statement awaiting resolution.
type Import struct {
	Module Key    `json:"module" toon:"module"`
	Path   string `json:"path" toon:"path"`
	Line   int    `json:"line" toon:"line"`
}

// NodeExport declares a cross-language entrypoint implemented by a node.
type NodeExport struct {
	Node       Key      `json:"node" toon:"node"`
	Protocol   Protocol `json:"protocol" toon:"protocol"`
	Signature  string   `json:"signature" toon:"signature"`
	Attributes Attrs    `json:"attributes,omitempty" toon:"attributes,omitempty"`
}

// ParseResult is the complete, self-contained parser output for one file.
type ParseResult struct {
	SchemaVersion int          `json:"schema_version" toon:"schema_version"`
	Path          string       `json:"path" toon:"path"`
	Language      string       `json:"language" toon:"language"`
	Module        string       `json:"module" toon:"module"`
	Nodes         []Node       `json:"nodes" toon:"nodes"`
	Edges         []Edge       `json:"edges,omitempty" toon:"edges,omitempty"`
	CallSites     []CallSite   `json:"call_sites,omitempty" toon:"call_sites,omitempty"`
	Imports       []Import     `json:"imports,omitempty" toon:"imports,omitempty"`
	Exports       []NodeExport `json:"exports,omitempty" toon:"exports,omitempty"`
}

// NewParseResult creates an empty result stamped with the current schema version.
func NewParseResult(path, language, module string) *ParseResult {
	return &ParseResult{
		SchemaVersion: SchemaVersion,
		Path:          path,
		Language:      language,
		Module:        module,
		Nodes:         make([]Node, 0),
	}
}

// AddNode appends a node, assigning the next file-local ID, and returns its key.
func (r *ParseResult) AddNode(n Node) Key {
	n.ID = len(r.Nodes)
	n.File = r.Path
	if n.Language == "" {
		n.Language = r.Language
	}
	if n.Module == "" {
		n.Module = r.Module
	}
	r.Nodes = append(r.Nodes, n)
	return n.Key()
}

// Rebase rewrites every key in the result to reference path. It is used when
// a result produced for one path (e.g. by an external tool) is attached to
// another.
func (r *ParseResult) Rebase(path string) {
	if r.Path == path {
		return
	}
	old := r.Path
	fix := func(k Key) Key {
		if k.File == old || k.File == "" {
			k.File = path
		}
		return k
	}
	r.Path = path
	for i := range r.Nodes {
		r.Nodes[i].File = path
	}
	for i := range r.Edges {
		r.Edges[i].Source = fix(r.Edges[i].Source)
		r.Edges[i].Target = fix(r.Edges[i].Target)
	}
	for i := range r.CallSites {
		r.CallSites[i].Caller = fix(r.CallSites[i].Caller)
	}
	for i := range r.Imports {
		r.Imports[i].Module = fix(r.Imports[i].Module)
	}
	for i := range r.Exports {
		r.Exports[i].Node = fix(r.Exports[i].Node)
	}
}
