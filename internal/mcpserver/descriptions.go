package mcpserver

// Tool descriptions with interpretation guidance for LLMs.

func describeDependencies() string {
	return `Builds a dependency graph of functions, methods, classes and modules across
Go, Python, JavaScript, TypeScript, Java, Rust, C, C++ and C#, including links
between languages over HTTP routes, CLI commands, FFI symbols and RPC methods.

USE WHEN:
- Finding what calls a function before changing it
- Tracing a request from a frontend fetch to the backend handler
- Locating the implementation behind a subprocess, cgo or gRPC call
- Mapping entry points and hot paths of an unfamiliar repository

INTERPRETING RESULTS:
- Edge types: call, import, inherit, implements, contains
- Confidence tiers: exact > high > medium > low
- exact/high edges are direct references or unambiguous protocol matches
- medium edges matched by name with a compatible arity or a fuzzy route
- low edges are guesses; set min_confidence to medium to hide them
- Cross-language edges carry protocol and signature context
- degraded: true means the deadline expired and the graph is partial
- Nodes tagged entry are exported and never called inside the analyzed files
- Nodes tagged hot match a configured hint or rank highest by PageRank over calls

METRICS RETURNED:
- Graph: nodes (file, name, kind, lines, arity) and edges with confidence
- Summary: files parsed, cache hits, skipped files with reasons
- Summary: resolved and unresolved call sites and imports
- Summary: cross-language edge count, cycles, connected components`
}

func describeCacheStats() string {
	return `Reports the state of the parse cache used by analyze_dependencies.

USE WHEN:
- Checking whether repeated analyses reuse earlier parse results
- Diagnosing slow runs on large repositories

INTERPRETING RESULTS:
- A high hit rate means most files were unchanged since the last run
- backend memory means no persistent store is in use
- Entries are invalidated by content hash, so stale results are never served

METRICS RETURNED:
- backend, dir, memory_entries, disk_entries, disk_bytes
- hits, misses and stores since the server started`
}
