// Package types holds the core value types shared across the graph engine:
// vertex identifiers, the graph header, vertex index entries, messages and
// I/O request tokens. None of these types carry behavior beyond validation
// and simple accessors — every stateful component lives in its own package.
package types

// VertexID is a dense 32-bit identifier assigned at graph-build time.
type VertexID uint32

// WorkerIndex identifies the worker (and therefore the partition) a vertex
// id is mapped to.
type WorkerIndex uint32

// Level is the monotone, global superstep counter.
type Level uint64

// Direction selects which edges a PageVertex exposes.
type Direction byte

// Direction values. Undirected graphs only ever use Both.
const (
	In Direction = iota
	Out
	Both
)

// GraphHeader is the immutable record loaded once at startup.
type GraphHeader struct {
	Directed          bool
	VertexCount       uint64
	EdgeCount         uint64
	AdjacencyEncoding uint32
}

// VertexEntry is an immutable directory record: where a vertex's adjacency
// list lives in the graph file.
type VertexEntry struct {
	ID     VertexID
	Offset uint64
	Length uint32
}

// MessageKind enumerates the three message classes the engine moves between
// workers.
type MessageKind byte

// MessageKind values.
const (
	PointToPoint MessageKind = iota
	Multicast
	Activate
)

// Message is a single framed message addressed to one destination vertex.
// Activation messages carry no payload beyond the destination id.
type Message struct {
	Destination VertexID
	Payload     []byte
	Kind        MessageKind
}

// CompletionKind distinguishes a self-adjacency fetch from a required-
// neighbor fetch, so a worker knows which vertex-program entry point to
// invoke when the read completes.
type CompletionKind byte

// CompletionKind values.
const (
	CompletionSelf CompletionKind = iota
	CompletionNeighbors
)

// IORequest describes a pending asynchronous read of a vertex's adjacency
// bytes, bound to the vertex program that asked for it.
type IORequest struct {
	Offset     uint64
	Length     uint32
	Requester  VertexID
	Completion CompletionKind
}
