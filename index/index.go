// Package index implements the graph index (§4.2): a random-access
// directory from vertex id to (offset, length) in the graph file, plus the
// per-vertex user compute state. It is built once, before Start, and owns
// the compute-vertex state array for the engine's lifetime (§3 lifecycle).
package index

import (
	"unsafe"

	"github.com/outofforest/photon"

	strataerrors "github.com/outofforest/strata/errors"
	"github.com/outofforest/strata/store"
	"github.com/outofforest/strata/types"
)

// onDiskHeader mirrors the graph index file header (§6): directed flag,
// vertex count, edge count, adjacency encoding version. Zero-copy cast via
// photon, so field order and size are load-bearing wire format.
type onDiskHeader struct {
	Directed          uint8
	_                 [7]byte
	VertexCount       uint64
	EdgeCount         uint64
	AdjacencyEncoding uint32
	_                 [4]byte
}

const headerSize = int(unsafe.Sizeof(onDiskHeader{}))

// onDiskEntry mirrors one per-vertex record in the index file, in id order
// (§6: "per-vertex (offset, length) records in id order").
type onDiskEntry struct {
	ID     uint32
	_      [4]byte
	Offset uint64
	Length uint32
	_      [4]byte
}

const entrySize = int(unsafe.Sizeof(onDiskEntry{}))

// Index is the graph index. S is the caller's compute-vertex state type
// (§3: "Compute-vertex state — user-defined opaque record; exists exactly
// once per vertex id for the engine's lifetime").
type Index[S any] struct {
	header  types.GraphHeader
	entries []onDiskEntry
	state   []S
	minID   types.VertexID
	maxID   types.VertexID
}

// New builds an Index by reading the header and per-vertex records out of
// idx, zero-copy, and allocating one S per vertex. newState constructs the
// initial state for each vertex id; it may be nil, in which case S's zero
// value is used.
func New[S any](idx store.Store, newState func(id types.VertexID) S) (*Index[S], error) {
	raw := idx.Bytes()
	if len(raw) < headerSize {
		return nil, strataerrors.NewConfigError(
			strataerrors.Errorf("index file too small for header: %d bytes", len(raw)))
	}

	hdr := photon.FromBytes[onDiskHeader](raw[:headerSize])
	header := types.GraphHeader{
		Directed:          hdr.Directed != 0,
		VertexCount:       hdr.VertexCount,
		EdgeCount:         hdr.EdgeCount,
		AdjacencyEncoding: hdr.AdjacencyEncoding,
	}

	needed := headerSize + int(header.VertexCount)*entrySize
	if len(raw) < needed {
		return nil, strataerrors.NewConfigError(strataerrors.Errorf(
			"index file declares %d vertices but only has room for %d", header.VertexCount,
			(len(raw)-headerSize)/entrySize))
	}

	var entries []onDiskEntry
	if header.VertexCount > 0 {
		entries = photon.SliceFromPointer[onDiskEntry](
			unsafe.Pointer(&raw[headerSize]), int(header.VertexCount))
	}

	state := make([]S, header.VertexCount)
	if newState != nil {
		for i := range entries {
			state[i] = newState(types.VertexID(entries[i].ID))
		}
	}

	idxObj := &Index[S]{
		header:  header,
		entries: entries,
		state:   state,
	}
	if len(entries) > 0 {
		idxObj.minID = types.VertexID(entries[0].ID)
		idxObj.maxID = types.VertexID(entries[len(entries)-1].ID)
	}

	var prevOffset uint64
	for i, e := range entries {
		if e.Offset < prevOffset {
			return nil, strataerrors.NewConfigError(strataerrors.Errorf(
				"index entry %d has non-monotonic offset %d after %d", i, e.Offset, prevOffset))
		}
		prevOffset = e.Offset
	}

	return idxObj, nil
}

// Header returns the graph header.
func (ix *Index[S]) Header() types.GraphHeader {
	return ix.header
}

// MinID returns the smallest vertex id in the index.
func (ix *Index[S]) MinID() types.VertexID {
	return ix.minID
}

// MaxID returns the largest vertex id in the index.
func (ix *Index[S]) MaxID() types.VertexID {
	return ix.maxID
}

// NumVertices returns the number of vertices in the index.
func (ix *Index[S]) NumVertices() int {
	return len(ix.entries)
}

// Locate returns the (offset, length) of id's adjacency bytes in the graph
// file. id is assumed valid (dense, zero-based within NumVertices); callers
// hold valid ids by construction (§4.2).
func (ix *Index[S]) Locate(id types.VertexID) (uint64, uint32) {
	e := ix.entries[id]
	return e.Offset, e.Length
}

// Vertex returns a mutable pointer to id's compute-vertex state. Worker-
// local only: the caller must be the worker owning id's partition (§3
// invariant: "no two workers ever address the same compute-vertex
// mutably"). No bounds checking is performed; callers hold valid ids by
// construction.
func (ix *Index[S]) Vertex(id types.VertexID) *S {
	return &ix.state[id]
}

// VertexReadOnly returns a pointer to id's compute-vertex state for a
// cross-worker, read-only observation (§6 get_vertex / §9 Open Question).
// The engine does not enforce read-only usage: callers must ensure they
// only read values stable across the level boundary, e.g. the previous
// level's published value.
func (ix *Index[S]) VertexReadOnly(id types.VertexID) *S {
	return &ix.state[id]
}

// Entries returns the vertex ids covered by this index, in id order — used
// by Start/StartAll to seed the initial frontier.
func (ix *Index[S]) Entries() []types.VertexID {
	ids := make([]types.VertexID, len(ix.entries))
	for i, e := range ix.entries {
		ids[i] = types.VertexID(e.ID)
	}
	return ids
}
