// Package pagevertex implements the zero-copy, read-only view over a
// vertex's adjacency bytes once they have been delivered by the I/O
// pipeline (§4.3). The view borrows from the I/O buffer for the duration of
// one dispatch; it must not outlive the byte range it was built from.
package pagevertex

import (
	"unsafe"

	"github.com/outofforest/photon"

	strataerrors "github.com/outofforest/strata/errors"
	"github.com/outofforest/strata/types"
)

// onDiskNeighbor mirrors one neighbor record: a 4-byte vertex id tagged
// with the direction it was stored under. Undirected graphs only ever use
// Both.
type onDiskNeighbor struct {
	ID        uint32
	Direction uint8
	_         [3]byte
}

const neighborSize = int(unsafe.Sizeof(onDiskNeighbor{}))

// PageVertex is a read-only view over one vertex's adjacency byte range.
type PageVertex struct {
	directed  bool
	neighbors []onDiskNeighbor
}

// New builds a PageVertex over raw, a byte range that has just been
// delivered by the I/O subsystem. raw must not be mutated or reused while
// the returned PageVertex (or any iterator obtained from it) is alive.
func New(raw []byte, directed bool) (*PageVertex, error) {
	if len(raw)%neighborSize != 0 {
		return nil, strataerrors.NewIOError(strataerrors.Errorf(
			"adjacency byte range of length %d is not a multiple of record size %d", len(raw), neighborSize))
	}

	var neighbors []onDiskNeighbor
	if len(raw) > 0 {
		neighbors = photon.SliceFromPointer[onDiskNeighbor](unsafe.Pointer(&raw[0]), len(raw)/neighborSize)
	}

	return &PageVertex{directed: directed, neighbors: neighbors}, nil
}

func (pv *PageVertex) matches(direction types.Direction, stored uint8) bool {
	if !pv.directed {
		return true
	}
	if direction == types.Both {
		return true
	}
	return types.Direction(stored) == direction
}

// NumEdges returns the number of neighbor records stored for direction.
func (pv *PageVertex) NumEdges(direction types.Direction) int {
	if !pv.directed || direction == types.Both {
		return len(pv.neighbors)
	}
	n := 0
	for _, nb := range pv.neighbors {
		if pv.matches(direction, nb.Direction) {
			n++
		}
	}
	return n
}

// NeighborIter returns a restartable iterator over neighbor ids matching
// direction. For undirected graphs only Both is meaningful; any direction
// value yields all neighbors.
func (pv *PageVertex) NeighborIter(direction types.Direction) *NeighborIterator {
	return &NeighborIterator{pv: pv, direction: direction}
}

// NeighborIterator lazily walks a PageVertex's neighbor records. It must not
// outlive the PageVertex (and therefore the backing byte range) it was
// created from.
type NeighborIterator struct {
	pv        *PageVertex
	direction types.Direction
	pos       int
}

// Next advances the iterator and returns the next matching neighbor id. The
// second return value is false once the iterator is exhausted.
func (it *NeighborIterator) Next() (types.VertexID, bool) {
	for it.pos < len(it.pv.neighbors) {
		nb := it.pv.neighbors[it.pos]
		it.pos++
		if it.pv.matches(it.direction, nb.Direction) {
			return types.VertexID(nb.ID), true
		}
	}
	return 0, false
}

// Restart rewinds the iterator to its start, matching §4.3's
// "restartable" requirement.
func (it *NeighborIterator) Restart() {
	it.pos = 0
}
