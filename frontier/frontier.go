// Package frontier implements the per-worker activation bitmaps (§3 Data
// model: "two per-worker bitmaps over the vertex ids in that partition:
// current... and next"). A compressed roaring bitmap is a natural fit for a
// sparse, frequently-membership-tested, frequently-iterated set of vertex
// ids — the same role github.com/RoaringBitmap/roaring plays for sparse
// attribute sets elsewhere in the retrieved pack.
package frontier

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/outofforest/strata/types"
)

// Frontier holds one worker's current and next activation bitmaps.
// Invariant (§3): a vertex appears in at most one of current/next per
// worker per level.
type Frontier struct {
	current *roaring.Bitmap
	next    *roaring.Bitmap
}

// New creates an empty Frontier.
func New() *Frontier {
	return &Frontier{
		current: roaring.New(),
		next:    roaring.New(),
	}
}

// ActivateCurrent adds id to the current level's frontier. Used only by
// Start/StartAll before the first level runs.
func (f *Frontier) ActivateCurrent(id types.VertexID) {
	f.current.Add(uint32(id))
}

// ActivateNext adds id to next level's frontier (§4.6 step 1: activation
// messages set the next-bit before the barrier). Activating the same id
// more than once in a level is idempotent (§8 invariant 5) because Add on
// a bitmap is itself idempotent.
func (f *Frontier) ActivateNext(id types.VertexID) {
	f.next.Add(uint32(id))
}

// CurrentIsEmpty reports whether the current frontier has no vertices left
// to dispatch.
func (f *Frontier) CurrentIsEmpty() bool {
	return f.current.IsEmpty()
}

// NextCount returns the number of vertices queued for next level — fed into
// the engine's termination detector (§4.7: "at barrier 1 each worker
// reports |next|").
func (f *Frontier) NextCount() uint64 {
	return f.next.GetCardinality()
}

// Swap moves next into current and clears next. Must be called only
// between barrier 1 and barrier 2 (§4.6 step 5), under the engine's swap
// mutex.
func (f *Frontier) Swap() {
	f.current = f.next
	f.next = roaring.New()
}

// Current returns the current frontier's vertex ids in ascending order
// (§4.6 tie-break: "workers process in ascending id order... unless a
// user-provided scheduler reorders the batch").
func (f *Frontier) Current() []types.VertexID {
	card := f.current.GetCardinality()
	if card == 0 {
		return nil
	}
	ids := make([]types.VertexID, 0, card)
	it := f.current.Iterator()
	for it.HasNext() {
		ids = append(ids, types.VertexID(it.Next()))
	}
	return ids
}

// RemoveCurrent removes id from the current frontier once it has been
// dispatched.
func (f *Frontier) RemoveCurrent(id types.VertexID) {
	f.current.Remove(uint32(id))
}
