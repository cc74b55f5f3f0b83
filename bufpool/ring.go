package bufpool

import "github.com/pkg/errors"

// newRing preallocates a fixed-capacity circular buffer of free slot
// handles. Used by MessageBufferPool and IOBufferPool to hand out and
// reclaim message/I/O buffer slots
// without any allocation on the hot path (§4.4 buffer sizing: "Pools are
// pre-allocated per worker to avoid mid-level allocation").
func newRing[T any](capacity uint64) (*ring[T], []T) {
	slots := make([]T, capacity)
	return &ring[T]{
		slots:     slots,
		capacity:  capacity,
		commitPtr: capacity,
	}, slots
}

type ring[T any] struct {
	slots []T

	capacity                  uint64
	getPtr, commitPtr, putPtr uint64
}

// Get takes one free slot handle out of the ring.
func (r *ring[T]) Get() (T, error) {
	if r.getPtr == r.commitPtr {
		var zero T
		return zero, errors.New("no free slot to get")
	}
	if r.getPtr == r.capacity {
		r.getPtr = 0
	}
	s := r.slots[r.getPtr]
	r.getPtr++
	return s, nil
}

// Put returns a slot handle to the ring.
func (r *ring[T]) Put(item T) {
	if r.putPtr == r.capacity {
		r.putPtr = 0
	}
	if r.putPtr == r.getPtr {
		// This is really critical because it means more slots were
		// returned than were ever taken out.
		panic("no space left in the ring")
	}

	r.slots[r.putPtr] = item
	r.putPtr++
}

// Commit makes every slot handed out since the last Commit available to
// Get.
func (r *ring[T]) Commit() {
	r.commitPtr = r.putPtr - 1
}
