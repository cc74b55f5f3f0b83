package worker

import "sync"

// Barrier is a reusable, generation-counted rendezvous point for a fixed
// number of goroutines (§4.6 step 5: "enter barrier 1... enter barrier 2").
// Unlike sync.WaitGroup, a Barrier can be Wait()-ed on repeatedly, once per
// level, by the same set of goroutines.
type Barrier struct {
	n     int
	mu    sync.Mutex
	cond  *sync.Cond
	count int
	gen   uint64
}

// NewBarrier creates a Barrier for n participants.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until n goroutines have called Wait for the current
// generation. The goroutine that completes the generation — the last to
// arrive — runs onLast, if non-nil, before any goroutine (including
// itself) is released. This is where the engine computes the termination
// sum and advances the level counter (§4.7): exactly once per level,
// with every worker already parked and none yet past the barrier.
func (b *Barrier) Wait(onLast func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		if onLast != nil {
			onLast()
		}
		b.cond.Broadcast()
		return
	}

	for b.gen == gen {
		b.cond.Wait()
	}
}
