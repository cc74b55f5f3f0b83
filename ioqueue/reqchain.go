package ioqueue

import (
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/outofforest/mass"
)

// maxChunkSize bounds how many completions a single Reader.Count call
// reports ready at once, keeping the consumer's per-iteration work bounded.
const maxChunkSize = 96

// NewCompletion returns a completion record drawn from massC, ready to be
// filled in by the I/O backend and pushed onto a CompletionChain.
func NewCompletion(massC *mass.Mass[Completion]) *Completion {
	return massC.New()
}

// Completion is a single finished read: either the adjacency bytes the
// requesting vertex program asked for, or the error that read failed with
// (§7: I/O errors are fatal, so Err is never recovered from, only reported).
type Completion struct {
	Token   IORequestToken
	Buffer  []byte
	Err     error
	Release func()
	Next    *Completion
}

// CompletionChain is a lock-free, single-producer/single-consumer chain of
// finished reads (§4.5: "On completion... dispatched to the requesting
// vertex program"). The I/O backend (the uring completion poller, or the
// synchronous fallback's worker pool) is the sole producer; the owning
// Worker is the sole consumer, draining it between vertex dispatches
// exactly as the teacher's pipeline drains transaction requests between
// commit stages.
func NewCompletionChain() *CompletionChain {
	head := &Completion{}
	return &CompletionChain{
		tail:           &head,
		availableCount: lo.ToPtr[uint64](0),
	}
}

// CompletionChain is the producer side of the chain.
type CompletionChain struct {
	tail           **Completion
	availableCount *uint64
	count          uint64
}

// Push appends c to the chain. Called by the I/O backend as each read
// finishes.
func (c *CompletionChain) Push(item *Completion) {
	*c.tail = item
	c.tail = &item.Next

	c.count++
	// Publish in small batches rather than one atomic add per completion,
	// amortizing the cost of cross-goroutine visibility.
	if c.count == 8 {
		atomic.AddUint64(c.availableCount, c.count)
		c.count = 0
	}
}

// Flush publishes any buffered-but-unpublished completions immediately.
// Queue's read callback calls it right after each Push, so a just-pushed
// completion never sits unpublished in the producer's local batch.
func (c *CompletionChain) Flush() {
	if c.count > 0 {
		atomic.AddUint64(c.availableCount, c.count)
		c.count = 0
	}
}

// NewCompletionReader creates the (sole) consumer side of the chain.
func (c *CompletionChain) NewCompletionReader() *CompletionReader {
	return &CompletionReader{
		head:           c.tail,
		availableCount: c.availableCount,
		processedCount: lo.ToPtr[uint64](0),
	}
}

// CompletionReader reads completions off a CompletionChain.
type CompletionReader struct {
	head           **Completion
	availableCount *uint64
	processedCount *uint64

	currentAvailableCount uint64
	currentProcessedCount uint64
}

// Count returns how many completions are ready to read right now, without
// blocking. It never blocks: a worker calls it between vertex dispatches
// and simply finds zero when nothing has completed yet (§5: "the worker
// itself polls that queue between vertex dispatches").
func (r *CompletionReader) Count() uint64 {
	atomic.StoreUint64(r.processedCount, r.currentProcessedCount)

	r.currentAvailableCount = atomic.LoadUint64(r.availableCount)
	if toProcess := r.currentAvailableCount - r.currentProcessedCount; toProcess > 0 {
		if toProcess > maxChunkSize {
			return maxChunkSize
		}
		return toProcess
	}
	return 0
}

// Wait blocks until at least one completion is ready, polling at a fixed
// interval. Used when the worker has I/O outstanding and cannot submit
// more work until a read completes.
func (r *CompletionReader) Wait() {
	for r.Count() == 0 {
		time.Sleep(10 * time.Microsecond)
	}
}

// Read reads the next completion from the chain. The caller must have
// observed a non-zero Count first.
func (r *CompletionReader) Read() *Completion {
	h := *r.head
	r.head = &h.Next
	r.currentProcessedCount++
	return h
}
