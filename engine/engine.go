// Package engine implements the level orchestrator (§4.7): it owns the
// level counter, the termination detector, the two-barrier swap, and the
// lifecycle operations (Start, StartAll, ProgressNextLevel, Wait4Complete)
// that drive every worker.Worker through bulk-synchronous levels until a
// fixed point is reached.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/outofforest/parallel"

	"github.com/outofforest/strata/index"
	"github.com/outofforest/strata/ioqueue"
	"github.com/outofforest/strata/message"
	"github.com/outofforest/strata/partition"
	"github.com/outofforest/strata/types"
	"github.com/outofforest/strata/vertexprogram"
	"github.com/outofforest/strata/worker"
)

// DefaultInboxCapacity bounds how many frames a worker's per-source inbox
// queue buffers before a sender blocks (§5: "message send when the
// destination's inbox is full" is a suspension point).
const DefaultInboxCapacity = 64

// New builds an Engine over partitioner's partitions, reading adjacency
// through reader (shared across every worker's own I/O request queue) and
// dispatching programFactory's programs. scheduler may be nil.
//
// strictMode governs how a ProtocolError (§7) is handled: true aborts the
// engine run the moment any worker's vertex program violates the POST_SELF
// contract; false (the default, matching the zero value) logs the
// violation through github.com/outofforest/logger and skips the offending
// vertex instead.
func New[S any](
	partitioner partition.Partitioner,
	idx *index.Index[S],
	reader ioqueue.Reader,
	ioConfig ioqueue.Config,
	programFactory func(types.VertexID) vertexprogram.Program[S],
	scheduler vertexprogram.Scheduler,
	strictMode bool,
) *Engine[S] {
	numWorkers := int(partitioner.NumWorkers())

	inboxes := make([]*message.Inbox, numWorkers)
	for i := range inboxes {
		inboxes[i] = message.NewInbox(numWorkers, DefaultInboxCapacity)
	}

	workers := make([]*worker.Worker[S], numWorkers)
	for i := range workers {
		q := ioqueue.New(reader, idx, ioConfig)
		workers[i] = worker.NewWorker[S](
			types.WorkerIndex(i), partitioner, idx, q, inboxes, programFactory, scheduler, strictMode)
	}

	return &Engine[S]{
		partitioner: partitioner,
		idx:         idx,
		workers:     workers,
		barrier1:    worker.NewBarrier(numWorkers),
		barrier2:    worker.NewBarrier(numWorkers),
	}
}

// Engine is the level orchestrator. One Engine runs exactly one graph to
// completion; it is not reused across runs.
type Engine[S any] struct {
	partitioner partition.Partitioner
	idx         *index.Index[S]
	workers     []*worker.Worker[S]

	level      atomic.Uint64
	nextSum    atomic.Uint64
	terminated atomic.Bool
	stop       atomic.Bool

	barrier1 *worker.Barrier
	barrier2 *worker.Barrier
	swapMu   sync.Mutex
}

// Start seeds the current frontier of each id's owning worker (§4.7:
// "seeds current of the owning workers with those ids"). Must be called
// before Wait4Complete.
func (e *Engine[S]) Start(ids []types.VertexID) {
	for _, id := range ids {
		e.workers[e.partitioner.Map(id)].Activate(id)
	}
}

// StartAll seeds every vertex id in the index (§4.7: "seeds every vertex
// id").
func (e *Engine[S]) StartAll() {
	e.Start(e.idx.Entries())
}

// ProgressNextLevel reports whether the fixed point has been reached: every
// worker's next frontier was empty at the prior barrier (§4.7).
func (e *Engine[S]) ProgressNextLevel() bool {
	return e.terminated.Load()
}

// Wait4Complete runs every worker until ProgressNextLevel would return
// true, then signals them to exit and returns. It blocks the calling
// goroutine for the engine's entire run. A fatal I/O error or vertex
// program panic in any worker aborts every other worker (§4.7: "an
// unrecoverable program error aborts the engine").
func (e *Engine[S]) Wait4Complete(ctx context.Context) error {
	gate := &worker.Gate{
		Barrier1:   e.barrier1,
		Barrier2:   e.barrier2,
		SwapMu:     &e.swapMu,
		ReportNext: e.reportNext,
		OnBarrier1: e.onBarrier1,
		Level:      func() types.Level { return types.Level(e.level.Load()) },
		Stopped:    e.stop.Load,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i, w := range e.workers {
			i, w := i, w
			spawn(fmt.Sprintf("worker-%d", i), parallel.Fail, func(ctx context.Context) error {
				return w.Run(ctx, gate)
			})
		}
		return nil
	})
}

// reportNext accumulates one worker's |next| into the termination sum
// (§4.7: "at barrier 1 each worker reports |next|; the engine sums
// atomically"). By the time onBarrier1 runs, every worker has already
// called this, since each does so before entering Barrier1.Wait.
func (e *Engine[S]) reportNext(n uint64) {
	e.nextSum.Add(n)
}

// onBarrier1 runs exactly once per level, as the last worker's call to
// Barrier1.Wait completes the generation: it consumes the termination sum
// and advances the level counter (§4.7: "zero -> global termination").
func (e *Engine[S]) onBarrier1() {
	sum := e.nextSum.Swap(0)
	if sum == 0 {
		e.terminated.Store(true)
		e.stop.Store(true)
	}
	e.level.Add(1)
}
