// Package worker implements one partition's worker (§4.6): it owns the
// activation frontier, the I/O request queue, the outbound message
// senders, and the per-vertex dispatch state machine that drives a user's
// vertexprogram.Program through PreRun/OnSelf/OnNeighbors/OnMessage.
package worker

import (
	"context"
	"sync"

	"github.com/outofforest/logger"
	"go.uber.org/zap"

	"github.com/outofforest/strata/bufpool"
	strataerrors "github.com/outofforest/strata/errors"
	"github.com/outofforest/strata/frontier"
	"github.com/outofforest/strata/index"
	"github.com/outofforest/strata/ioqueue"
	"github.com/outofforest/strata/message"
	"github.com/outofforest/strata/pagevertex"
	"github.com/outofforest/strata/partition"
	"github.com/outofforest/strata/types"
	"github.com/outofforest/strata/vertexprogram"
)

// messageBufferPoolCapacity bounds how many in-flight pooled payload buffers
// a worker's message senders may hold checked out at once: one per peer
// worker's point-to-point flush plus one per peer's multicast buffer,
// comfortably covered with headroom for the orphan-delivery pass.
const messageBufferPoolCapacity = 64

// vertexState enumerates the per-vertex-program states of §4.6's state
// machine.
type vertexState byte

const (
	statePreRun vertexState = iota
	stateAwaitSelf
	statePostSelf
	stateAwaitNeigh
	stateDone
)

// instance is one vertex program's in-flight dispatch for the current
// level.
type instance[S any] struct {
	id      types.VertexID
	program vertexprogram.Program[S]
	state   vertexState
}

// Gate bundles the cross-worker synchronization primitives the engine owns
// and every Worker shares: the two level barriers, the swap mutex, the
// level counter, and the stop flag (§4.7, §5).
type Gate struct {
	Barrier1 *Barrier
	Barrier2 *Barrier
	SwapMu   sync.Locker
	// ReportNext is called once per level, before entering Barrier1, with
	// this worker's |next| count.
	ReportNext func(n uint64)
	// OnBarrier1 runs exactly once per level, invoked by whichever worker
	// happens to be the last to call Barrier1.Wait (§4.7).
	OnBarrier1 func()
	Level      func() types.Level
	Stopped    func() bool
}

// NewWorker creates the Worker owning partition index, reading adjacency
// through ioQueue, and exchanging messages with its peers through inboxes
// (indexed by worker, inboxes[index] is this worker's own inbox).
func NewWorker[S any](
	idx types.WorkerIndex,
	partitioner partition.Partitioner,
	graphIndex *index.Index[S],
	ioQueue *ioqueue.Queue[S],
	inboxes []*message.Inbox,
	programFactory func(types.VertexID) vertexprogram.Program[S],
	scheduler vertexprogram.Scheduler,
	strictMode bool,
) *Worker[S] {
	msgPool := bufpool.NewMessageBufferPool(messageBufferPoolCapacity)

	numWorkers := len(inboxes)
	p2p := make([]*message.PointToPointSender, numWorkers)
	multicast := make([]*message.MulticastSender, numWorkers)
	activation := make([]*message.ActivationSender, numWorkers)
	for dst := 0; dst < numWorkers; dst++ {
		queue := inboxes[dst].QueueFor(idx)
		p2p[dst] = message.NewPointToPointSender(queue, msgPool)
		multicast[dst] = message.NewMulticastSender(queue, message.DefaultMulticastCapacity, msgPool)
		activation[dst] = message.NewActivationSender(queue, message.DefaultMulticastCapacity)
	}

	return &Worker[S]{
		index:             idx,
		partitioner:       partitioner,
		graphIndex:        graphIndex,
		ioQueue:           ioQueue,
		inboxes:           inboxes,
		programFactory:    programFactory,
		scheduler:         scheduler,
		frontier:          frontier.New(),
		p2pSenders:        p2p,
		multicastSenders:  multicast,
		activationSenders: activation,
		pendingMessages:   map[types.VertexID][]types.Message{},
		strictMode:        strictMode,
	}
}

// Worker owns one partition. It implements vertexprogram.Engine[S] itself,
// so a dispatched program calls back directly into the worker that is
// running it.
type Worker[S any] struct {
	index       types.WorkerIndex
	partitioner partition.Partitioner
	graphIndex  *index.Index[S]
	ioQueue     *ioqueue.Queue[S]
	inboxes     []*message.Inbox

	programFactory func(types.VertexID) vertexprogram.Program[S]
	scheduler      vertexprogram.Scheduler

	frontier *frontier.Frontier

	p2pSenders        []*message.PointToPointSender
	multicastSenders  []*message.MulticastSender
	activationSenders []*message.ActivationSender

	pendingMessages map[types.VertexID][]types.Message

	// pendingReleases holds each drained frame's buffer-release func for
	// this level. Payload bytes inside pendingMessages may alias a pooled
	// buffer until the last consumer (startInstance or deliverOrphanMessages)
	// reads it, so releases are deferred to runLevel's single exit point
	// rather than fired as each frame drains.
	pendingReleases []func()

	// strictMode governs what happens when a vertex program violates the
	// POST_SELF protocol (§7 ProtocolError): true aborts the worker, false
	// logs the violation and skips the vertex.
	strictMode bool

	gate *Gate
	ctx  context.Context
}

// Activate seeds this worker's current frontier with id. Used by
// engine.Start/StartAll before the first level runs.
func (w *Worker[S]) Activate(id types.VertexID) {
	w.frontier.ActivateCurrent(id)
}

// Frontier exposes the worker's activation frontier.
func (w *Worker[S]) Frontier() *frontier.Frontier {
	return w.frontier
}

// Run is the worker's main loop (§4.6): drain inbox, dispatch the current
// batch to completion, flush senders, then synchronize at the level
// barriers. It returns when the engine signals global termination via the
// shared stop flag, or when a fatal I/O error aborts the level.
//
// The stop flag is checked only after a level's inbox has been drained and
// dispatched, never before: messages flushed during the level that tipped
// |next| to zero still need their on_message delivered on the following
// pass (§4.6 step 1, §8 invariant 2) before this worker is allowed to exit.
// Every worker takes this same extra pass, so none of them block on a
// barrier the others have already stopped calling.
func (w *Worker[S]) Run(ctx context.Context, gate *Gate) error {
	w.gate = gate
	w.ctx = ctx

	for {
		w.drainInbox()

		if err := w.runLevel(); err != nil {
			return err
		}

		w.flushSenders()

		if gate.Stopped() {
			return nil
		}

		gate.ReportNext(w.frontier.NextCount())
		gate.Barrier1.Wait(gate.OnBarrier1)

		gate.SwapMu.Lock()
		w.frontier.Swap()
		gate.SwapMu.Unlock()

		gate.Barrier2.Wait(nil)

		if err := ctx.Err(); err != nil {
			return strataerrors.Wrap(err, "worker context cancelled")
		}
	}
}

// drainInbox implements §4.6 step 1: activation messages set the next-bit
// immediately; every other message is buffered by destination, to be
// handed to OnMessage by runLevel — either inline as part of that vertex's
// normal dispatch if it is also activated this level, or directly via
// deliverOrphanMessages if it is not (delivery is unconditional on every
// addressed vertex, never contingent on frontier membership).
func (w *Worker[S]) drainInbox() {
	w.pendingMessages = map[types.VertexID][]types.Message{}
	w.pendingReleases = w.pendingReleases[:0]

	own := w.inboxes[w.index]
	own.Drain(func(f message.Frame) {
		w.pendingReleases = append(w.pendingReleases, f.Release)
		message.Deliver(f, func(dest types.VertexID, m types.Message) {
			if m.Kind == types.Activate {
				w.frontier.ActivateNext(dest)
				return
			}
			w.pendingMessages[dest] = append(w.pendingMessages[dest], m)
		})
	})
}

// releasePendingBuffers returns every pooled buffer backing this level's
// drained frames. Called once, at runLevel's single exit point, after both
// deliverOrphanMessages and the activated-id dispatch loop have finished
// reading pendingMessages — releasing any earlier would risk the pool
// handing an aliased buffer back out while a payload slice into it is still
// unread.
func (w *Worker[S]) releasePendingBuffers() {
	for _, release := range w.pendingReleases {
		release()
	}
	w.pendingReleases = w.pendingReleases[:0]
}

// deliverOrphanMessages hands OnMessage to every vertex with pending mail
// that is not also in activated, i.e. a vertex that received a message this
// level without being activated into it. These vertices never run
// PreRun/OnSelf/OnNeighbors this level — the message is their only event —
// so a transient program instance is constructed solely to receive it.
// Without this, drainInbox's next call resets pendingMessages and the
// message is silently lost (§4.6 step 1 is unconditional on every addressed
// vertex, not just ones also scheduled for dispatch).
func (w *Worker[S]) deliverOrphanMessages(activated map[types.VertexID]struct{}) {
	for dest, msgs := range w.pendingMessages {
		if _, ok := activated[dest]; ok {
			continue
		}
		w.programFactory(dest).OnMessage(w, msgs)
		delete(w.pendingMessages, dest)
	}
}

// runLevel implements §4.6 steps 2-3: fetch the ready batch, dispatch
// PreRun/OnSelf/OnNeighbors through to completion for every vertex in it,
// interleaving I/O completions as they arrive.
func (w *Worker[S]) runLevel() error {
	ids := w.frontier.Current()
	if w.scheduler != nil {
		w.scheduler.Schedule(ids)
	}

	activated := make(map[types.VertexID]struct{}, len(ids))
	for _, id := range ids {
		activated[id] = struct{}{}
	}
	w.deliverOrphanMessages(activated)

	pending := make(map[types.VertexID]*instance[S], len(ids))
	held := map[types.VertexID][]func(){}
	next := 0
	var firstErr error

	submit := func() {
		for next < len(ids) && w.ioQueue.CanSubmit() {
			id := ids[next]
			next++

			inst := &instance[S]{id: id, program: w.programFactory(id)}
			done, err := w.startInstance(inst)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if done {
				w.frontier.RemoveCurrent(id)
				continue
			}
			pending[id] = inst
		}
	}

	handle := func(token ioqueue.IORequestToken, buf []byte, release func(), err error) {
		if release != nil {
			held[token.Requester] = append(held[token.Requester], release)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}

		inst, ok := pending[token.Requester]
		if !ok {
			return
		}

		pv, perr := pagevertex.New(buf, w.graphIndex.Header().Directed)
		if perr != nil {
			if firstErr == nil {
				firstErr = perr
			}
			return
		}

		var done bool
		if token.Completion == types.CompletionSelf {
			done = inst.program.OnSelf(w, pv)
		} else {
			done = inst.program.OnNeighbors(w, []*pagevertex.PageVertex{pv})
		}
		if !done {
			var aerr error
			done, aerr = w.advancePostSelf(inst)
			if aerr != nil {
				if firstErr == nil {
					firstErr = aerr
				}
				return
			}
		}
		if done {
			delete(pending, token.Requester)
			w.frontier.RemoveCurrent(token.Requester)
			for _, r := range held[token.Requester] {
				r()
			}
			delete(held, token.Requester)
		}
	}

	submit()
	for len(pending) > 0 && firstErr == nil {
		w.ioQueue.WaitForCompletion(handle)
		if firstErr != nil {
			break
		}
		submit()
	}

	for _, rs := range held {
		for _, r := range rs {
			r()
		}
	}
	w.releasePendingBuffers()
	return firstErr
}

// startInstance delivers any buffered messages for inst.id, then begins
// its PreRun/self-fetch transition. It returns done=true when the instance
// completed synchronously, without issuing any I/O (PreRun declined and
// HasRequiredVertices is false).
func (w *Worker[S]) startInstance(inst *instance[S]) (done bool, err error) {
	if msgs, ok := w.pendingMessages[inst.id]; ok {
		inst.program.OnMessage(w, msgs)
		delete(w.pendingMessages, inst.id)
	}

	inst.state = statePreRun
	if inst.program.PreRun(w) {
		inst.state = stateAwaitSelf
		w.ioQueue.RequestVertex(inst.id, ioqueue.IORequestToken{Requester: inst.id, Completion: types.CompletionSelf})
		return false, nil
	}

	return w.advancePostSelf(inst)
}

// advancePostSelf implements the POST_SELF decision: fetch another
// neighbor page if the program still wants one, else the instance is DONE.
// A program that claims HasRequiredVertices but names an empty range is a
// protocol violation, not a zero-length read (§4.6: "the program declares
// completion by eventually returning false" — an empty request is neither).
func (w *Worker[S]) advancePostSelf(inst *instance[S]) (done bool, err error) {
	inst.state = statePostSelf
	if !inst.program.HasRequiredVertices() {
		inst.state = stateDone
		return true, nil
	}

	req := inst.program.GetNextRequest(w)
	if req.Length == 0 {
		err := strataerrors.NewProtocolError(strataerrors.Errorf(
			"vertex %d: HasRequiredVertices is true but GetNextRequest named a zero-length range", inst.id))
		if w.strictMode {
			return false, err
		}
		logger.Get(w.ctx).Warn("skipping vertex after protocol violation",
			zap.Uint32("vertex", uint32(inst.id)), zap.Error(err))
		inst.state = stateDone
		return true, nil
	}

	inst.state = stateAwaitNeigh
	w.ioQueue.RequestRange(types.IORequest{
		Offset:     req.Offset,
		Length:     req.Length,
		Requester:  inst.id,
		Completion: req.CompletionKind,
	})
	return false, nil
}

// flushSenders implements §4.6 step 4: senders are flushed once current is
// empty and no I/O is outstanding, i.e. after runLevel has fully drained.
func (w *Worker[S]) flushSenders() {
	for _, s := range w.p2pSenders {
		s.Flush()
	}
	for _, s := range w.multicastSenders {
		s.EndMulticast()
	}
	for _, s := range w.activationSenders {
		s.EndActivation()
	}
}

// Level returns the level currently executing (vertexprogram.Engine).
func (w *Worker[S]) Level() types.Level {
	return w.gate.Level()
}

// ActivateVertex sets id's next-bit (vertexprogram.Engine). Local ids are
// activated directly; remote ids are routed through this worker's
// activation sender to id's owning worker.
func (w *Worker[S]) ActivateVertex(id types.VertexID) {
	w.ActivateVertices([]types.VertexID{id})
}

// ActivateVertices activates every id in ids (vertexprogram.Engine).
func (w *Worker[S]) ActivateVertices(ids []types.VertexID) {
	byDest := map[types.WorkerIndex][]types.VertexID{}
	for _, id := range ids {
		dest := w.partitioner.Map(id)
		if dest == w.index {
			w.frontier.ActivateNext(id)
			continue
		}
		byDest[dest] = append(byDest[dest], id)
	}
	for dest, group := range byDest {
		w.sendActivations(dest, group)
	}
}

// sendActivations sends group through the activation sender bound for
// dest, reinitializing the buffer exactly once on overflow (§4.4: "the
// engine asserts at most two attempts, else the buffer is misconfigured").
func (w *Worker[S]) sendActivations(dest types.WorkerIndex, group []types.VertexID) {
	sender := w.activationSenders[dest]
	sender.Init()
	for _, id := range group {
		if sender.AddDest(id) {
			continue
		}
		sender.EndActivation()
		sender.Init()
		if !sender.AddDest(id) {
			panic("worker: activation buffer capacity too small to hold a single destination")
		}
	}
	sender.EndActivation()
}

// SendMsg delivers payload to dest (vertexprogram.Engine).
func (w *Worker[S]) SendMsg(dest types.VertexID, payload []byte) {
	w.p2pSenders[w.partitioner.Map(dest)].SendCached(dest, payload)
}

// MulticastMsg delivers payload to every id in ids under one aggregated
// send per destination worker (vertexprogram.Engine).
func (w *Worker[S]) MulticastMsg(ids []types.VertexID, payload []byte) {
	byDest := map[types.WorkerIndex][]types.VertexID{}
	for _, id := range ids {
		dest := w.partitioner.Map(id)
		byDest[dest] = append(byDest[dest], id)
	}
	for dest, group := range byDest {
		w.sendMulticast(dest, group, payload)
	}
}

// sendMulticast sends group, all carrying payload, through the multicast
// sender bound for dest, reinitializing the buffer exactly once on
// overflow (§4.4, same assertion as activation).
func (w *Worker[S]) sendMulticast(dest types.WorkerIndex, group []types.VertexID, payload []byte) {
	sender := w.multicastSenders[dest]
	sender.Init(payload)
	for _, id := range group {
		if sender.AddDest(id) {
			continue
		}
		sender.EndMulticast()
		sender.Init(payload)
		if !sender.AddDest(id) {
			panic("worker: multicast buffer capacity too small to hold a single destination")
		}
	}
	sender.EndMulticast()
}

// GetVertex returns a pointer to id's compute-vertex state (vertexprogram.
// Engine). Callers outside id's owning worker must treat it read-only
// (§6).
func (w *Worker[S]) GetVertex(id types.VertexID) *S {
	if w.partitioner.Map(id) == w.index {
		return w.graphIndex.Vertex(id)
	}
	return w.graphIndex.VertexReadOnly(id)
}
