// Package message implements the inter-worker message subsystem (§4.4):
// point-to-point, multicast, and activation senders, and the per-worker
// inbox they feed. Ordering guarantee: a message sent during level L is
// visible to its destination on level L+1 and no earlier; within one level,
// delivery order between a given (source, dest) pair is FIFO, but ordering
// across distinct sources is unspecified.
package message

import (
	"github.com/outofforest/strata/bufpool"
	"github.com/outofforest/strata/types"
)

// Frame is what actually travels from a sender to an inbox. PointToPoint
// frames carry one message per entry, each with its own payload; Multicast
// and Activate frames aggregate many destinations under one shared payload
// (Activate's payload is always empty) — this is the framing the spec
// describes as "{kind, destination count, payload length}" carried without
// a schema.
type Frame struct {
	Kind         types.MessageKind
	Messages     []types.Message
	Destinations []types.VertexID
	Payload      []byte
	release      func()
}

// Release returns any pooled buffer backing this frame's payload bytes to
// its bufpool.MessageBufferPool. Safe to call on every drained frame
// unconditionally — a frame whose payload fell back to a plain allocation
// (pool exhausted, or the payload didn't fit a pool buffer) carries no
// release function and this is a no-op.
func (f Frame) Release() {
	if f.release != nil {
		f.release()
	}
}

// acquirePayloadBuffer draws one fixed-size buffer from pool to back a
// frame's aggregated payload bytes, avoiding a fresh heap allocation per
// flush (§4.4 buffer sizing: "each send buffer is a small fixed number of
// memory pages"). When pool is nil, momentarily exhausted, or the payload
// does not fit in a single pool buffer, it falls back to a plain
// allocation — §7 BufferExhaustion: resolved by spilling, never surfaced —
// and the returned release func is nil.
func acquirePayloadBuffer(pool *bufpool.MessageBufferPool, totalLen int) ([]byte, func()) {
	if pool == nil || totalLen == 0 || totalLen > bufpool.MessageBufferPages*bufpool.PageSize {
		return nil, nil
	}
	buf, err := pool.Get()
	if err != nil {
		return nil, nil
	}
	return buf, func() { pool.Put(buf) }
}

// DefaultMulticastCapacity bounds how many destinations one multicast or
// activation buffer can hold before AddDest refuses and the caller must
// Init a fresh buffer (§4.4). Chosen to comfortably exceed the inline
// destination buffers user algorithms like PageRank traditionally used
// on-stack (§9 design note), while still bounding a single frame's size.
const DefaultMulticastCapacity = 1024

// DefaultPointToPointBatch bounds how many individually-addressed messages
// accumulate in a point-to-point sender before SendCached flushes
// automatically (§4.4: "flushed on buffer-full or level boundary").
const DefaultPointToPointBatch = 256

// Inbox is a per-worker collection of single-producer-per-sender,
// single-consumer frame queues, one per source worker.
type Inbox struct {
	queues []chan Frame
}

// NewInbox creates an inbox fed by numWorkers senders, each queue buffered
// to capacity frames deep.
func NewInbox(numWorkers int, capacity int) *Inbox {
	queues := make([]chan Frame, numWorkers)
	for i := range queues {
		queues[i] = make(chan Frame, capacity)
	}
	return &Inbox{queues: queues}
}

// QueueFor returns the send-only channel a sender on source should write
// to. Exactly one sender writes to each returned channel (single-producer).
func (ib *Inbox) QueueFor(source types.WorkerIndex) chan<- Frame {
	return ib.queues[source]
}

// Drain delivers every currently queued frame to handle without blocking.
// Ordering across distinct source queues is unspecified, matching §4.4;
// within one source queue, FIFO order is preserved by the channel.
func (ib *Inbox) Drain(handle func(Frame)) {
outer:
	for _, q := range ib.queues {
		for {
			select {
			case f := <-q:
				handle(f)
			default:
				continue outer
			}
		}
	}
}

// Deliver invokes handle once per (destination, Message) pair encoded in
// frame, expanding multicast/activation destination lists.
func Deliver(frame Frame, handle func(types.VertexID, types.Message)) {
	switch frame.Kind {
	case types.PointToPoint:
		for _, m := range frame.Messages {
			handle(m.Destination, m)
		}
	default:
		for _, dest := range frame.Destinations {
			handle(dest, types.Message{Destination: dest, Payload: frame.Payload, Kind: frame.Kind})
		}
	}
}

// PointToPointSender buffers individually-addressed messages bound for one
// destination worker and flushes them as a single Frame.
type PointToPointSender struct {
	queue chan<- Frame
	pool  *bufpool.MessageBufferPool
	batch []types.Message
}

// NewPointToPointSender creates a sender writing to queue, drawing its
// per-flush payload buffer from pool (nil disables pooling, falling back
// to a plain allocation every flush).
func NewPointToPointSender(queue chan<- Frame, pool *bufpool.MessageBufferPool) *PointToPointSender {
	return &PointToPointSender{
		queue: queue,
		pool:  pool,
		batch: make([]types.Message, 0, DefaultPointToPointBatch),
	}
}

// SendCached buffers one message, flushing automatically once the batch is
// full.
func (s *PointToPointSender) SendCached(dest types.VertexID, payload []byte) {
	s.batch = append(s.batch, types.Message{Destination: dest, Payload: payload, Kind: types.PointToPoint})
	if len(s.batch) == cap(s.batch) {
		s.Flush()
	}
}

// Flush sends the buffered batch, if any, as one Frame. Called at level
// boundaries regardless of fill level (§4.4). The batch's payloads are
// concatenated into one pooled buffer rather than traveling as the
// separate allocations the caller handed to SendCached.
func (s *PointToPointSender) Flush() {
	if len(s.batch) == 0 {
		return
	}

	total := 0
	for _, m := range s.batch {
		total += len(m.Payload)
	}

	buf, release := acquirePayloadBuffer(s.pool, total)
	if buf != nil {
		offset := 0
		for i, m := range s.batch {
			buf = append(buf, m.Payload...)
			s.batch[i].Payload = buf[offset : offset+len(m.Payload)]
			offset += len(m.Payload)
		}
	}

	s.queue <- Frame{Kind: types.PointToPoint, Messages: s.batch, release: release}
	s.batch = make([]types.Message, 0, DefaultPointToPointBatch)
}

// destSender is the shared shape behind MulticastSender and
// ActivationSender (§4.4: "identical shape to multicast but carries no
// payload").
type destSender struct {
	queue        chan<- Frame
	kind         types.MessageKind
	capacity     int
	pool         *bufpool.MessageBufferPool
	header       []byte
	release      func()
	destinations []types.VertexID
}

func (s *destSender) init(header []byte) {
	buf, release := acquirePayloadBuffer(s.pool, len(header))
	if buf != nil {
		s.header = append(buf, header...)
	} else {
		s.header = header
	}
	s.release = release
	s.destinations = make([]types.VertexID, 0, s.capacity)
}

func (s *destSender) addDest(id types.VertexID) bool {
	if len(s.destinations) == s.capacity {
		return false
	}
	s.destinations = append(s.destinations, id)
	return true
}

func (s *destSender) end() {
	if len(s.destinations) == 0 {
		if s.release != nil {
			s.release()
			s.release = nil
		}
		return
	}
	s.queue <- Frame{Kind: s.kind, Destinations: s.destinations, Payload: s.header, release: s.release}
	s.destinations = nil
	s.release = nil
}

// MulticastSender aggregates many destinations under one shared payload.
type MulticastSender struct {
	destSender
}

// NewMulticastSender creates a multicast sender writing to queue, with room
// for up to capacity destinations per buffer. Its shared payload is copied
// into a buffer drawn from pool on each Init (nil disables pooling).
func NewMulticastSender(queue chan<- Frame, capacity int, pool *bufpool.MessageBufferPool) *MulticastSender {
	if capacity <= 0 {
		capacity = DefaultMulticastCapacity
	}
	return &MulticastSender{destSender{queue: queue, kind: types.Multicast, capacity: capacity, pool: pool}}
}

// Init starts a fresh multicast buffer carrying header as its shared
// payload.
func (s *MulticastSender) Init(header []byte) {
	s.init(header)
}

// AddDest adds id to the current multicast buffer. It returns false when
// the buffer is full; the caller must Init a fresh multicast and retry
// exactly once (§4.4).
func (s *MulticastSender) AddDest(id types.VertexID) bool {
	return s.addDest(id)
}

// EndMulticast flushes the current multicast buffer, if non-empty.
func (s *MulticastSender) EndMulticast() {
	s.end()
}

// ActivationSender is shaped like MulticastSender but carries no payload:
// destinations only (§4.4).
type ActivationSender struct {
	destSender
}

// NewActivationSender creates an activation sender writing to queue, with
// room for up to capacity destinations per buffer.
func NewActivationSender(queue chan<- Frame, capacity int) *ActivationSender {
	if capacity <= 0 {
		capacity = DefaultMulticastCapacity
	}
	return &ActivationSender{destSender{queue: queue, kind: types.Activate, capacity: capacity}}
}

// Init starts a fresh activation buffer.
func (s *ActivationSender) Init() {
	s.init(nil)
}

// AddDest adds id to the current activation buffer. It returns false when
// the buffer is full; the caller must Init a fresh activation and retry
// exactly once (§4.4).
func (s *ActivationSender) AddDest(id types.VertexID) bool {
	return s.addDest(id)
}

// EndActivation flushes the current activation buffer, if non-empty.
func (s *ActivationSender) EndActivation() {
	s.end()
}
