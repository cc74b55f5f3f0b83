package bufpool

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// PageSize is the unit buffers are sized in. The default message buffer is
// four pages (§4.4 buffer sizing: "each send buffer is a small fixed number
// of memory pages (original: four pages)").
const PageSize = 4096

// MessageBufferPages is the default message send buffer size in pages.
const MessageBufferPages = 4

// NewMessageBufferPool pre-allocates capacity fixed-size message buffers so
// sends never allocate mid-level.
func NewMessageBufferPool(capacity uint64) *MessageBufferPool {
	bufs := make([][]byte, capacity)
	for i := range bufs {
		bufs[i] = make([]byte, MessageBufferPages*PageSize)
	}

	r, slots := newRing[[]byte](capacity)
	copy(slots, bufs)

	return &MessageBufferPool{ring: r}
}

// MessageBufferPool hands out and reclaims fixed-size message send buffers.
type MessageBufferPool struct {
	ring *ring[[]byte]
}

// Get takes a buffer out of the pool. It blocks the caller's logical
// progress (by returning BufferExhaustion, which callers resolve by
// spilling or waiting — §7) when the pool is empty; this package never
// blocks a goroutine itself, leaving the wait policy to the caller.
func (p *MessageBufferPool) Get() ([]byte, error) {
	buf, err := p.ring.Get()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return buf[:0], nil
}

// Put returns a buffer to the pool once it has been flushed. Committed
// immediately so the slot is available to the very next Get (the ring
// otherwise holds Put items back until Commit is called explicitly).
func (p *MessageBufferPool) Put(buf []byte) {
	p.ring.Put(buf[:cap(buf)])
	p.ring.Commit()
}

// IOBuffer is a reference-counted I/O buffer. The backing bytes are
// released to the owning pool only once every vertex program dispatch
// holding a PageVertex over it has returned, matching §9's "zero-copy page
// vertex" lifetime rule: "the buffer is released to the pool after the
// owning vertex program returns true from its most recent dispatch".
type IOBuffer struct {
	data     []byte
	refCount int64
	pool     *IOBufferPool
}

// Bytes returns the buffer's backing bytes.
func (b *IOBuffer) Bytes() []byte {
	return b.data
}

// Retain increments the reference count, e.g. when a vertex program holds
// onto a PageVertex across more than one dispatch.
func (b *IOBuffer) Retain() {
	atomic.AddInt64(&b.refCount, 1)
}

// Release decrements the reference count and returns the buffer to its
// pool once it reaches zero.
func (b *IOBuffer) Release() {
	if atomic.AddInt64(&b.refCount, -1) == 0 {
		b.pool.put(b)
	}
}

// NewIOBufferPool pre-allocates capacity buffers of bufSize bytes each — an
// arena of I/O buffers (§9).
func NewIOBufferPool(capacity uint64, bufSize int) *IOBufferPool {
	p := &IOBufferPool{bufSize: bufSize}
	r, slots := newRing[*IOBuffer](capacity)
	for i := range slots {
		slots[i] = &IOBuffer{data: make([]byte, bufSize), pool: p}
	}
	p.ring = r
	return p
}

// IOBufferPool is the arena backing PageVertex views delivered by ioqueue.
type IOBufferPool struct {
	ring    *ring[*IOBuffer]
	bufSize int
}

// Get takes a buffer out of the arena with a reference count of one.
func (p *IOBufferPool) Get() (*IOBuffer, error) {
	buf, err := p.ring.Get()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	atomic.StoreInt64(&buf.refCount, 1)
	return buf, nil
}

func (p *IOBufferPool) put(buf *IOBuffer) {
	p.ring.Put(buf)
	p.ring.Commit()
}
