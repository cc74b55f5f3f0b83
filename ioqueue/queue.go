// Package ioqueue implements the asynchronous I/O pipeline (§4.5): a
// per-worker outstanding-request table that fetches adjacency pages from
// the graph file on demand, bounds concurrency for backpressure, and
// dispatches completed reads back to the requesting vertex program as a
// pagevertex.PageVertex.
package ioqueue

import (
	"sync/atomic"

	"github.com/outofforest/mass"

	"github.com/outofforest/strata/bufpool"
	strataerrors "github.com/outofforest/strata/errors"
	"github.com/outofforest/strata/index"
	"github.com/outofforest/strata/types"
)

// IORequestToken identifies the vertex program a pending read belongs to,
// and which dispatch entry point (OnSelf vs OnNeighbors) the completed read
// must be delivered to (§3: "completion token identifying the requesting
// vertex program").
type IORequestToken struct {
	Requester  types.VertexID
	Completion types.CompletionKind
}

// Reader is the asynchronous read backend. Implementations may use a real
// io_uring ring (see NewURingReader, linux only) or a portable goroutine-
// pool simulation (NewStoreReader) for tests and non-Linux builds.
type Reader interface {
	// ReadAsync submits an async read of length bytes at offset. When dst
	// has enough capacity to hold length bytes, the backend fills it
	// in place instead of allocating a fresh buffer (the IOBufferPool
	// wiring point, §9 "zero-copy page vertex"); pass nil to always
	// allocate. done is invoked exactly once, from the backend's own
	// completion-delivery path, never synchronously from within ReadAsync
	// itself.
	ReadAsync(offset uint64, length uint32, dst []byte, done func([]byte, error))
	// Close releases backend resources. Any reads still in flight are
	// awaited, never cancelled (§5: "In-flight I/O is awaited (not
	// cancelled) to keep buffers consistent").
	Close() error
}

// Config configures a Queue.
type Config struct {
	// MaxOutstanding bounds concurrent in-flight reads per worker,
	// providing the backpressure §4.5 requires.
	MaxOutstanding uint64
	// IOBufferPoolCapacity sizes an arena of pre-allocated read buffers
	// (bufpool.IOBufferPool) that RequestVertex/RequestRange draw from
	// instead of allocating a fresh slice per read. Zero defaults to
	// MaxOutstanding, since that already bounds how many reads can be
	// in flight for this worker at once.
	IOBufferPoolCapacity uint64
	// IOBufferSize bounds the size of each pooled buffer; a request
	// naming a larger range always falls back to a plain allocation (§7
	// BufferExhaustion spill policy). Zero defaults to
	// bufpool.MessageBufferPages pages.
	IOBufferSize int
}

// New creates a Queue reading vertex adjacency through reader, resolving
// (offset, length) via idx.
func New[S any](reader Reader, idx *index.Index[S], config Config) *Queue[S] {
	if config.MaxOutstanding == 0 {
		config.MaxOutstanding = 64
	}
	if config.IOBufferPoolCapacity == 0 {
		config.IOBufferPoolCapacity = config.MaxOutstanding
	}
	if config.IOBufferSize == 0 {
		config.IOBufferSize = bufpool.MessageBufferPages * bufpool.PageSize
	}

	ioPool := bufpool.NewIOBufferPool(config.IOBufferPoolCapacity, config.IOBufferSize)

	chain := NewCompletionChain()
	return &Queue[S]{
		reader:      reader,
		idx:         idx,
		config:      config,
		ioPool:      ioPool,
		chain:       chain,
		completions: chain.NewCompletionReader(),
		massC:       mass.New[Completion](config.MaxOutstanding),
	}
}

// Queue is one worker's I/O request queue.
type Queue[S any] struct {
	reader Reader
	idx    *index.Index[S]
	config Config
	ioPool *bufpool.IOBufferPool

	chain       *CompletionChain
	completions *CompletionReader
	massC       *mass.Mass[Completion]

	outstanding int64
}

// Outstanding returns the number of reads currently in flight.
func (q *Queue[S]) Outstanding() int64 {
	return atomic.LoadInt64(&q.outstanding)
}

// CanSubmit reports whether another request can be submitted without
// exceeding MaxOutstanding. The worker checks this before issuing new
// requests and, when it returns false, stops fetching new vertices but
// keeps draining completions (§4.5, §5 suspension points).
func (q *Queue[S]) CanSubmit() bool {
	return q.Outstanding() < int64(q.config.MaxOutstanding)
}

// RequestVertex issues an async read for id's adjacency bytes, bound to
// token. It does not block; CanSubmit must be checked by the caller first.
func (q *Queue[S]) RequestVertex(id types.VertexID, token IORequestToken) {
	offset, length := q.idx.Locate(id)
	q.requestRange(offset, length, token)
}

// RequestRange issues an async read of an arbitrary (offset, length) range,
// used when a vertex program's GetNextRequest names an explicit range
// rather than a vertex id (§4.6: "get_next_request(v) for more I/O
// requests").
func (q *Queue[S]) RequestRange(req types.IORequest) {
	q.requestRange(req.Offset, req.Length, IORequestToken{Requester: req.Requester, Completion: req.Completion})
}

func (q *Queue[S]) requestRange(offset uint64, length uint32, token IORequestToken) {
	atomic.AddInt64(&q.outstanding, 1)

	var dst []byte
	var release func()
	if q.ioPool != nil {
		if iobuf, err := q.ioPool.Get(); err == nil && len(iobuf.Bytes()) >= int(length) {
			dst = iobuf.Bytes()
			release = iobuf.Release
		}
	}

	q.reader.ReadAsync(offset, length, dst, func(buf []byte, err error) {
		c := NewCompletion(q.massC)
		c.Token = token
		c.Buffer = buf
		c.Err = err
		c.Release = release
		q.chain.Push(c)
		q.chain.Flush()
	})
}

// PollCompletions drains every currently-ready completion, invoking handle
// for each and decrementing the outstanding count. Never blocks. release is
// non-nil exactly when the completed read's buffer was drawn from the
// Queue's IOBufferPool; the caller must invoke it once it is done with buf
// (§9: "released... after the owning vertex program returns true from its
// most recent dispatch").
func (q *Queue[S]) PollCompletions(handle func(token IORequestToken, buf []byte, release func(), err error)) {
	for q.completions.Count() > 0 {
		c := q.completions.Read()
		atomic.AddInt64(&q.outstanding, -1)
		if c.Err != nil {
			if c.Release != nil {
				c.Release()
			}
			handle(c.Token, nil, nil, strataerrors.NewIOError(c.Err))
			continue
		}
		handle(c.Token, c.Buffer, c.Release, nil)
	}
}

// WaitForCompletion blocks until at least one completion is ready, then
// dispatches every ready completion to handle. Used when the worker has no
// other progress to make (§4.6 step 3/§5).
func (q *Queue[S]) WaitForCompletion(handle func(token IORequestToken, buf []byte, release func(), err error)) {
	q.completions.Wait()
	q.PollCompletions(handle)
}

// Close releases the underlying Reader.
func (q *Queue[S]) Close() error {
	return q.reader.Close()
}
