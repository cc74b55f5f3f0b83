//go:build linux

package ioqueue

import (
	"os"
	"sync"

	"github.com/godzie44/go-uring/uring"
	"github.com/pkg/errors"
)

// NewURingReader creates a Reader backed by a real Linux io_uring instance,
// submitting one SQE per requested range and polling its completion queue
// on a dedicated goroutine. This is the "asynchronous I/O pipeline" §4.5
// names — reads are submitted without blocking the calling worker, and
// completions are delivered from the ring's own completion queue rather
// than a synchronous call stack.
func NewURingReader(file *os.File, queueDepth uint32) (*URingReader, error) {
	ring, err := uring.New(queueDepth)
	if err != nil {
		return nil, errors.Wrap(err, "creating io_uring instance failed")
	}

	r := &URingReader{
		file:    file,
		ring:    ring,
		pending: make(map[uint64]pendingRead),
		closeCh: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.pump()
	return r, nil
}

type pendingRead struct {
	buf  []byte
	done func([]byte, error)
}

// URingReader submits reads through io_uring and polls completions.
type URingReader struct {
	file *os.File
	ring *uring.Ring

	mu      sync.Mutex
	pending map[uint64]pendingRead
	nextID  uint64

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// ReadAsync submits one read SQE for [offset, offset+length). When dst has
// enough capacity to hold length bytes, the kernel writes directly into it
// (no intermediate copy); otherwise a fresh buffer is allocated.
func (r *URingReader) ReadAsync(offset uint64, length uint32, dst []byte, done func([]byte, error)) {
	buf := dst
	if cap(buf) < int(length) {
		buf = make([]byte, length)
	} else {
		buf = buf[:length]
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.pending[id] = pendingRead{buf: buf, done: done}
	r.mu.Unlock()

	req := uring.Read(r.file.Fd(), buf, offset)
	if err := r.ring.QueueSQE(req, 0, id); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		done(nil, errors.Wrap(err, "queuing io_uring read failed"))
		return
	}
	if _, err := r.ring.Submit(); err != nil {
		done(nil, errors.Wrap(err, "submitting io_uring read failed"))
	}
}

func (r *URingReader) pump() {
	defer r.wg.Done()
	for {
		select {
		case <-r.closeCh:
			return
		default:
		}

		cqe, err := r.ring.WaitCQEvents(1)
		if err != nil {
			continue
		}

		r.mu.Lock()
		pr, ok := r.pending[cqe.UserData]
		delete(r.pending, cqe.UserData)
		r.mu.Unlock()
		if !ok {
			continue
		}

		if cqe.Res < 0 {
			pr.done(nil, errors.Errorf("io_uring read failed with code %d", cqe.Res))
			continue
		}
		pr.done(pr.buf[:cqe.Res], nil)
	}
}

// Close stops the completion poller and releases the ring. In-flight reads
// are awaited by the caller before Close is invoked (§5).
func (r *URingReader) Close() error {
	close(r.closeCh)
	r.wg.Wait()
	return r.ring.Close()
}
