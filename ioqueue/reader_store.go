package ioqueue

import (
	"context"

	"github.com/outofforest/parallel"

	"github.com/outofforest/strata/store"
)

// job is one pending read handed to a StoreReader worker goroutine.
type job struct {
	offset uint64
	length uint32
	buf    []byte
	done   func([]byte, error)
}

// NewStoreReader creates a Reader that simulates asynchronous reads with a
// fixed pool of goroutines issuing synchronous store.Store.ReadInto calls.
// This is the portable Reader used by tests and by any platform without
// io_uring support; NewURingReader (linux only) is the real asynchronous
// backend the spec calls for.
func NewStoreReader(ctx context.Context, s store.Store, numWorkers int) (*StoreReader, error) {
	if numWorkers <= 0 {
		numWorkers = 4
	}

	r := &StoreReader{
		store: s,
		jobs:  make(chan job, numWorkers*4),
		done:  make(chan struct{}),
	}

	group := parallel.NewGroup(ctx)
	r.group = group
	for i := 0; i < numWorkers; i++ {
		group.Spawn("reader-worker", parallel.Fail, r.runWorker)
	}

	return r, nil
}

// StoreReader is the portable, goroutine-pool-backed Reader.
type StoreReader struct {
	store store.Store
	jobs  chan job
	done  chan struct{}
	group *parallel.Group
}

func (r *StoreReader) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case j := <-r.jobs:
			buf, err := r.store.ReadInto(j.offset, j.length, j.buf)
			j.done(buf, err)
		}
	}
}

// ReadAsync submits a read to the worker pool. buf, when non-nil, is used as
// the destination for the read (see store.Store.ReadInto); pass nil to let
// the store allocate fresh.
func (r *StoreReader) ReadAsync(offset uint64, length uint32, buf []byte, done func([]byte, error)) {
	r.jobs <- job{offset: offset, length: length, buf: buf, done: done}
}

// Close stops the worker pool and waits for in-flight reads to finish.
func (r *StoreReader) Close() error {
	close(r.done)
	r.group.Exit(nil)
	return r.group.Wait()
}
