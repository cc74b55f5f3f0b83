package store

import (
	"github.com/pkg/errors"

	strataerrors "github.com/outofforest/strata/errors"
)

// NewMemoryStore wraps a plain byte slice as a Store. Used by tests and by
// any caller that has already loaded the graph/index bytes into memory.
func NewMemoryStore(data []byte) *MemoryStore {
	return &MemoryStore{data: data}
}

// MemoryStore is an in-memory Store. Used for testing and small graphs.
type MemoryStore struct {
	data []byte
}

// Size returns the size of the store.
func (s *MemoryStore) Size() uint64 {
	return uint64(len(s.data))
}

// ReadAt copies length bytes starting at offset.
func (s *MemoryStore) ReadAt(offset uint64, length uint32) ([]byte, error) {
	return s.ReadInto(offset, length, nil)
}

// ReadInto copies length bytes starting at offset into dst, falling back to
// a fresh allocation when dst cannot hold them.
func (s *MemoryStore) ReadInto(offset uint64, length uint32, dst []byte) ([]byte, error) {
	end := offset + uint64(length)
	if end > uint64(len(s.data)) {
		return nil, strataerrors.NewIOError(errors.Errorf(
			"read [%d, %d) out of bounds for store of size %d", offset, end, len(s.data)))
	}
	out := dst
	if cap(out) < int(length) {
		out = make([]byte, length)
	} else {
		out = out[:length]
	}
	copy(out, s.data[offset:end])
	return out, nil
}

// Bytes returns the zero-copy backing slice.
func (s *MemoryStore) Bytes() []byte {
	return s.data
}
