package store

import (
	strataerrors "github.com/outofforest/strata/errors"
)

// NewFailingStore creates a store whose every read fails. It exercises the
// engine's fatal-IOError path (§7: "the engine treats I/O errors as fatal")
// without needing a real corrupted file on disk.
func NewFailingStore(size uint64) *FailingStore {
	return &FailingStore{size: size}
}

// FailingStore is a Store that always fails reads. Used in tests only.
type FailingStore struct {
	size uint64
}

// Size returns the configured size.
func (s *FailingStore) Size() uint64 {
	return s.size
}

// ReadAt always fails.
func (s *FailingStore) ReadAt(offset uint64, length uint32) ([]byte, error) {
	return nil, strataerrors.NewIOError(
		strataerrors.Errorf("simulated read failure at offset %d length %d", offset, length))
}

// ReadInto always fails.
func (s *FailingStore) ReadInto(offset uint64, length uint32, _ []byte) ([]byte, error) {
	return s.ReadAt(offset, length)
}

// Bytes returns an empty slice; FailingStore has no backing bytes.
func (s *FailingStore) Bytes() []byte {
	return nil
}
