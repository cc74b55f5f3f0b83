package store

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	strataerrors "github.com/outofforest/strata/errors"
)

// NewFileStore mmaps file read-only and returns a Store view over it plus a
// deallocation function the caller must run once the store is no longer
// needed.
func NewFileStore(file *os.File) (*FileStore, func(), error) {
	size, err := file.Seek(0, os.SEEK_END)
	if err != nil {
		return nil, nil, strataerrors.NewIOError(errors.WithStack(err))
	}
	if size == 0 {
		return nil, nil, strataerrors.NewConfigError(errors.Errorf("graph file %q is empty", file.Name()))
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, strataerrors.NewIOError(errors.Wrapf(err, "mmap of %q failed", file.Name()))
	}

	return &FileStore{
			file: file,
			data: data,
		}, func() {
			_ = unix.Munmap(data)
			_ = file.Close()
		}, nil
}

// FileStore is a read-only, mmap-backed view over the graph or index file.
type FileStore struct {
	file *os.File
	data []byte
}

// Size returns the size of the mapped file.
func (s *FileStore) Size() uint64 {
	return uint64(len(s.data))
}

// ReadAt copies length bytes starting at offset. The graph file is read-only
// for the lifetime of an engine run, so this never races with a writer.
func (s *FileStore) ReadAt(offset uint64, length uint32) ([]byte, error) {
	return s.ReadInto(offset, length, nil)
}

// ReadInto copies length bytes starting at offset into dst, falling back to
// a fresh allocation when dst cannot hold them.
func (s *FileStore) ReadInto(offset uint64, length uint32, dst []byte) ([]byte, error) {
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

// Bytes returns the zero-copy backing slice of the whole mapped file.
func (s *FileStore) Bytes() []byte {
	return s.data
}
