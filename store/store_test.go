package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/strata/store"
)

func TestMemoryStoreReadAt(t *testing.T) {
	data := []byte("0123456789")
	s := store.NewMemoryStore(data)

	require.EqualValues(t, len(data), s.Size())

	got, err := s.ReadAt(2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("2345"), got)
}

func TestMemoryStoreReadAtOutOfBounds(t *testing.T) {
	s := store.NewMemoryStore([]byte("short"))

	_, err := s.ReadAt(3, 100)
	require.Error(t, err)
}

func TestMemoryStoreReadAtIsCopy(t *testing.T) {
	data := []byte("abcdef")
	s := store.NewMemoryStore(data)

	got, err := s.ReadAt(0, 3)
	require.NoError(t, err)
	got[0] = 'X'
	require.Equal(t, byte('a'), data[0], "ReadAt must return a copy, not a view into the backing slice")
}

func TestFailingStoreAlwaysErrors(t *testing.T) {
	s := store.NewFailingStore(1024)
	require.EqualValues(t, 1024, s.Size())

	_, err := s.ReadAt(0, 10)
	require.Error(t, err)
}
