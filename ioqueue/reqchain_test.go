package ioqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/mass"
	"github.com/outofforest/strata/types"
)

func TestCompletionChainPushBatchesBeforePublishing(t *testing.T) {
	chain := NewCompletionChain()
	reader := chain.NewCompletionReader()
	massC := mass.New[Completion](16)

	for i := 0; i < 7; i++ {
		c := NewCompletion(massC)
		c.Token = IORequestToken{Requester: 0}
		chain.Push(c)
	}

	require.EqualValues(t, 0, reader.Count(), "fewer than 8 pushes must not be published yet")
}

func TestCompletionChainPublishesOnFullBatch(t *testing.T) {
	chain := NewCompletionChain()
	reader := chain.NewCompletionReader()
	massC := mass.New[Completion](16)

	for i := 0; i < 8; i++ {
		c := NewCompletion(massC)
		c.Token = IORequestToken{Requester: 0}
		chain.Push(c)
	}

	require.EqualValues(t, 8, reader.Count())
}

func TestCompletionChainFlushPublishesPartialBatch(t *testing.T) {
	chain := NewCompletionChain()
	reader := chain.NewCompletionReader()
	massC := mass.New[Completion](16)

	for i := 0; i < 3; i++ {
		c := NewCompletion(massC)
		c.Token = IORequestToken{Requester: 0}
		chain.Push(c)
	}
	require.EqualValues(t, 0, reader.Count())

	chain.Flush()
	require.EqualValues(t, 3, reader.Count())
}

func TestCompletionReaderReadInOrder(t *testing.T) {
	chain := NewCompletionChain()
	reader := chain.NewCompletionReader()
	massC := mass.New[Completion](16)

	for i := 0; i < 8; i++ {
		c := NewCompletion(massC)
		c.Token = IORequestToken{Requester: types.VertexID(i)}
		chain.Push(c)
	}

	require.EqualValues(t, 8, reader.Count())
	for i := 0; i < 8; i++ {
		c := reader.Read()
		require.EqualValues(t, i, c.Token.Requester)
	}
}

func TestCompletionReaderWaitUnblocksOnFlush(t *testing.T) {
	chain := NewCompletionChain()
	reader := chain.NewCompletionReader()
	massC := mass.New[Completion](16)

	c := NewCompletion(massC)
	c.Token = IORequestToken{Requester: 42}
	chain.Push(c)

	done := make(chan struct{})
	go func() {
		reader.Wait()
		close(done)
	}()

	chain.Flush()
	<-done

	require.EqualValues(t, 1, reader.Count())
	require.EqualValues(t, 42, reader.Read().Token.Requester)
}
