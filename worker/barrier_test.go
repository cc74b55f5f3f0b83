package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllParticipants(t *testing.T) {
	const n = 5
	b := NewBarrier(n)

	var wg sync.WaitGroup
	var onLastCalls int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Wait(func() { atomic.AddInt64(&onLastCalls, 1) })
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier did not release all participants")
	}
	require.EqualValues(t, 1, atomic.LoadInt64(&onLastCalls), "onLast must run exactly once per generation")
}

func TestBarrierReusableAcrossGenerations(t *testing.T) {
	const n = 3
	b := NewBarrier(n)

	for gen := 0; gen < 3; gen++ {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Wait(nil)
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("barrier did not release generation %d", gen)
		}
	}
}
