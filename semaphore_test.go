package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_SignalMakesReady(t *testing.T) {
	s := newSemaphore(Id(1))
	assert.False(t, s.IsReady())
	s.Signal()
	assert.True(t, s.IsReady())
}

func TestSemaphore_WithReadyConsumesOneSignal(t *testing.T) {
	s := newSemaphore(Id(1))
	s.Signal()

	ran := s.WithReady(func() bool { return true })
	assert.True(t, ran)
	assert.False(t, s.IsReady(), "a consumed body leaves the semaphore not-ready")
}

func TestSemaphore_WithReadyRestoresSignalWhenNotConsumed(t *testing.T) {
	s := newSemaphore(Id(1))
	s.Signal()

	ran := s.WithReady(func() bool { return false })
	assert.True(t, ran, "body still runs, since the semaphore was ready")
	assert.True(t, s.IsReady(), "an unconsumed body's signal is restored")
}

func TestSemaphore_WithReadyNoOpWhenNotReady(t *testing.T) {
	s := newSemaphore(Id(1))
	called := false
	ran := s.WithReady(func() bool {
		called = true
		return true
	})
	assert.False(t, ran)
	assert.False(t, called, "body must not run when the semaphore isn't ready")
}

func TestSemaphore_WaitBlocksUntilSignal(t *testing.T) {
	s := newSemaphore(Id(1))

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before any Signal")
	case <-time.After(20 * time.Millisecond):
	}

	s.Signal()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Signal")
	}
	wg.Wait()
}

func TestSemaphore_MultipleSignalsAllowMultipleConsumes(t *testing.T) {
	s := newSemaphore(Id(1))
	s.Signal()
	s.Signal()
	s.Signal()

	consumed := 0
	for s.WithReady(func() bool { consumed++; return true }) {
	}
	require.Equal(t, 3, consumed)
	assert.False(t, s.IsReady())
}
