package dispatcher

import "sync"

// Semaphore is the dispatcher's coordination primitive: a counting
// semaphore with ready/not-ready state, identity-hashable by pointer so it
// can key the dispatcher's pending table directly.
//
// Semaphore is safe to Signal from any goroutine (matching spec §5's
// "shared resources" note that the wake event, and by extension anything
// that must interrupt a blocking select, may be triggered cross-thread).
// A Continuation waits on it through the Wait suspension primitive, which
// never calls the Wait method; that method is a raw blocking wait for
// callers outside any Dispatcher.
type Semaphore struct {
	id    Id
	mu    sync.Mutex
	cond  sync.Cond
	count int
}

// newSemaphore constructs a Semaphore carrying an Id drawn from the given
// allocator, per spec §3 ("Its integer ID... is drawn from the same ID
// allocator").
func newSemaphore(id Id) *Semaphore {
	s := &Semaphore{id: id}
	s.cond.L = &s.mu
	return s
}

// Signal increments the semaphore's internal counter, as the external
// signal/wait collaborator spec §4.4 describes. It does not, by itself,
// wake any dispatcher or transfer any waiter — that's the job of the
// Signal/SignalAll suspension primitives, which call this then enter
// WithReady to perform the pending-table transfer atomically.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	s.count++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// IsReady reports whether the semaphore currently has an un-consumed
// signal available.
func (s *Semaphore) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count > 0
}

// WithReady runs body only if the semaphore is ready, consuming exactly one
// signal as part of entering the critical section. This is the guard spec
// §9 calls out by name: "signal's transfer is guarded by withReady...
// without it, wait and signal race on the pending table." body returns
// whether it actually consumed a waiter; if it didn't, the signal is
// restored so a later Wait can still observe readiness.
func (s *Semaphore) WithReady(body func() (consumed bool)) (ran bool) {
	s.mu.Lock()
	if s.count == 0 {
		s.mu.Unlock()
		return false
	}
	s.count--
	s.mu.Unlock()

	consumed := body()
	if !consumed {
		s.mu.Lock()
		s.count++
		s.mu.Unlock()
	}
	return true
}

// Wait blocks the calling goroutine until the semaphore is signaled. This is
// a raw, non-cooperative wait for non-dispatcher callers (e.g. tests driving
// a Dispatcher from a second goroutine); Continuations must suspend via the
// Wait suspension primitive in primitives.go instead, never this method.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
}
