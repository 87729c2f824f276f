package dispatcher

import (
	"fmt"
	"time"
)

// Yield suspends c until the end of the current (or the start of the next)
// poll iteration's yield drain. It always returns nil: c is now owned by
// the Dispatcher's yields queue, and the caller's trampoline should stop.
func Yield(d *Dispatcher, c Continuation) Continuation {
	d.yields.push(c)
	_ = d.WakeUp()
	return nil
}

// Sleep suspends c until interval has elapsed, registering a one-shot timer
// on the primary selector. Returns ErrInvalidArgument if interval is below
// one millisecond.
func Sleep(d *Dispatcher, c Continuation, interval time.Duration) (Continuation, error) {
	if interval < time.Millisecond {
		return nil, invalidArgument("sleep: interval must be >= 1ms")
	}
	id := d.ids.next()
	d.gotoTable[id] = c
	fd, err := d.selector.registerTimerOneShot(interval, id)
	if err != nil {
		delete(d.gotoTable, id)
		return nil, fmt.Errorf("dispatcher: sleep: %w", err)
	}
	d.ownedFds[fd] = struct{}{}
	d.waiting.put(fd, id)
	_ = d.WakeUp()
	return nil, nil
}

// SleepMs is a thin conversion over Sleep, interpreting ms as milliseconds.
func SleepMs(d *Dispatcher, c Continuation, ms int) (Continuation, error) {
	return Sleep(d, c, time.Duration(ms)*time.Millisecond)
}

// SleepSeconds is a thin conversion over Sleep: secs is multiplied by 1000
// and truncated to whole milliseconds, per spec.
func SleepSeconds(d *Dispatcher, c Continuation, secs float64) (Continuation, error) {
	return Sleep(d, c, time.Duration(secs*1000)*time.Millisecond)
}

// IO suspends c until fd reports one of the requested events, registering
// fd on the primary selector. The fd remains caller-owned: the Dispatcher
// never reads, writes, or closes it. Returns ErrInvalidArgument if events
// is empty.
func IO(d *Dispatcher, c Continuation, fd Fd, events IOEvents) (Continuation, error) {
	if events == 0 {
		return nil, invalidArgument("io: events must not be empty")
	}
	id := d.ids.next()
	d.gotoTable[id] = c
	if err := d.selector.registerFD(fd, events, id); err != nil {
		delete(d.gotoTable, id)
		return nil, fmt.Errorf("dispatcher: io: %w", err)
	}
	d.waiting.put(fd, id)
	_ = d.WakeUp()
	return nil, nil
}

// Wait suspends c until sem is signaled. If sem already has an unconsumed
// signal, c joins the tail of yields immediately (the fast path: any yields
// already enqueued this iteration run first). Otherwise c is parked in the
// pending table against sem, and the Dispatcher is not woken — there is
// nothing new to schedule until a signal arrives.
func Wait(d *Dispatcher, c Continuation, sem *Semaphore) Continuation {
	ran := sem.WithReady(func() bool {
		d.yields.push(c)
		return true
	})
	if ran {
		_ = d.WakeUp()
		return nil
	}

	id := d.ids.next()
	d.gotoTable[id] = c
	d.pending[sem] = append(d.pending[sem], id)
	return nil
}

// Signal signals sem and, if a continuation is parked awaiting it, moves
// the oldest one from the pending table to the tail of yields. The
// transfer happens inside sem.WithReady, so it can never race a concurrent
// Wait's fast-path readiness check.
func Signal(d *Dispatcher, sem *Semaphore) error {
	sem.Signal()
	var transferred bool
	sem.WithReady(func() bool {
		ids := d.pending[sem]
		if len(ids) == 0 {
			return false
		}
		id := ids[0]
		d.updatePending(sem, ids[1:])
		c, ok := d.gotoTable[id]
		if !ok {
			return false
		}
		delete(d.gotoTable, id)
		d.yields.push(c)
		transferred = true
		return true
	})
	if transferred {
		return d.WakeUp()
	}
	return nil
}

// SignalAll signals sem and, if it is ready, moves every continuation
// currently parked awaiting sem to the tail of yields in enqueue order —
// a single broadcast rather than the one-at-a-time transfer Signal
// performs, per spec.md §8's SignalAll scenario (one call releasing every
// waiter regardless of how many are pending).
func SignalAll(d *Dispatcher, sem *Semaphore) error {
	sem.Signal()
	var released bool
	sem.WithReady(func() bool {
		ids := d.pending[sem]
		if len(ids) == 0 {
			return false
		}
		delete(d.pending, sem)
		for _, id := range ids {
			c, ok := d.gotoTable[id]
			if !ok {
				continue
			}
			delete(d.gotoTable, id)
			d.yields.push(c)
		}
		released = true
		return true
	})
	if released {
		return d.WakeUp()
	}
	return nil
}

// updatePending replaces sem's pending Id list, removing the map entry
// entirely once it's empty so pendingCount and isEmpty don't iterate stale
// zero-length slices.
func (d *Dispatcher) updatePending(sem *Semaphore, ids []Id) {
	if len(ids) == 0 {
		delete(d.pending, sem)
		return
	}
	d.pending[sem] = ids
}

// Fork clones c via its Cloner implementation, enqueues the clone onto
// yields, wakes the Dispatcher, and returns c itself so the original
// branch continues running synchronously while the clone resumes on a
// later poll iteration.
func Fork(d *Dispatcher, c Continuation) Continuation {
	cl, ok := c.(Cloner)
	if !ok {
		panic("dispatcher: fork requires a Continuation implementing Cloner")
	}
	d.yields.push(cl.Clone())
	_ = d.WakeUp()
	return c
}

// Spawn enqueues an unstarted continuation for the next poll iteration.
// Unlike the other primitives, it is called directly from surrounding code
// rather than from within a running Continuation's Step.
func Spawn(d *Dispatcher, c Continuation) error {
	d.yields.push(c)
	return d.WakeUp()
}

// Discard ends the calling continuation: it always returns the terminal
// sentinel (nil).
func Discard() Continuation {
	return nil
}
