// Package dispatcher implements a single-threaded cooperative scheduler
// that multiplexes user-level Continuations over OS readiness
// notifications, timers, and a semaphore-based coordination primitive.
//
// # Architecture
//
// The core is [Dispatcher]: a lifecycle state machine and poll loop that
// drains a primary readiness selector and a secondary "manager" selector
// (which owns the optional polling timer) on each iteration, resuming the
// Continuation registered against whichever Id the ready event maps to via
// [Trampoline]. Cooperative yields bypass the selector entirely and are
// drained from an internal FIFO queue, bounded per iteration to avoid
// starving I/O.
//
// Continuations suspend only at the boundaries defined in primitives.go:
// [Yield], [Sleep], [IO], [Wait], [Signal], [SignalAll], [Fork], [Spawn],
// and [Discard]. Step-function bodies between suspension points run to
// completion without interruption — there is no preemption.
//
// # Platform support
//
// The selector bridge is implemented using platform-native readiness
// primitives:
//   - Linux: epoll, with timerfd for registered timers
//   - Darwin: kqueue, with EVFILT_TIMER for registered timers
//
// # Thread safety
//
// A [Dispatcher] is not safe for concurrent use except for [Dispatcher.WakeUp],
// which may be called from any goroutine (or, where the underlying OS
// primitive permits it, a signal handler) to interrupt a blocking poll.
package dispatcher

import "time"

// ioEvents is a bitmask of readiness conditions a caller may register
// interest in via IO.
type ioEvents uint32

const (
	// ioRead indicates the file descriptor is ready for reading.
	ioRead ioEvents = 1 << iota
	// ioWrite indicates the file descriptor is ready for writing.
	ioWrite
	// ioError indicates an error condition on the file descriptor.
	ioError
	// ioHangup indicates the peer closed its end of the connection.
	ioHangup
)

// IOEvents is the public event-set type accepted by IO, matching the
// selector's internal ioEvents bit layout.
type IOEvents = ioEvents

// Public event constants, for callers registering interest via IO.
const (
	EventRead   = ioRead
	EventWrite  = ioWrite
	EventError  = ioError
	EventHangup = ioHangup
)

// readyEvent is one readiness notification returned from a blocking select,
// carrying back the Fd it fired on and the payload supplied at
// registration time (an Id for the primary selector, a Clock for the
// manager selector).
type readyEvent[T any] struct {
	fd      Fd
	payload T
	errno   int
}

// registration tracks the payload for a selector-registered fd, plus
// whether the fd is a kernel counter-based primitive (timerfd/eventfd on
// Linux, or a synthetic ident backing a timer/user knote on Darwin) that
// must be drained or otherwise treated as self-managed, as opposed to a
// plain caller-supplied I/O handle registered via the IO suspension
// primitive, which only the caller has the right to read.
type registration[T any] struct {
	payload     T
	selfManaged bool
}

// selector abstracts the OS readiness primitive behind the capability set
// spec.md §9's design notes call for: register_fd, register_timer_oneshot,
// register_timer_periodic, register_user_event, unregister,
// trigger_user_event, select_blocking, close.
type selector[T any] interface {
	// registerFD registers fd for the given events, tagging it with payload.
	registerFD(fd Fd, events ioEvents, payload T) error
	// registerTimerOneShot creates and registers a one-shot timer that fires
	// after d, returning the Fd it was registered under.
	registerTimerOneShot(d time.Duration, payload T) (Fd, error)
	// registerTimerPeriodic creates and registers a recurring timer that
	// fires every d, returning the Fd it was registered under.
	registerTimerPeriodic(d time.Duration, payload T) (Fd, error)
	// registerUserEvent registers a user-triggerable readiness source,
	// returning the Fd the OS assigned to it. Per this implementation's
	// resolution of spec.md §9's Open Question, the Fd is obtained directly
	// here rather than by triggering the event and inspecting the next
	// ready set.
	registerUserEvent(payload T) (Fd, error)
	// unregister removes fd from the selector. It does not close fd.
	unregister(fd Fd) error
	// triggerUserEvent signals the user event registered at fd, causing any
	// blocking selectBlocking call to return. Safe to call cross-goroutine.
	triggerUserEvent(fd Fd) error
	// selectBlocking blocks until at least one event is ready, or timeout
	// elapses (a negative timeout blocks indefinitely), returning the ready
	// set.
	selectBlocking(timeout time.Duration) ([]readyEvent[T], error)
	// close releases all OS resources held by the selector.
	close() error
}
