//go:build darwin

package dispatcher

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// maxKevents bounds a single kevent batch, matching the teacher's
// poller_darwin.go preallocated buffer sizing.
const maxKevents = 256

// kqueueSelector implements selector[T] on Darwin using kqueue for readiness
// and EVFILT_TIMER for registered timers, adapted from the teacher's
// poller_darwin.go FastPoller. As with epollSelector, dispatch is pull-based:
// selectBlocking returns the ready {Fd, payload} pairs rather than invoking
// stored callbacks inline.
//
// Timer and user-event registrations have no natural OS-assigned file
// descriptor the way timerfd/eventfd do on Linux, so each is given one by
// opening a throwaway pipe and using its read end's fd as the kqueue ident.
// This keeps the Fd space small and densely packed (matching waitingTable's
// indexing assumption) and gives the Dispatcher a real descriptor to own and
// eventually close, mirroring how it already owns timerfd/eventfd on Linux.
type kqueueSelector[T any] struct {
	kq       int
	eventBuf [maxKevents]unix.Kevent_t
	regs     map[Fd]registration[T]
	// synthetic tracks idents minted via newIdentFD (timers and user
	// events), so unregister knows to delete the EVFILT_TIMER/EVFILT_USER
	// knote rather than EVFILT_READ/WRITE ones. The fd itself stays open.
	synthetic map[Fd]struct{}
}

func newKqueueSelector[T any]() (*kqueueSelector[T], error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: kqueue: %w", err)
	}
	unix.CloseOnExec(kq)
	return &kqueueSelector[T]{
		kq:        kq,
		regs:      make(map[Fd]registration[T]),
		synthetic: make(map[Fd]struct{}),
	}, nil
}

func (s *kqueueSelector[T]) registerFD(fd Fd, events ioEvents, payload T) error {
	return s.register(fd, events, payload, false)
}

func (s *kqueueSelector[T]) register(fd Fd, events ioEvents, payload T, selfManaged bool) error {
	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(s.kq, kevents, nil, nil); err != nil {
			return fmt.Errorf("dispatcher: kevent add fd=%d: %w", fd, err)
		}
	}
	s.regs[fd] = registration[T]{payload: payload, selfManaged: selfManaged}
	return nil
}

func (s *kqueueSelector[T]) registerTimerOneShot(d time.Duration, payload T) (Fd, error) {
	return s.registerTimer(d, 0, payload)
}

func (s *kqueueSelector[T]) registerTimerPeriodic(d time.Duration, payload T) (Fd, error) {
	return s.registerTimer(d, d, payload)
}

func (s *kqueueSelector[T]) registerTimer(initial, interval time.Duration, payload T) (Fd, error) {
	fd, err := newIdentFD()
	if err != nil {
		return invalidFd, err
	}
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	d := initial
	if interval <= 0 {
		// No recurrence requested: EV_ONESHOT tells the kernel to disarm
		// the timer (and auto-delete the knote) after the first firing.
		flags |= unix.EV_ONESHOT
	}
	if d <= 0 {
		d = time.Nanosecond
	}
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_TIMER,
		Flags:  flags,
		Fflags: unix.NOTE_NSECONDS,
		Data:   int64(d),
	}
	if _, err := unix.Kevent(s.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		closeIdentFD(fd)
		return invalidFd, fmt.Errorf("dispatcher: kevent add timer fd=%d: %w", fd, err)
	}
	s.regs[fd] = registration[T]{payload: payload, selfManaged: true}
	s.synthetic[fd] = struct{}{}
	return fd, nil
}

// registerUserEvent registers an EVFILT_USER knote, the kqueue analogue of
// Linux's eventfd: a software-only readiness source a caller can trigger
// from any goroutine. EV_CLEAR resets the fflags/NOTE_TRIGGER state after
// each delivery, matching eventfd's level-to-edge drain behavior.
func (s *kqueueSelector[T]) registerUserEvent(payload T) (Fd, error) {
	fd, err := newIdentFD()
	if err != nil {
		return invalidFd, err
	}
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_FFNOP,
	}
	if _, err := unix.Kevent(s.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		closeIdentFD(fd)
		return invalidFd, fmt.Errorf("dispatcher: kevent add user event fd=%d: %w", fd, err)
	}
	s.regs[fd] = registration[T]{payload: payload, selfManaged: true}
	s.synthetic[fd] = struct{}{}
	return fd, nil
}

// unregister removes fd's registration, honoring the selector[T] interface
// contract (selector.go) that it must not close fd itself: the Dispatcher's
// ownedFds/releaseOwnedFd bookkeeping is solely responsible for that, the
// same as on Linux.
func (s *kqueueSelector[T]) unregister(fd Fd) error {
	_, isSynthetic := s.synthetic[fd]
	delete(s.regs, fd)
	delete(s.synthetic, fd)
	if isSynthetic {
		// EVFILT_TIMER/EVFILT_USER idents aren't resolved through the OS
		// descriptor table the way EVFILT_READ/EVFILT_WRITE idents are, so
		// closing the ident fd would not by itself drop the knote — it must
		// be deleted explicitly. Only one of the two filters was ever
		// registered for a given fd; deleting the other harmlessly reports
		// ENOENT, which is ignored.
		for _, filter := range [...]int16{unix.EVFILT_TIMER, unix.EVFILT_USER} {
			ev := unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_DELETE}
			_, _ = unix.Kevent(s.kq, []unix.Kevent_t{ev}, nil, nil)
		}
		return nil
	}
	kevents := eventsToKevents(fd, ioRead|ioWrite, unix.EV_DELETE)
	if len(kevents) > 0 {
		_, _ = unix.Kevent(s.kq, kevents, nil, nil)
	}
	return nil
}

func (s *kqueueSelector[T]) triggerUserEvent(fd Fd) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	if _, err := unix.Kevent(s.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return fmt.Errorf("dispatcher: kevent trigger fd=%d: %w", fd, err)
	}
	return nil
}

func (s *kqueueSelector[T]) selectBlocking(timeout time.Duration) ([]readyEvent[T], error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		spec := durationToTimespec(timeout)
		ts = &spec
	}
	n, err := unix.Kevent(s.kq, nil, s.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatcher: kevent wait: %w", err)
	}
	events := make([]readyEvent[T], 0, n)
	for i := 0; i < n; i++ {
		fd := Fd(s.eventBuf[i].Ident)
		reg, ok := s.regs[fd]
		if !ok {
			continue
		}
		errno := 0
		if s.eventBuf[i].Flags&unix.EV_ERROR != 0 {
			errno = 1
		}
		events = append(events, readyEvent[T]{fd: fd, payload: reg.payload, errno: errno})
		// Timer/user-event knotes are EVFILT_USER/EVFILT_TIMER, not
		// counter fds to drain; selfManaged here only distinguishes them
		// from caller-registered I/O fds for documentation symmetry with
		// epollSelector — there is nothing to read back on this platform.
		_ = reg.selfManaged
	}
	return events, nil
}

func (s *kqueueSelector[T]) close() error {
	return unix.Close(s.kq)
}

// newIdentFD opens a throwaway pipe and returns its read end's fd as a
// unique, densely-allocated kqueue ident, closing the write end immediately
// since it's never used for data.
func newIdentFD() (Fd, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return invalidFd, fmt.Errorf("dispatcher: pipe: %w", err)
	}
	_ = unix.Close(fds[1])
	return Fd(fds[0]), nil
}

func closeIdentFD(fd Fd) {
	_ = unix.Close(int(fd))
}

func eventsToKevents(fd Fd, events ioEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&ioRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&ioWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

// durationToTimespec shares its name with selector_linux.go's helper (the
// two files never compile together so there is no redeclaration). Unlike
// the Linux helper, it keeps a zero duration as zero, which makes a kevent
// wait return immediately.
func durationToTimespec(d time.Duration) unix.Timespec {
	if d < 0 {
		d = 0
	}
	sec := int64(d / time.Second)
	nsec := int64(d % time.Second)
	return unix.Timespec{Sec: sec, Nsec: nsec}
}

// newSelector constructs the platform selector backend.
func newSelector[T any]() (selector[T], error) {
	return newKqueueSelector[T]()
}
