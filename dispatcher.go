package dispatcher

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Dispatcher is a single-threaded cooperative scheduler multiplexing
// Continuations over a primary readiness selector, a secondary "manager"
// selector holding the optional polling timer, and an internal wake-up
// event. See the package doc comment (selector.go) for the architecture
// overview.
//
// A Dispatcher is not safe for concurrent use except for WakeUp. All other
// methods, and every suspension primitive in primitives.go, must only be
// called from the goroutine that owns the Dispatcher (ordinarily the one
// blocked inside Run).
type Dispatcher struct {
	state State

	ids     idAllocator
	waiting *waitingTable
	// gotoTable is the spec's "goto" table (goto is a Go keyword): Id ->
	// the Continuation to resume when the corresponding event fires.
	gotoTable map[Id]Continuation
	// pending maps a Semaphore to the FIFO of Ids parked awaiting its
	// signal. spec.md §3 sketches this as a plain Semaphore -> Id map, but
	// §8's SignalAll scenario (five independent waiters on one semaphore,
	// released by a single call) requires more than one outstanding Id per
	// Semaphore; see DESIGN.md for this resolution.
	pending map[*Semaphore][]Id
	yields  yieldQueue

	selector selector[Id]
	manager  selector[Clock]

	wakeFd        Fd
	wakeManagerFd Fd
	timerFd       Fd

	// ownedFds tracks file descriptors the Dispatcher itself created (sleep
	// timers, the wake events, the polling timer) as opposed to caller-
	// supplied handles registered via IO. Only owned fds are closed on
	// unregistration; IO's caller-supplied fds are never closed by the
	// Dispatcher.
	ownedFds map[Fd]struct{}

	waitingTableCapacity int
	logger               Logger
	metrics              *stepMetrics
}

// New constructs a Dispatcher and eagerly initializes it (Unready ->
// Stopped), returning any error encountered creating the underlying OS
// selectors or wake event.
func New(opts ...Option) (*Dispatcher, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		state:                Unready,
		waitingTableCapacity: cfg.waitingTableCapacity,
		logger:               cfg.logger,
		metrics:              newStepMetrics(cfg.debugTelemetry),
		timerFd:              invalidFd,
		wakeFd:               invalidFd,
		wakeManagerFd:        invalidFd,
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// init lazily brings the Dispatcher from Unready to Stopped: creates both
// selectors, registers the wake-up event on each, and resets all queues and
// the ID allocator. Idempotent outside Unready.
func (d *Dispatcher) init() error {
	if d.state != Unready {
		return nil
	}

	sel, err := newSelector[Id]()
	if err != nil {
		return fmt.Errorf("dispatcher: init primary selector: %w", err)
	}
	mgr, err := newSelector[Clock]()
	if err != nil {
		_ = sel.close()
		return fmt.Errorf("dispatcher: init manager selector: %w", err)
	}

	wakeFd, err := sel.registerUserEvent(wakeupID)
	if err != nil {
		_ = sel.close()
		_ = mgr.close()
		return fmt.Errorf("dispatcher: register wake event: %w", err)
	}
	wakeManagerFd, err := mgr.registerUserEvent(time.Now())
	if err != nil {
		_ = sel.unregister(wakeFd)
		_ = sel.close()
		_ = mgr.close()
		return fmt.Errorf("dispatcher: register manager wake event: %w", err)
	}

	d.selector = sel
	d.manager = mgr
	d.wakeFd = wakeFd
	d.wakeManagerFd = wakeManagerFd
	d.timerFd = invalidFd
	d.waiting = newWaitingTable(d.waitingTableCapacity)
	d.waiting.put(wakeFd, wakeupID)
	d.gotoTable = make(map[Id]Continuation)
	d.pending = make(map[*Semaphore][]Id)
	d.yields = yieldQueue{}
	d.ownedFds = make(map[Fd]struct{})
	d.ownedFds[wakeFd] = struct{}{}
	d.ownedFds[wakeManagerFd] = struct{}{}
	d.ids.reset()
	d.state = Stopped

	d.log(LevelDebug, "init", "dispatcher ready", invalidID, nil)
	return nil
}

// Run transitions Stopped -> Running and repeatedly calls Poll until the
// Dispatcher stops (either because it ran empty with no polling timer, or
// because Stop was called). If interval > 0, a recurring wall-clock timer
// is registered on the manager selector so Poll's idle branch wakes
// periodically instead of only on new work or an explicit WakeUp.
func (d *Dispatcher) Run(interval time.Duration) error {
	if d.state != Stopped {
		return ErrNotStopped
	}
	if interval > 0 {
		tfd, err := d.manager.registerTimerPeriodic(interval, time.Time{})
		if err != nil {
			return fmt.Errorf("dispatcher: register polling timer: %w", err)
		}
		d.timerFd = tfd
		d.ownedFds[tfd] = struct{}{}
	}
	d.state = Running
	d.log(LevelInfo, "run", "dispatcher running", invalidID, nil)

	for d.state == Running {
		if err := d.poll(); err != nil {
			return err
		}
	}
	return nil
}

// Poll runs a single poll-loop iteration. It is a no-op unless the
// Dispatcher is Running.
func (d *Dispatcher) Poll() error {
	return d.poll()
}

func (d *Dispatcher) poll() error {
	if d.state != Running {
		return nil
	}

	if d.waiting.waiters > 0 {
		events, err := d.selector.selectBlocking(-1)
		if err != nil {
			return fmt.Errorf("dispatcher: primary select: %w", err)
		}
		for _, ev := range events {
			id := d.waiting.get(ev.fd)
			if id == wakeupID || id == invalidID {
				continue
			}
			if err := d.selector.unregister(ev.fd); err != nil {
				d.log(LevelWarn, "poll", "unregister failed", id, err)
			}
			d.releaseOwnedFd(ev.fd)
			c, ok := d.gotoTable[id]
			if !ok {
				// Invariant violation: a ready FD has no corresponding
				// goto entry. Not expected in correct programs; the
				// dispatcher does not attempt to recover.
				panic(missingRegistration(ev.fd, id))
			}
			delete(d.gotoTable, id)
			d.runContinuation(c)
		}
	}

	n := d.yields.len()
	for i := 0; i < n; i++ {
		c, ok := d.yields.pop()
		if !ok {
			break
		}
		d.runContinuation(c)
	}

	// A continuation run above may have called Stop, leaving the
	// Dispatcher reinitialized in Stopped; the iteration ends there.
	if d.state != Running {
		return nil
	}

	if d.isEmpty() {
		if d.timerFd == invalidFd {
			return d.Stop()
		}
		events, err := d.manager.selectBlocking(-1)
		if err != nil {
			_ = d.Stop()
			return fmt.Errorf("dispatcher: manager select: %w", err)
		}
		for _, ev := range events {
			if ev.errno != 0 {
				_ = d.Stop()
				return osError(fmt.Errorf("manager event fd=%d errno=%d", ev.fd, ev.errno))
			}
		}
	}

	return nil
}

// isEmpty reports whether the Dispatcher has no continuations in flight:
// none waiting on an event, none queued to run, none parked on a semaphore.
func (d *Dispatcher) isEmpty() bool {
	return len(d.gotoTable) == 0 && d.yields.len() == 0 && d.pendingCount() == 0
}

func (d *Dispatcher) pendingCount() int {
	n := 0
	for _, ids := range d.pending {
		n += len(ids)
	}
	return n
}

// runContinuation drives c to completion via Trampoline, timing the burst
// for the debug-telemetry metrics when enabled.
func (d *Dispatcher) runContinuation(c Continuation) {
	if !d.metrics.enabled {
		Trampoline(c)
		return
	}
	start := time.Now()
	Trampoline(c)
	d.metrics.record(time.Since(start))
}

// releaseOwnedFd closes fd if the Dispatcher created it (a sleep timer from
// poll's ready-event loop, or the wake events and polling timer from Stop).
// Caller-registered IO handles are never touched. Close errors are logged
// rather than propagated: by the time a ready event or Stop reaches this
// point there is no pending operation left to fail.
func (d *Dispatcher) releaseOwnedFd(fd Fd) {
	if _, owned := d.ownedFds[fd]; !owned {
		return
	}
	delete(d.ownedFds, fd)
	if err := unix.Close(int(fd)); err != nil {
		d.log(LevelWarn, "releaseOwnedFd", fmt.Sprintf("close fd=%d: %v", fd, err), invalidID, err)
	}
}

// Stop tears the Dispatcher down from Running: unregisters and closes both
// selectors and the wake events, drops all pending work, and reinitializes
// back to Stopped. Valid only from Running.
func (d *Dispatcher) Stop() error {
	if d.state != Running {
		return ErrNotRunning
	}
	d.state = Stopping
	d.log(LevelInfo, "stop", "dispatcher stopping", invalidID, nil)

	_ = d.manager.unregister(d.wakeManagerFd)
	d.releaseOwnedFd(d.wakeManagerFd)
	if d.timerFd != invalidFd {
		_ = d.manager.unregister(d.timerFd)
		d.releaseOwnedFd(d.timerFd)
		d.timerFd = invalidFd
	}
	_ = d.manager.close()

	_ = d.selector.unregister(d.wakeFd)
	d.releaseOwnedFd(d.wakeFd)
	_ = d.selector.close()

	// Any continuation still parked on a sleep or in-flight timer never got
	// the chance to unregister and release its fd through the normal poll
	// path; closing the primary selector above drops the OS-level
	// registration, but the fd itself is still open and must be closed here
	// or it leaks.
	for fd := range d.ownedFds {
		if err := unix.Close(int(fd)); err != nil {
			d.log(LevelWarn, "stop", fmt.Sprintf("close fd=%d: %v", fd, err), invalidID, err)
		}
	}

	for {
		if _, ok := d.yields.pop(); !ok {
			break
		}
	}
	d.pending = nil
	d.gotoTable = nil
	d.ownedFds = nil

	d.state = Unready
	return d.init()
}

// WakeUp interrupts a blocking select on either selector, causing the poll
// loop to re-evaluate its state. Safe to call from any goroutine. In
// Unready it lazily initializes the Dispatcher instead; it is ignored in
// Stopped or Stopping.
func (d *Dispatcher) WakeUp() error {
	switch d.state {
	case Running:
		if err := d.selector.triggerUserEvent(d.wakeFd); err != nil {
			return fmt.Errorf("dispatcher: wake primary selector: %w", err)
		}
		if err := d.manager.triggerUserEvent(d.wakeManagerFd); err != nil {
			return fmt.Errorf("dispatcher: wake manager selector: %w", err)
		}
		return nil
	case Unready:
		return d.init()
	default:
		return nil
	}
}

// Len returns the sum of the sizes of the goto table, the yields queue and
// the pending table. A continuation parked on a semaphore holds an entry in
// both the goto table and the pending table, so it counts twice.
func (d *Dispatcher) Len() int {
	return len(d.gotoTable) + d.yields.len() + d.pendingCount()
}

// NewSemaphore constructs a Semaphore carrying an Id drawn from this
// Dispatcher's allocator.
func (d *Dispatcher) NewSemaphore() *Semaphore {
	return newSemaphore(d.ids.next())
}

// Metrics returns a snapshot of the step-latency telemetry collected since
// construction, or a zero Metrics if WithDebugTelemetry was not set.
func (d *Dispatcher) Metrics() Metrics {
	return d.metrics.snapshot()
}

func (d *Dispatcher) log(level LogLevel, category, message string, id Id, err error) {
	if d.logger == nil || !d.logger.IsEnabled(level) {
		return
	}
	d.logger.Log(LogEntry{
		Level:          level,
		Category:       category,
		ContinuationID: int64(id),
		Message:        message,
		Err:            err,
		Timestamp:      time.Now(),
	})
}
