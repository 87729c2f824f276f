package dispatcher

// defaultWaitingTableCapacity is the initial capacity of the dense Fd -> Id
// table, per spec (overridable via WithWaitingTableCapacity).
const defaultWaitingTableCapacity = 64

// waitingTable maps a file descriptor to the Id that should be resumed when
// it becomes ready. It exploits the OS's habit of allocating small,
// densely-packed file descriptors: a growing slice indexed directly by Fd.
//
// waiters tracks the live count of non-sentinel entries, letting the poll
// loop decide in O(1) whether a blocking select is warranted at all.
type waitingTable struct {
	entries []Id
	waiters int
}

// newWaitingTable allocates a waitingTable with the given initial capacity.
func newWaitingTable(capacity int) *waitingTable {
	if capacity <= 0 {
		capacity = defaultWaitingTableCapacity
	}
	return &waitingTable{
		entries: make([]Id, capacity),
	}
}

// put records id as the continuation to resume when fd becomes ready,
// growing the table by doubling until fd is in range.
func (w *waitingTable) put(fd Fd, id Id) {
	w.grow(int(fd))
	prior := w.entries[fd]
	w.entries[fd] = id
	if id != invalidID && id != wakeupID && prior == invalidID {
		w.waiters++
	}
}

// get returns the Id registered against fd. Unless the entry is the
// wake-up sentinel, the slot is cleared to invalidID so the FD can be
// attributed correctly on any subsequent registration, and waiters is
// decremented if the cleared entry wasn't already a sentinel.
//
// The wake-up FD's entry is deliberately never cleared: repeated wake-up
// events must remain attributable to wakeupID for the lifetime of the
// dispatcher.
func (w *waitingTable) get(fd Fd) Id {
	if int(fd) < 0 || int(fd) >= len(w.entries) {
		return invalidID
	}
	id := w.entries[fd]
	if id == wakeupID {
		return id
	}
	if id != invalidID {
		w.entries[fd] = invalidID
		w.waiters--
	}
	return id
}

// grow doubles capacity until index fits.
func (w *waitingTable) grow(index int) {
	if index < len(w.entries) {
		return
	}
	newCap := len(w.entries)
	if newCap == 0 {
		newCap = defaultWaitingTableCapacity
	}
	for newCap <= index {
		newCap *= 2
	}
	grown := make([]Id, newCap)
	copy(grown, w.entries)
	w.entries = grown
}
