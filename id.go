package dispatcher

// Id is an opaque registration tag handed out by the dispatcher's allocator.
// Two values are reserved and never issued: invalidID and wakeupID.
type Id int64

const (
	// invalidID marks the absence of a registration.
	invalidID Id = 0
	// wakeupID is the sentinel attached to the dispatcher's own wake-up event.
	wakeupID Id = -1
)

// idAllocator hands out monotonically increasing Ids starting just past the
// reserved region [wakeupID, invalidID]. Rollover of a 64-bit counter is
// treated as a theoretical concern only, per spec, and is not handled: a
// dispatcher would need to issue more than 2^63 registrations in one
// lifetime before last wraps back through the reserved region.
type idAllocator struct {
	last Id
}

// next returns the next Id.
func (a *idAllocator) next() Id {
	a.last++
	return a.last
}

// reset returns the allocator to its initial state (used by Dispatcher.init
// when transitioning Unready -> Stopped).
func (a *idAllocator) reset() {
	a.last = invalidID
}
