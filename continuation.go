package dispatcher

// Continuation is an opaque, resumable computation: invoking its Step method
// either advances it to the next step, or signals termination by returning a
// nil Continuation.
//
// Implementations are single-owner: at any instant, exactly one place in the
// system holds a live reference to a given Continuation — the gotoTable, the
// yields queue, or a running trampoline's local variable.
type Continuation interface {
	// Step runs one unit of work and returns the Continuation that should
	// resume next, or nil to terminate.
	Step() Continuation
}

// Cloner is implemented by Continuations that support Fork. Clone must
// return a value that, when stepped, continues execution independently of
// the original — a shallow copy is sufficient for the typical case of a
// struct carrying only value fields and an embedded step function.
type Cloner interface {
	Clone() Continuation
}

// ContinuationFunc adapts a plain func() Continuation to the Continuation
// interface, mirroring the teacher's func()-as-task convention from
// ChunkedIngress while fitting the spec's step-function contract.
type ContinuationFunc func() Continuation

// Step implements Continuation.
func (f ContinuationFunc) Step() Continuation {
	return f()
}
