package dispatcher

// Trampoline drives c to completion, running entirely on the caller's
// stack: while c is non-nil, it is replaced by the result of stepping it.
// The trampoline never touches the dispatcher's queues directly — a
// Continuation's own Step implementation is responsible for registering
// itself with a Dispatcher via the suspension primitives in primitives.go
// before returning nil to cooperatively give up control.
func Trampoline(c Continuation) {
	for c != nil {
		c = c.Step()
	}
}
