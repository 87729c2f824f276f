package dispatcher

// Fd is an opaque non-negative file descriptor referencing an OS-registered
// resource: a socket, a timer, or the dispatcher's own wake-up event.
type Fd int

// invalidFd denotes the absence of a registered file descriptor.
const invalidFd Fd = -1
