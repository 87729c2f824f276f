package dispatcher

// options holds configuration resolved from a slice of Option, mirroring
// the teacher's loopOptions/resolveLoopOptions pattern.
type options struct {
	debugTelemetry       bool
	waitingTableCapacity int
	logger               Logger
}

// Option configures a Dispatcher at construction time.
type Option interface {
	apply(*options) error
}

type optionFunc func(*options) error

func (f optionFunc) apply(o *options) error { return f(o) }

// WithDebugTelemetry enables per-continuation step timing, exposed via
// Dispatcher.Metrics. It emits no registration tracing, and the
// Dispatcher's log calls do not depend on it. Disabled by default; a
// runtime functional option stands in for a compile-time flag since Go has
// no user-facing conditional-compilation surface suitable for a library.
func WithDebugTelemetry(enabled bool) Option {
	return optionFunc(func(o *options) error {
		o.debugTelemetry = enabled
		return nil
	})
}

// WithWaitingTableCapacity sets the initial capacity of the dense Fd -> Id
// waiting table. Default 64, per spec.md §6.
func WithWaitingTableCapacity(capacity int) Option {
	return optionFunc(func(o *options) error {
		o.waitingTableCapacity = capacity
		return nil
	})
}

// WithLogger overrides the Dispatcher's Logger. Default: the package-level
// global logger (see SetStructuredLogger), or a NoOpLogger if unset.
func WithLogger(logger Logger) Option {
	return optionFunc(func(o *options) error {
		o.logger = logger
		return nil
	})
}

// resolveOptions applies opts over the package defaults.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		waitingTableCapacity: defaultWaitingTableCapacity,
		logger:               getGlobalLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
