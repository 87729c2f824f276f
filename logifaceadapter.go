package dispatcher

import (
	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// logifaceLogger adapts a *logiface.Logger[*islog.Event] to the dispatcher
// package's own Logger interface.
//
// The teacher's eventloop package references a WithLogger option and a
// logCritical method wiring in a typed logiface.Logger from its own test
// file (coverage_extra_test.go), but neither exists anywhere in its
// non-test source — an aspirational, never-finished integration. This
// adapter is the working version: NewLogifaceLogger(logger) wraps a typed
// logiface Logger (for example one bridging a standard log/slog.Handler via
// logiface-slog's islog.NewLogger) to satisfy this package's Logger
// interface, so it can be passed straight to WithLogger.
type logifaceLogger struct {
	logger *logiface.Logger[*islog.Event]
}

// NewLogifaceLogger wraps an existing *logiface.Logger[*islog.Event] (as
// constructed via logiface.New(islog.NewLogger(handler, opts...))) so it
// satisfies this package's Logger interface.
func NewLogifaceLogger(logger *logiface.Logger[*islog.Event]) Logger {
	return &logifaceLogger{logger: logger}
}

// IsEnabled reports whether level is enabled on the underlying logiface
// logger.
func (l *logifaceLogger) IsEnabled(level LogLevel) bool {
	return l.logger.Level() >= dispatcherLevelToLogiface(level)
}

// Log translates a LogEntry into a logiface builder call chain and commits
// it.
func (l *logifaceLogger) Log(entry LogEntry) {
	b := l.logger.Build(dispatcherLevelToLogiface(entry.Level))
	if b == nil {
		return
	}
	if entry.Category != "" {
		b = b.Str("category", entry.Category)
	}
	if entry.ContinuationID != 0 {
		b = b.Interface("continuation_id", entry.ContinuationID)
	}
	if entry.TimerFd != 0 {
		b = b.Interface("timer_fd", entry.TimerFd)
	}
	for k, v := range entry.Context {
		b = b.Interface(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// dispatcherLevelToLogiface maps this package's coarse LogLevel onto
// logiface's syslog-derived Level scale.
func dispatcherLevelToLogiface(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
