package payroll

import "log"

// Logger is a minimal logging interface for the calculation engine.
// The default is a no-op.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger implements Logger with no output.
type NopLogger struct{}

func (NopLogger) Debugf(format string, args ...any) {}
func (NopLogger) Infof(format string, args ...any)  {}
func (NopLogger) Warnf(format string, args ...any)  {}
func (NopLogger) Errorf(format string, args ...any) {}

// StdLogger writes through a standard library logger with a level prefix.
type StdLogger struct {
	Logger *log.Logger
	Debug  bool
}

func (l StdLogger) Debugf(format string, args ...any) {
	if l.Debug {
		l.Logger.Printf("[Payroll] DEBUG "+format, args...)
	}
}

func (l StdLogger) Infof(format string, args ...any) {
	l.Logger.Printf("[Payroll] "+format, args...)
}

func (l StdLogger) Warnf(format string, args ...any) {
	l.Logger.Printf("[Payroll] WARN "+format, args...)
}

func (l StdLogger) Errorf(format string, args ...any) {
	l.Logger.Printf("[Payroll] ERROR "+format, args...)
}
