package dl

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the dl package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger configures the dl package's logger. A nil logger restores the
// no-op default.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}

// teardownFailed is called when a library that became unreachable cannot be
// closed. A failed unload leaves the process in an unknown state, so the
// default does not return.
var teardownFailed = func(name string, err error) {
	Logger().Fatal("automatic library teardown failed",
		zap.String("library", name), zap.Error(err))
}
