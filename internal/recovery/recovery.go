// Package recovery provides panic recovery for the relay's background
// goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/postalsys/udpmirror/internal/logging"
)

// RecoverWithLog recovers from a panic and logs it with its stack.
// Defer it first thing in a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "http-server")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers from a panic, logs it, and passes the
// recovered value to callback.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Go runs fn in a new goroutine guarded by RecoverWithLog.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer RecoverWithLog(logger, name)
		fn()
	}()
}

// PanicError is returned by Call when fn panicked.
type PanicError struct {
	Name  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Name, e.Value)
}

// Call runs fn and converts a panic into a *PanicError.
func Call(logger *slog.Logger, name string, fn func() error) (err error) {
	defer RecoverWithCallback(logger, name, func(r any) {
		err = &PanicError{Name: name, Value: r}
	})
	return fn()
}

func logPanic(logger *slog.Logger, name string, r any) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger.Error("panic recovered",
		logging.KeyGoroutine, name,
		logging.KeyPanic, fmt.Sprintf("%v", r),
		logging.KeyStack, string(debug.Stack()))
}
