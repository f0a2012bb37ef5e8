package rtconn

import (
	"errors"
	"fmt"

	"github.com/ggoodman/rtconn-go/backend"
)

var (
	// ErrNotConnected matches every *NotConnectedError.
	ErrNotConnected = errors.New("not connected")
	// ErrTerminated matches every *LifecycleError.
	ErrTerminated = errors.New("service terminated")
	// ErrConnectAborted is returned by a Connect attempt that was overtaken by
	// Disconnect before it could complete.
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)

// NotConnectedError is returned by operations that require a connected
// Service. Hint is the last segment of the path involved, never the full path.
type NotConnectedError struct {
	Op   string
	Hint string
}

func (e *NotConnectedError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: not connected", e.Op)
	}
	return fmt.Sprintf("%s %q: not connected", e.Op, e.Hint)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// LifecycleError is returned by Connect on a terminated Service.
type LifecycleError struct {
	Identity string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("service %s was terminated; termination is irreversible", e.Identity)
}

func (e *LifecycleError) Is(target error) bool { return target == ErrTerminated }

// CallbackError describes a failed subscription callback. It is only ever
// handed to the error reporter.
type CallbackError struct {
	Identity string
	Path     string
	Kind     backend.EventKind
	// Err is the failure, or nil when the callback panicked with a value that
	// is not an error.
	Err error
	// Value is the raw panic value when Err is nil.
	Value any
}

// Error returns the underlying failure's message unchanged.
func (e *CallbackError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprint(e.Value)
}

func (e *CallbackError) Unwrap() error { return e.Err }
