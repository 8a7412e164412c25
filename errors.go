package ink

import (
	"errors"
	"fmt"
)

var (
	// ErrHandleClosed is returned when dispatching on a handle that was
	// force-closed by the application. Fatal to the handle, not the process.
	ErrHandleClosed = errors.New("ink: database handle closed by application")

	// ErrConnectionDestroyed is returned once the connection manager has been
	// torn down for good.
	ErrConnectionDestroyed = errors.New("ink: connection destroyed")

	// ErrNoOpenConnections is returned when no connection can serve the
	// operation and auto-reconnect buffering is disabled. The caller may
	// retry; the driver does not.
	ErrNoOpenConnections = errors.New("ink: no open connections")

	// ErrClientClosed is returned by client-level operations after Close.
	ErrClientClosed = errors.New("ink: client closed")
)

// BufferCapacityError reports that the number of operations buffered while
// disconnected exceeded the configured ceiling. Every buffered operation is
// failed with this error and the owning handle is closed.
type BufferCapacityError struct {
	Limit    int
	Buffered int
}

func (e *BufferCapacityError) Error() string {
	return fmt.Sprintf("ink: buffered operations exceeded limit (%d > %d)", e.Buffered, e.Limit)
}

// IncompatibleVersionError reports a connection whose negotiated wire version
// falls outside the range this driver supports. Per-operation, not fatal to
// the handle.
type IncompatibleVersionError struct {
	Endpoint string
	Version  int32
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("ink: server %s speaks wire version %d, supported range is %d..%d",
		e.Endpoint, e.Version, MinWireVersion, MaxWireVersion)
}

// AuthMechanismError reports an authentication mechanism this driver does not
// implement. Raised before any network I/O.
type AuthMechanismError struct {
	Mechanism string
}

func (e *AuthMechanismError) Error() string {
	return fmt.Sprintf("ink: unsupported authentication mechanism %q", e.Mechanism)
}

// HandlerPanicError wraps a panic recovered from a completion handler. It is
// re-routed as a broadcast error instead of unwinding the dispatch loop.
type HandlerPanicError struct {
	RequestID int32
	Value     any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("ink: completion handler for request %d panicked: %v", e.RequestID, e.Value)
}

// CommandError reports a command that reached the server and was rejected.
type CommandError struct {
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ink: command failed (code %d): %s", e.Code, e.Message)
	}
	return "ink: command failed: " + e.Message
}
