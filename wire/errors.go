package wire

import (
	"errors"
	"fmt"
)

// Error types for wire operations. They classify whether the connection's
// protocol state is still trustworthy after the failure.

// ParseError reports a malformed server message. The framing state of the
// connection is unknown afterwards, so it must be closed.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "wire: " + e.Message + ": " + e.Err.Error()
	}
	return "wire: " + e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) ShouldCloseConnection() bool { return true }

// ConnectionError wraps an I/O failure on the underlying connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("wire: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) ShouldCloseConnection() bool { return true }

// DocumentError reports a client-side encoding failure. The connection was
// never touched and stays usable.
type DocumentError struct {
	Message string
	Err     error
}

func (e *DocumentError) Error() string {
	if e.Err != nil {
		return "wire: " + e.Message + ": " + e.Err.Error()
	}
	return "wire: " + e.Message
}

func (e *DocumentError) Unwrap() error { return e.Err }

func (e *DocumentError) ShouldCloseConnection() bool { return false }

// ErrorWithConnectionState is implemented by wire errors to tell callers
// whether the connection must be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err requires closing the connection.
// Unknown error types are treated as fatal to the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}
	return true
}
