package ink

import "github.com/inkdb/ink-go/wire"

// ReadPreference states which servers may serve a read.
type ReadPreference int

const (
	// ReadPrimary routes the read to the primary for consistency.
	ReadPrimary ReadPreference = iota

	// ReadPrimaryPreferred uses the primary when reachable, any reader
	// otherwise.
	ReadPrimaryPreferred

	// ReadSecondaryEligible allows any reachable reader.
	ReadSecondaryEligible
)

func (p ReadPreference) String() string {
	switch p {
	case ReadPrimary:
		return "primary"
	case ReadPrimaryPreferred:
		return "primaryPreferred"
	case ReadSecondaryEligible:
		return "secondaryEligible"
	default:
		return "unknown"
	}
}

// ConnectionManager is the physical connection layer the dispatcher sits on:
// pooling, endpoint selection and topology awareness. Checkout is advisory:
// no exclusive lock is taken on the connection itself; writers are
// serialized by the Conn.
type ConnectionManager interface {
	// Open establishes the connection set. Idempotent.
	Open() error

	// Close tears the connection set down for good. Destroyed reports true
	// afterwards.
	Close()

	// CheckoutReader returns a connection able to serve a read under the
	// given preference.
	CheckoutReader(pref ReadPreference) (*Conn, error)

	// CheckoutWriter returns a connection to the primary.
	CheckoutWriter() (*Conn, error)

	// CanRead reports whether a read under pref could be served right now.
	CanRead(pref ReadPreference) bool

	// CanWrite reports whether the primary is reachable right now.
	CanWrite() bool

	// AutoReconnect reports whether undispatchable operations should be
	// buffered for replay instead of failing fast.
	AutoReconnect() bool

	// Destroyed reports whether the manager has been closed for good.
	Destroyed() bool

	// RawConnections enumerates one live connection per member of the
	// connection set. Used by broadcast dispatch.
	RawConnections() []*Conn

	// Compatible reports whether the connection's wire version is within the
	// driver's supported range.
	Compatible(conn *Conn) bool

	// Notify installs the delegate receiving replies and connection events.
	// Must be called before Open.
	Notify(d ConnectionEvents)
}

// ConnectionEvents is the delegate a ConnectionManager reports into. The
// Client implements it in normal operation.
type ConnectionEvents interface {
	// OnReply delivers one inbound server message for correlation.
	OnReply(conn *Conn, reply *wire.Reply)

	// OnConnectionError reports a connection declared dead. The receiver
	// flushes the pending requests tied to that endpoint.
	OnConnectionError(conn *Conn, err error)

	// OnPoolReady reports that connections are usable (again). The receiver
	// drains buffered operations.
	OnPoolReady()
}
