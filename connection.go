package ink

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkdb/ink-go/wire"
)

// Wire protocol versions this driver can talk to. A connection outside the
// range fails capability gating before any write is attempted.
const (
	MinWireVersion int32 = 2
	MaxWireVersion int32 = 6
)

// Conn is a single connection to one server. Writes are serialized by the
// connection itself; checkout from the manager is advisory and takes no
// exclusive lock, so concurrent writers may share one Conn.
type Conn struct {
	endpoint string
	host     string
	port     int

	netConn net.Conn
	codec   *wire.Codec

	writeMu sync.Mutex
	closed  atomic.Bool

	wireVersion int32
	createdAt   time.Time

	// release is set by the pool each time the connection is checked out.
	// Nil for unpooled connections.
	release func(destroy bool)
}

// newConn wraps an established network connection.
func newConn(netConn net.Conn, endpoint string, codec *wire.Codec) *Conn {
	host, portStr, err := net.SplitHostPort(endpoint)
	port := 0
	if err == nil {
		port, _ = strconv.Atoi(portStr)
	} else {
		host = endpoint
	}
	return &Conn{
		endpoint:    endpoint,
		host:        host,
		port:        port,
		netConn:     netConn,
		codec:       codec,
		wireVersion: MaxWireVersion,
		createdAt:   time.Now(),
	}
}

// Endpoint returns the host:port this connection is bound to.
func (c *Conn) Endpoint() string { return c.endpoint }

// Host returns the server host.
func (c *Conn) Host() string { return c.host }

// Port returns the server port.
func (c *Conn) Port() int { return c.port }

// WireVersion returns the protocol version negotiated for this connection.
func (c *Conn) WireVersion() int32 { return c.wireVersion }

// Alive reports whether the connection is still usable.
func (c *Conn) Alive() bool { return !c.closed.Load() }

// WriteCommand frames and sends one command. Safe for concurrent use. The
// two messages of an acknowledged write must go through WritePair instead so
// no other writer can interleave between them.
func (c *Conn) WriteCommand(cmd *wire.Command) error {
	msg, err := c.encode(cmd)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// WritePair sends two messages back to back with no interleaving, e.g. a
// write followed by its acknowledgement query.
func (c *Conn) WritePair(first, second *wire.Command) error {
	firstMsg, err := c.encode(first)
	if err != nil {
		return err
	}
	secondMsg, err := c.encode(second)
	if err != nil {
		return err
	}
	return c.write(append(firstMsg, secondMsg...))
}

func (c *Conn) encode(cmd *wire.Command) ([]byte, error) {
	if c.closed.Load() {
		return nil, &wire.ConnectionError{Op: "write", Err: net.ErrClosed}
	}
	return c.codec.Encode(cmd)
}

func (c *Conn) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return &wire.ConnectionError{Op: "write", Err: net.ErrClosed}
	}
	if _, err := c.netConn.Write(msg); err != nil {
		c.closed.Store(true)
		return &wire.ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// ReadReply blocks until one server message arrives. Only the manager's
// reader loop calls this.
func (c *Conn) ReadReply() (*wire.Reply, error) {
	return c.codec.Decode(c.netConn)
}

// Release returns the connection to its pool, if pooled.
func (c *Conn) Release() {
	if c.release != nil {
		c.release(false)
	}
}

// Destroy removes the connection from its pool and closes it.
func (c *Conn) Destroy() {
	if c.release != nil {
		c.release(true)
		return
	}
	_ = c.Close()
}

// Close shuts the connection down.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.netConn.Close()
}
