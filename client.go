package ink

import (
	"errors"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/inkdb/ink-go/wire"
)

// Client owns the shared connection set and the registry of logical database
// handles multiplexed over it. It is also the manager's delegate: every
// inbound server message and connection event funnels through it.
type Client struct {
	cfg     Config
	codec   *wire.Codec
	logger  hclog.Logger
	manager ConnectionManager

	registry *databaseRegistry
	stats    *driverStatsCollector
	metrics  *driverMetrics

	closed atomic.Bool
}

// NewClient builds a client from the config. No connection is made until a
// handle is opened or the first synchronous operation runs.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	manager := cfg.Manager
	if manager == nil {
		var err error
		manager, err = NewManager(cfg)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:     cfg,
		codec:   cfg.Codec,
		logger:  cfg.Logger,
		manager: manager,
		stats:   newDriverStatsCollector(),
	}
	c.registry = newDatabaseRegistry(cfg.Logger, cfg.OnUnhandledError)
	c.metrics = newDriverMetrics(c)
	manager.Notify(c)
	return c, nil
}

// Database returns the logical handle for name, creating it on first use.
// Handles are cached: equal names yield the same handle until it is closed.
func (c *Client) Database(name string) *Database {
	db := newDatabase(name, c)
	if existing := c.registry.Register(db); existing != nil {
		return existing
	}
	return db
}

// Close force-closes every handle and destroys the connection set.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	for _, db := range c.registry.All() {
		db.Close(true)
	}
	c.manager.Close()
}

// Manager exposes the connection manager, mainly for observability.
func (c *Client) Manager() ConnectionManager { return c.manager }

// Stats returns a snapshot of driver statistics.
func (c *Client) Stats() DriverStats { return c.stats.snapshot() }

// OnReply correlates one inbound server message to the handle that issued
// the matching request. A reply without a registered request is late or
// duplicate and is dropped with a log line.
func (c *Client) OnReply(conn *Conn, reply *wire.Reply) {
	c.stats.recordReply()

	var serverErr error
	if doc := reply.First(); doc != nil {
		serverErr = serverError(doc)
	}

	for _, db := range c.registry.All() {
		entry, ok := db.pending.Find(reply.ResponseTo)
		if !ok {
			continue
		}

		db.emit(EventMessage, nil, reply)
		db.pending.Complete(reply.ResponseTo, serverErr, reply)

		if entry.exhaust {
			if reply.Flags&wire.FlagExhaust != 0 {
				// More frames coming: the next one answers this message's own
				// request id, so the handler moves under it.
				db.pending.Reregister(reply.RequestID, reply.ResponseTo)
			} else {
				db.pending.Remove(reply.ResponseTo)
			}
		}
		return
	}

	c.stats.recordUnknownReply()
	c.logger.Warn("reply for unknown request id", "responseTo", reply.ResponseTo, "endpoint", conn.Endpoint())
}

// OnConnectionError fans a declared-dead connection out across every handle:
// the pending requests tied to that endpoint are flushed and the error is
// broadcast, resetting each handle's connection-established flag so its next
// operation goes back through the reconnection path.
func (c *Client) OnConnectionError(conn *Conn, err error) {
	c.stats.recordError()
	for _, db := range c.registry.All() {
		flushed := db.pending.Len()
		db.pending.FlushForEndpoint(conn.Host(), conn.Port(), err)
		c.stats.recordFlushed(flushed - db.pending.Len())
	}

	kind := EventError
	var parseErr *wire.ParseError
	if errors.As(err, &parseErr) {
		kind = EventParseError
	}
	c.registry.Broadcast(kind, err, nil, true, nil, kind == EventError)
}

// OnPoolReady marks every handle's connection established again and drains
// their buffered operations.
func (c *Client) OnPoolReady() {
	for _, db := range c.registry.All() {
		if db.state.Load() == stateConnected || db.state.Load() == stateConnecting {
			db.connEstablished.Store(true)
			db.drainBuffers()
		}
	}
	c.registry.Broadcast(EventPoolReady, nil, nil, false, nil, false)
}

// serverError maps a reply document carrying an error field to a
// CommandError. getLastError-style replies use "err", command replies "$err".
func serverError(doc map[string]any) error {
	msg, ok := doc["$err"].(string)
	if !ok {
		msg, ok = doc["err"].(string)
	}
	if !ok || msg == "" {
		return nil
	}
	code := 0
	switch v := doc["code"].(type) {
	case int:
		code = v
	case int8:
		code = int(v)
	case int16:
		code = int(v)
	case int32:
		code = int(v)
	case int64:
		code = int(v)
	case uint16:
		code = int(v)
	case uint32:
		code = int(v)
	case uint64:
		code = int(v)
	case float64:
		code = int(v)
	}
	return &CommandError{Code: code, Message: msg}
}
