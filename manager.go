package ink

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"
	"github.com/zeebo/xxh3"

	"github.com/inkdb/ink-go/internal"
	"github.com/inkdb/ink-go/wire"
)

// Manager is the default ConnectionManager: a static endpoint list with one
// connection pool per endpoint. The first endpoint is the primary; every
// endpoint may serve reads. Each live connection runs a reader goroutine
// delivering server messages to the delegate.
type Manager struct {
	endpoints []string
	cfg       Config
	codec     *wire.Codec
	logger    hclog.Logger

	delegate ConnectionEvents

	mu     sync.RWMutex
	pools  map[string]*endpointPool
	opened bool

	destroyed atomic.Bool
	degraded  atomic.Bool
	readSeq   atomic.Uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// endpointPool is one endpoint's connection pool plus its checkout breaker.
type endpointPool struct {
	endpoint string
	pool     *puddle.Pool[*Conn]
	breaker  *gobreaker.CircuitBreaker[*Conn] // nil when disabled
}

var _ ConnectionManager = (*Manager)(nil)

// NewManager builds the default manager from the config. The manager is not
// connected until Open.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("ink: no endpoints provided")
	}
	return &Manager{
		endpoints: cfg.Endpoints,
		cfg:       cfg,
		codec:     cfg.Codec,
		logger:    cfg.Logger.Named("manager"),
		stopCh:    make(chan struct{}),
	}, nil
}

func (m *Manager) Notify(d ConnectionEvents) {
	m.delegate = d
}

// Open creates the per-endpoint pools and validates that the primary is
// reachable. Idempotent while the manager is alive.
func (m *Manager) Open() error {
	if m.destroyed.Load() {
		return ErrConnectionDestroyed
	}

	m.mu.Lock()
	if m.opened {
		m.mu.Unlock()
		return nil
	}

	pools := make(map[string]*endpointPool, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		ep, err := m.newEndpointPool(endpoint)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		pools[endpoint] = ep
	}
	m.pools = pools
	m.opened = true
	m.mu.Unlock()

	// Reach the primary once so Open fails loudly on a dead deployment.
	conn, err := m.CheckoutWriter()
	if err != nil {
		return err
	}
	conn.Release()

	if !m.cfg.DisableAutoReconnect {
		go m.reconnectLoop()
	}

	m.logger.Debug("connection set open", "endpoints", len(m.endpoints))
	if m.delegate != nil {
		m.delegate.OnPoolReady()
	}
	return nil
}

func (m *Manager) newEndpointPool(endpoint string) (*endpointPool, error) {
	constructor := func(ctx context.Context) (*Conn, error) {
		netConn, err := m.cfg.Dialer.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			return nil, err
		}
		conn := newConn(netConn, endpoint, m.codec)
		go m.readLoop(conn)
		return conn, nil
	}

	pool, err := puddle.NewPool(&puddle.Config[*Conn]{
		Constructor: constructor,
		Destructor:  func(c *Conn) { _ = c.Close() },
		MaxSize:     m.cfg.MaxPoolSize,
	})
	if err != nil {
		return nil, err
	}

	ep := &endpointPool{endpoint: endpoint, pool: pool}
	if m.cfg.NewCircuitBreaker != nil {
		ep.breaker = m.cfg.NewCircuitBreaker(endpoint)
	}
	return ep, nil
}

// Close destroys every pool. The manager cannot be reopened.
func (m *Manager) Close() {
	if m.destroyed.Swap(true) {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	pools := m.pools
	m.pools = nil
	m.opened = false
	m.mu.Unlock()

	for _, ep := range pools {
		ep.pool.Close()
	}
}

func (m *Manager) endpointPoolFor(endpoint string) (*endpointPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.opened {
		return nil, ErrNoOpenConnections
	}
	ep, ok := m.pools[endpoint]
	if !ok {
		return nil, ErrNoOpenConnections
	}
	return ep, nil
}

// checkout acquires a live connection from the endpoint's pool, retrying
// past connections that died while idle. The checkout is advisory: the
// returned Conn stays shared with its reader goroutine and, for broadcast,
// with other holders.
func (m *Manager) checkout(endpoint string) (*Conn, error) {
	ep, err := m.endpointPoolFor(endpoint)
	if err != nil {
		return nil, err
	}

	acquire := func() (*Conn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckoutTimeout)
		defer cancel()
		for {
			res, err := ep.pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			conn := res.Value()
			if !conn.Alive() {
				res.Destroy()
				continue
			}
			conn.release = func(destroy bool) {
				if destroy {
					res.Destroy()
				} else {
					res.Release()
				}
			}
			return conn, nil
		}
	}

	var conn *Conn
	if ep.breaker != nil {
		conn, err = ep.breaker.Execute(acquire)
	} else {
		conn, err = acquire()
	}
	if err != nil {
		m.degraded.Store(true)
		return nil, err
	}
	return conn, nil
}

func (m *Manager) CheckoutWriter() (*Conn, error) {
	if m.destroyed.Load() {
		return nil, ErrConnectionDestroyed
	}
	return m.checkout(m.endpoints[0])
}

func (m *Manager) CheckoutReader(pref ReadPreference) (*Conn, error) {
	if m.destroyed.Load() {
		return nil, ErrConnectionDestroyed
	}

	switch pref {
	case ReadPrimary:
		return m.checkout(m.endpoints[0])

	case ReadPrimaryPreferred:
		conn, err := m.checkout(m.endpoints[0])
		if err == nil {
			return conn, nil
		}
		return m.checkoutAnyReader()

	default:
		return m.checkoutAnyReader()
	}
}

// checkoutAnyReader spreads reads across endpoints by jump-hashing a
// per-manager sequence, falling through to the remaining endpoints in order
// when the chosen one is unavailable.
func (m *Manager) checkoutAnyReader() (*Conn, error) {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.readSeq.Add(1))
	start := internal.JumpHash(xxh3.Hash(seq[:]), len(m.endpoints))

	var lastErr error
	for i := range m.endpoints {
		endpoint := m.endpoints[(start+i)%len(m.endpoints)]
		conn, err := m.checkout(endpoint)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m *Manager) CanWrite() bool {
	return m.canServe(m.endpoints[:1])
}

func (m *Manager) CanRead(pref ReadPreference) bool {
	if pref == ReadPrimary {
		return m.CanWrite()
	}
	return m.canServe(m.endpoints)
}

func (m *Manager) canServe(endpoints []string) bool {
	if m.destroyed.Load() || m.degraded.Load() {
		return false
	}
	m.mu.RLock()
	opened := m.opened
	pools := m.pools
	m.mu.RUnlock()
	if !opened {
		return false
	}
	for _, endpoint := range endpoints {
		ep := pools[endpoint]
		if ep == nil {
			continue
		}
		if ep.breaker == nil || ep.breaker.State() != gobreaker.StateOpen {
			return true
		}
	}
	return false
}

func (m *Manager) AutoReconnect() bool {
	return !m.cfg.DisableAutoReconnect
}

func (m *Manager) Destroyed() bool {
	return m.destroyed.Load()
}

// RawConnections returns one live connection per endpoint. Connections are
// handed back to their pools immediately; they stay usable because checkout
// is advisory.
func (m *Manager) RawConnections() []*Conn {
	conns := make([]*Conn, 0, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		conn, err := m.checkout(endpoint)
		if err != nil {
			continue
		}
		conn.Release()
		conns = append(conns, conn)
	}
	return conns
}

func (m *Manager) Compatible(conn *Conn) bool {
	v := conn.WireVersion()
	return v >= MinWireVersion && v <= MaxWireVersion
}

// readLoop delivers inbound messages for one connection until it dies.
func (m *Manager) readLoop(conn *Conn) {
	for {
		reply, err := conn.ReadReply()
		if err != nil {
			wasAlive := conn.Alive()
			_ = conn.Close()
			if !wasAlive || m.destroyed.Load() {
				return
			}
			m.degraded.Store(true)
			m.logger.Warn("connection lost", "endpoint", conn.Endpoint(), "error", err)
			if m.delegate != nil {
				m.delegate.OnConnectionError(conn, err)
			}
			return
		}
		if m.delegate != nil {
			m.delegate.OnReply(conn, reply)
		}
	}
}

// reconnectLoop probes the primary while degraded and announces pool
// readiness once a checkout succeeds again.
func (m *Manager) reconnectLoop() {
	ticker := time.NewTicker(m.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.destroyed.Load() || !m.degraded.Load() {
				continue
			}
			conn, err := m.CheckoutWriter()
			if err != nil {
				continue
			}
			conn.Release()
			m.degraded.Store(false)
			m.logger.Info("connection set recovered", "endpoint", conn.Endpoint())
			if m.delegate != nil {
				m.delegate.OnPoolReady()
			}
		}
	}
}
