package ink

import (
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sony/gobreaker/v2"

	"github.com/inkdb/ink-go/wire"
)

// Config holds the client configuration. The zero value is not usable; at
// minimum Endpoints (or Manager) must be set.
type Config struct {
	// Endpoints lists the servers as host:port. The first entry is the
	// primary (writer); every entry may serve reads.
	Endpoints []string

	// MaxPoolSize is the maximum number of connections per endpoint.
	// Defaults to 4.
	MaxPoolSize int32

	// CheckoutTimeout bounds waiting for a pooled connection, dial included.
	// Defaults to 5s.
	CheckoutTimeout time.Duration

	// Dialer is used to create new connections. If nil, a default net.Dialer
	// is used.
	Dialer *net.Dialer

	// DisableAutoReconnect makes dispatch fail fast instead of buffering
	// operations while no connection is usable.
	DisableAutoReconnect bool

	// ReconnectInterval is how often a degraded manager probes the primary.
	// Defaults to 2s.
	ReconnectInterval time.Duration

	// BufferMaxEntries caps the total number of operations buffered across
	// all queues while disconnected. Exceeding it fails every buffered
	// operation and closes the handle. Zero means unlimited
	// (BufferUnlimited).
	BufferMaxEntries int

	// WriteConcern is the client-level default write concern. Nil means W=1.
	WriteConcern *WriteConcern

	// NewCircuitBreaker creates a circuit breaker guarding checkout for one
	// endpoint. If nil, DefaultCircuitBreaker is used. Set
	// DisableCircuitBreaker to run without one.
	NewCircuitBreaker     func(endpoint string) *gobreaker.CircuitBreaker[*Conn]
	DisableCircuitBreaker bool

	// Logger receives driver logs. Defaults to a null logger.
	Logger hclog.Logger

	// Codec frames commands and assigns request ids. Defaults to
	// wire.NewCodec().
	Codec *wire.Codec

	// Manager overrides the default endpoint-pool connection manager.
	// Endpoints is ignored when set.
	Manager ConnectionManager

	// OnUnhandledError receives connection-fatal errors that no handle
	// observed. Defaults to logging at error level.
	OnUnhandledError func(error)
}

func (c Config) withDefaults() Config {
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 4
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = 5 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 2 * time.Second
	}
	if c.BufferMaxEntries == 0 {
		c.BufferMaxEntries = BufferUnlimited
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	if c.Codec == nil {
		c.Codec = wire.NewCodec()
	}
	if c.NewCircuitBreaker == nil && !c.DisableCircuitBreaker {
		c.NewCircuitBreaker = DefaultCircuitBreaker
	}
	return c
}

// DefaultCircuitBreaker builds the checkout breaker used when the config
// does not provide one: trips after 3+ checkouts with a 60% failure ratio,
// half-opens after 10s.
func DefaultCircuitBreaker(endpoint string) *gobreaker.CircuitBreaker[*Conn] {
	settings := gobreaker.Settings{
		Name:     endpoint,
		Interval: time.Minute,
		Timeout:  10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
	return gobreaker.NewCircuitBreaker[*Conn](settings)
}
