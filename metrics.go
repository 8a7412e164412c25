package ink

import (
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// driverMetrics exports the driver counters in Prometheus text format.
// Gauges read the live atomic counters on scrape; nothing is sampled twice.
type driverMetrics struct {
	set *metrics.Set
}

func newDriverMetrics(c *Client) *driverMetrics {
	set := metrics.NewSet()

	counter := func(name string, field *uint64) {
		set.NewGauge(name, func() float64 {
			return float64(atomic.LoadUint64(field))
		})
	}
	s := c.stats.stats
	counter("ink_reads_total", &s.Reads)
	counter("ink_writes_total", &s.Writes)
	counter("ink_broadcasts_total", &s.Broadcasts)
	counter("ink_buffered_total", &s.Buffered)
	counter("ink_drained_total", &s.Drained)
	counter("ink_replies_total", &s.Replies)
	counter("ink_unknown_replies_total", &s.UnknownReplies)
	counter("ink_flushed_requests_total", &s.Flushed)
	counter("ink_handler_panics_total", &s.HandlerPanics)
	counter("ink_connection_errors_total", &s.Errors)

	set.NewGauge("ink_pending_requests", func() float64 {
		total := 0
		for _, db := range c.registry.All() {
			total += db.pending.Len()
		}
		return float64(total)
	})
	set.NewGauge("ink_buffered_operations", func() float64 {
		total := 0
		for _, db := range c.registry.All() {
			total += db.buffer.Size()
		}
		return float64(total)
	})
	set.NewGauge("ink_database_handles", func() float64 {
		return float64(len(c.registry.All()))
	})

	return &driverMetrics{set: set}
}

// WritePrometheus writes the driver metrics in Prometheus text format.
func (c *Client) WritePrometheus(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}
