package ink

import "sync/atomic"

// DriverStats is a snapshot of driver-wide counters. All fields are
// monotonically increasing over the client's lifetime.
type DriverStats struct {
	Reads          uint64 // read-style dispatches handed to the wire
	Writes         uint64 // write-style dispatches handed to the wire
	Broadcasts     uint64 // broadcast dispatches
	Buffered       uint64 // operations queued while disconnected
	Drained        uint64 // buffered operations replayed after reconnect
	Replies        uint64 // inbound server messages
	UnknownReplies uint64 // replies with no matching pending request
	Flushed        uint64 // pending requests failed by bulk flush
	HandlerPanics  uint64 // completion handlers that panicked
	Errors         uint64 // connection-level errors observed
}

// driverStatsCollector updates the counters. Not exported; the client and
// its handles update their own stats.
type driverStatsCollector struct {
	stats *DriverStats
}

func newDriverStatsCollector() *driverStatsCollector {
	return &driverStatsCollector{stats: &DriverStats{}}
}

func (c *driverStatsCollector) recordRead() {
	atomic.AddUint64(&c.stats.Reads, 1)
}

func (c *driverStatsCollector) recordWrite() {
	atomic.AddUint64(&c.stats.Writes, 1)
}

func (c *driverStatsCollector) recordBroadcast() {
	atomic.AddUint64(&c.stats.Broadcasts, 1)
}

func (c *driverStatsCollector) recordBuffered() {
	atomic.AddUint64(&c.stats.Buffered, 1)
}

func (c *driverStatsCollector) recordDrained(n int) {
	if n > 0 {
		atomic.AddUint64(&c.stats.Drained, uint64(n))
	}
}

func (c *driverStatsCollector) recordReply() {
	atomic.AddUint64(&c.stats.Replies, 1)
}

func (c *driverStatsCollector) recordUnknownReply() {
	atomic.AddUint64(&c.stats.UnknownReplies, 1)
}

func (c *driverStatsCollector) recordFlushed(n int) {
	if n > 0 {
		atomic.AddUint64(&c.stats.Flushed, uint64(n))
	}
}

func (c *driverStatsCollector) recordHandlerPanic() {
	atomic.AddUint64(&c.stats.HandlerPanics, 1)
}

func (c *driverStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *driverStatsCollector) snapshot() DriverStats {
	return DriverStats{
		Reads:          atomic.LoadUint64(&c.stats.Reads),
		Writes:         atomic.LoadUint64(&c.stats.Writes),
		Broadcasts:     atomic.LoadUint64(&c.stats.Broadcasts),
		Buffered:       atomic.LoadUint64(&c.stats.Buffered),
		Drained:        atomic.LoadUint64(&c.stats.Drained),
		Replies:        atomic.LoadUint64(&c.stats.Replies),
		UnknownReplies: atomic.LoadUint64(&c.stats.UnknownReplies),
		Flushed:        atomic.LoadUint64(&c.stats.Flushed),
		HandlerPanics:  atomic.LoadUint64(&c.stats.HandlerPanics),
		Errors:         atomic.LoadUint64(&c.stats.Errors),
	}
}
