package ink

import (
	"sync"

	"github.com/inkdb/ink-go/wire"
)

// BufferUnlimited disables the buffered-operation ceiling.
const BufferUnlimited = -1

// bufferedOp is an operation that could not be dispatched immediately. It
// carries everything needed to re-invoke dispatch once a connection is
// available again.
type bufferedOp struct {
	cmd     *wire.Command
	handler Handler

	// redispatch re-attempts the operation on the given connection. The
	// queue entry is removed before redispatch runs.
	redispatch func(conn *Conn)
}

// operationBuffer holds operations issued while no usable connection exists.
// Three FIFO queues: plain reads, reads that must be routed to the primary,
// and writes. FIFO order within a queue is preserved end-to-end.
type operationBuffer struct {
	mu           sync.Mutex
	reads        []*bufferedOp
	primaryReads []*bufferedOp
	writes       []*bufferedOp
}

func newOperationBuffer() *operationBuffer {
	return &operationBuffer{}
}

func (b *operationBuffer) EnqueueRead(op *bufferedOp) {
	b.mu.Lock()
	b.reads = append(b.reads, op)
	b.mu.Unlock()
}

func (b *operationBuffer) EnqueuePrimaryRead(op *bufferedOp) {
	b.mu.Lock()
	b.primaryReads = append(b.primaryReads, op)
	b.mu.Unlock()
}

func (b *operationBuffer) EnqueueWrite(op *bufferedOp) {
	b.mu.Lock()
	b.writes = append(b.writes, op)
	b.mu.Unlock()
}

// Size returns the total number of buffered operations across all queues.
func (b *operationBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reads) + len(b.primaryReads) + len(b.writes)
}

// CheckCapacity enforces the buffered-operation ceiling. When the total
// exceeds limit, every queued operation in all three queues is failed with a
// BufferCapacityError and the queues are emptied, an all-or-nothing purge,
// not per-item backpressure. Reports false on purge so the caller can close
// the owning handle.
func (b *operationBuffer) CheckCapacity(limit int) bool {
	if limit == BufferUnlimited {
		return true
	}

	b.mu.Lock()
	buffered := len(b.reads) + len(b.primaryReads) + len(b.writes)
	if buffered <= limit {
		b.mu.Unlock()
		return true
	}
	ops := b.takeAllLocked()
	b.mu.Unlock()

	err := &BufferCapacityError{Limit: limit, Buffered: buffered}
	for _, op := range ops {
		if op.handler != nil {
			op.handler(err, nil, nil)
		}
	}
	return false
}

// Flush fails every buffered operation with err and empties the queues.
// Used when the owning handle is closed.
func (b *operationBuffer) Flush(err error) {
	b.mu.Lock()
	ops := b.takeAllLocked()
	b.mu.Unlock()

	for _, op := range ops {
		if op.handler != nil {
			op.handler(err, nil, nil)
		}
	}
}

// takeAllLocked empties the queues in drain order. Caller holds b.mu.
func (b *operationBuffer) takeAllLocked() []*bufferedOp {
	ops := make([]*bufferedOp, 0, len(b.reads)+len(b.primaryReads)+len(b.writes))
	ops = append(ops, b.reads...)
	ops = append(ops, b.primaryReads...)
	ops = append(ops, b.writes...)
	b.reads, b.primaryReads, b.writes = nil, nil, nil
	return ops
}

// DrainReads checks out one read connection and redispatches every queued
// plain read against it, in FIFO order. If no reader is available the queue
// is left untouched for a later drain attempt.
func (b *operationBuffer) DrainReads(manager ConnectionManager) {
	b.mu.Lock()
	if len(b.reads) == 0 {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	conn, err := manager.CheckoutReader(ReadPrimaryPreferred)
	if err != nil {
		return
	}
	defer conn.Release()

	b.mu.Lock()
	ops := b.reads
	b.reads = nil
	b.mu.Unlock()

	for _, op := range ops {
		op.redispatch(conn)
	}
}

// DrainWrites checks out one write connection and redispatches the
// primary-routed reads first, then the writes, all against that connection.
// The cross-queue order is fixed: primary reads were queued earlier in
// causal terms and must run before the writes.
func (b *operationBuffer) DrainWrites(manager ConnectionManager) {
	b.mu.Lock()
	if len(b.primaryReads) == 0 && len(b.writes) == 0 {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	conn, err := manager.CheckoutWriter()
	if err != nil {
		return
	}
	defer conn.Release()

	b.mu.Lock()
	primaryReads := b.primaryReads
	writes := b.writes
	b.primaryReads, b.writes = nil, nil
	b.mu.Unlock()

	for _, op := range primaryReads {
		op.redispatch(conn)
	}
	for _, op := range writes {
		op.redispatch(conn)
	}
}
