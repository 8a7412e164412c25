package ink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkdb/ink-go/wire"
)

func recordingOp(tag string, log *[]string, conns *[]*Conn) *bufferedOp {
	op := &bufferedOp{}
	op.redispatch = func(conn *Conn) {
		*log = append(*log, tag)
		if conns != nil {
			*conns = append(*conns, conn)
		}
	}
	return op
}

func TestOperationBufferDrainReadsFIFO(t *testing.T) {
	codec := wire.NewCodec()
	reader, _ := newTestConn(codec, "db2:27020")
	mgr := newFakeManager()
	mgr.readers = []*Conn{reader}

	b := newOperationBuffer()
	var log []string
	var conns []*Conn
	b.EnqueueRead(recordingOp("r1", &log, &conns))
	b.EnqueueRead(recordingOp("r2", &log, &conns))
	b.EnqueueRead(recordingOp("r3", &log, &conns))
	require.Equal(t, 3, b.Size())

	b.DrainReads(mgr)

	require.Equal(t, []string{"r1", "r2", "r3"}, log)
	for _, conn := range conns {
		require.Same(t, reader, conn)
	}
	require.Equal(t, 0, b.Size())
}

func TestOperationBufferDrainWritesOrder(t *testing.T) {
	codec := wire.NewCodec()
	writer, _ := newTestConn(codec, "db1:27020")
	mgr := newFakeManager()
	mgr.writer = writer

	b := newOperationBuffer()
	var log []string
	var conns []*Conn
	b.EnqueueWrite(recordingOp("w1", &log, &conns))
	b.EnqueuePrimaryRead(recordingOp("pr1", &log, &conns))
	b.EnqueueWrite(recordingOp("w2", &log, &conns))
	b.EnqueuePrimaryRead(recordingOp("pr2", &log, &conns))

	b.DrainWrites(mgr)

	// Primary reads replay before writes, all on the writer connection.
	require.Equal(t, []string{"pr1", "pr2", "w1", "w2"}, log)
	for _, conn := range conns {
		require.Same(t, writer, conn)
	}
	require.Equal(t, 0, b.Size())
}

func TestOperationBufferDrainLeavesQueueOnCheckoutFailure(t *testing.T) {
	mgr := newFakeManager()
	mgr.checkoutErr = errBoom

	b := newOperationBuffer()
	var log []string
	b.EnqueueRead(recordingOp("r1", &log, nil))
	b.EnqueueWrite(recordingOp("w1", &log, nil))

	b.DrainReads(mgr)
	b.DrainWrites(mgr)

	require.Empty(t, log)
	require.Equal(t, 2, b.Size())
}

func TestOperationBufferCapacityPurge(t *testing.T) {
	b := newOperationBuffer()

	var errs []error
	enqueue := func(f func(*bufferedOp)) {
		op := &bufferedOp{handler: func(err error, _ *wire.Reply, _ *Conn) {
			errs = append(errs, err)
		}}
		f(op)
	}
	enqueue(b.EnqueueRead)
	enqueue(b.EnqueuePrimaryRead)
	enqueue(b.EnqueueWrite)

	// Exceeding the ceiling purges every queue, not just the newest entry.
	require.False(t, b.CheckCapacity(2))
	require.Equal(t, 0, b.Size())
	require.Len(t, errs, 3)
	for _, err := range errs {
		var capErr *BufferCapacityError
		require.ErrorAs(t, err, &capErr)
		require.Equal(t, 2, capErr.Limit)
		require.Equal(t, 3, capErr.Buffered)
	}
}

func TestOperationBufferCapacityWithinLimit(t *testing.T) {
	b := newOperationBuffer()
	b.EnqueueRead(&bufferedOp{})
	b.EnqueueWrite(&bufferedOp{})

	require.True(t, b.CheckCapacity(2))
	require.True(t, b.CheckCapacity(BufferUnlimited))
	require.Equal(t, 2, b.Size())
}

func TestOperationBufferFlush(t *testing.T) {
	b := newOperationBuffer()

	var errs []error
	b.EnqueueWrite(&bufferedOp{handler: func(err error, _ *wire.Reply, _ *Conn) {
		errs = append(errs, err)
	}})
	b.EnqueueRead(&bufferedOp{}) // nil handler must not crash the flush

	b.Flush(ErrHandleClosed)

	require.Equal(t, []error{ErrHandleClosed}, errs)
	require.Equal(t, 0, b.Size())
}
