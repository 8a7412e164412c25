package ink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkdb/ink-go/wire"
)

func TestPendingRegistryCompleteFiresOnce(t *testing.T) {
	r := newPendingRegistry(nil)

	calls := 0
	r.Register(7, false, nil, false, func(err error, reply *wire.Reply, _ *Conn) {
		calls++
		require.NoError(t, err)
		require.Equal(t, int32(7), reply.ResponseTo)
	})
	require.Equal(t, 1, r.Len())

	require.True(t, r.Complete(7, nil, &wire.Reply{ResponseTo: 7}))
	require.False(t, r.Complete(7, nil, &wire.Reply{ResponseTo: 7}))
	require.Equal(t, 1, calls)
	require.Equal(t, 0, r.Len())
}

func TestPendingRegistryUnknownIDIsNoop(t *testing.T) {
	r := newPendingRegistry(nil)
	require.False(t, r.Complete(42, nil, &wire.Reply{}))
}

func TestPendingRegistryDuplicateRegisterPanics(t *testing.T) {
	r := newPendingRegistry(nil)
	r.Register(1, false, nil, false, func(error, *wire.Reply, *Conn) {})
	require.Panics(t, func() {
		r.Register(1, false, nil, false, func(error, *wire.Reply, *Conn) {})
	})
}

func TestPendingRegistryFlushAllInOrder(t *testing.T) {
	r := newPendingRegistry(nil)

	var order []int32
	for _, id := range []int32{10, 20, 30} {
		id := id
		r.Register(id, false, nil, false, func(err error, reply *wire.Reply, _ *Conn) {
			require.ErrorIs(t, err, errBoom)
			require.Nil(t, reply)
			order = append(order, id)
		})
	}

	r.FlushAll(errBoom)
	require.Equal(t, []int32{10, 20, 30}, order)
	require.Equal(t, 0, r.Len())
}

func TestPendingRegistryFlushForEndpoint(t *testing.T) {
	codec := wire.NewCodec()
	connA, _ := newTestConn(codec, "db1:27020")
	connB, _ := newTestConn(codec, "db2:27020")

	r := newPendingRegistry(nil)

	var flushed []int32
	handler := func(id int32) Handler {
		return func(err error, _ *wire.Reply, _ *Conn) {
			require.ErrorIs(t, err, errBoom)
			flushed = append(flushed, id)
		}
	}
	r.Register(1, false, connA, false, handler(1))
	r.Register(2, false, connB, false, handler(2))
	r.Register(3, false, connA, false, handler(3))

	r.FlushForEndpoint("db1", 27020, errBoom)

	require.Equal(t, []int32{1, 3}, flushed)
	require.Equal(t, 1, r.Len())
	require.True(t, r.Has(2))
}

func TestPendingRegistryExhaustKeepsEntry(t *testing.T) {
	r := newPendingRegistry(nil)

	calls := 0
	r.Register(5, false, nil, true, func(error, *wire.Reply, *Conn) { calls++ })

	// Exhaust entries fire but stay registered for the next frame.
	require.True(t, r.Complete(5, nil, &wire.Reply{ResponseTo: 5}))
	require.True(t, r.Has(5))

	// The next frame answers the previous frame's request id.
	require.True(t, r.Reregister(9, 5))
	require.False(t, r.Has(5))
	require.True(t, r.Complete(9, nil, &wire.Reply{ResponseTo: 9}))
	require.Equal(t, 2, calls)

	// End of stream: retire without firing.
	require.True(t, r.Remove(9))
	require.Equal(t, 0, r.Len())
	require.Equal(t, 2, calls)
}

func TestPendingRegistryReregisterUnknown(t *testing.T) {
	r := newPendingRegistry(nil)
	require.False(t, r.Reregister(2, 1))
}

func TestPendingRegistryHandlerPanicIsRerouted(t *testing.T) {
	var captured *HandlerPanicError
	r := newPendingRegistry(func(err *HandlerPanicError) { captured = err })

	r.Register(11, false, nil, false, func(error, *wire.Reply, *Conn) {
		panic("bad handler")
	})

	require.NotPanics(t, func() {
		r.Complete(11, nil, &wire.Reply{ResponseTo: 11})
	})
	require.NotNil(t, captured)
	assert.Equal(t, int32(11), captured.RequestID)
	assert.Equal(t, "bad handler", captured.Value)
	assert.Equal(t, 0, r.Len())
}
