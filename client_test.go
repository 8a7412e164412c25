package ink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/inkdb/ink-go/wire"
)

func TestMain(m *testing.M) {
	// IgnoreCurrent covers the coarse-time ticker started at package init.
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

func TestClientDatabaseHandleCached(t *testing.T) {
	client := newTestClient(t, newFakeManager())

	db := client.Database("app")
	require.Same(t, db, client.Database("app"))

	// A closed handle is unregistered; the next lookup builds a fresh one.
	db.Close(false)
	require.NotSame(t, db, client.Database("app"))
}

func TestClientCloseForceClosesHandles(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)

	client.Close()

	require.True(t, mgr.destroyed)
	require.ErrorIs(t, db.DispatchRead(wire.NewCommand("app", "ping", nil), nil, nil), ErrHandleClosed)

	// Close is idempotent.
	client.Close()
}

func TestOnReplyCorrelates(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	conn, _ := newTestConn(client.codec, "db1:27020")

	var gotReply *wire.Reply
	db.pending.Register(14, false, conn, false, func(err error, reply *wire.Reply, _ *Conn) {
		require.NoError(t, err)
		gotReply = reply
	})

	var observed any
	db.On(EventMessage, func(_ error, payload any) { observed = payload })

	reply := &wire.Reply{ResponseTo: 14, Documents: []map[string]any{{"ok": 1}}}
	client.OnReply(conn, reply)

	require.Same(t, reply, gotReply)
	require.Same(t, reply, observed)
	require.Equal(t, 0, db.PendingRequests())
	assert.Equal(t, uint64(1), client.Stats().Replies)
}

func TestOnReplyUnknownRequestID(t *testing.T) {
	mgr := newFakeManager()
	client, _ := openTestHandle(t, mgr)
	conn, _ := newTestConn(client.codec, "db1:27020")

	client.OnReply(conn, &wire.Reply{ResponseTo: 999})
	assert.Equal(t, uint64(1), client.Stats().UnknownReplies)
}

func TestOnReplyServerError(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	conn, _ := newTestConn(client.codec, "db1:27020")

	var got error
	db.pending.Register(3, false, conn, false, func(err error, _ *wire.Reply, _ *Conn) { got = err })

	client.OnReply(conn, &wire.Reply{
		ResponseTo: 3,
		Documents:  []map[string]any{{"$err": "duplicate key", "code": 11000}},
	})

	var cmdErr *CommandError
	require.ErrorAs(t, got, &cmdErr)
	assert.Equal(t, 11000, cmdErr.Code)
	assert.Equal(t, "duplicate key", cmdErr.Message)
}

func TestOnReplyGetLastErrorField(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	conn, _ := newTestConn(client.codec, "db1:27020")

	var got error
	db.pending.Register(4, false, conn, false, func(err error, _ *wire.Reply, _ *Conn) { got = err })

	client.OnReply(conn, &wire.Reply{
		ResponseTo: 4,
		Documents:  []map[string]any{{"err": "timeout waiting for replication"}},
	})

	var cmdErr *CommandError
	require.ErrorAs(t, got, &cmdErr)
}

func TestOnReplyExhaustStream(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	conn, _ := newTestConn(client.codec, "db1:27020")

	frames := 0
	db.pending.Register(6, false, conn, true, func(err error, _ *wire.Reply, _ *Conn) {
		require.NoError(t, err)
		frames++
	})

	// Mid-stream frame: the handler moves under this frame's own request id.
	client.OnReply(conn, &wire.Reply{RequestID: 100, ResponseTo: 6, Flags: wire.FlagExhaust})
	require.Equal(t, 1, frames)
	require.False(t, db.pending.Has(6))
	require.True(t, db.pending.Has(100))

	// Final frame: no exhaust flag, the entry retires.
	client.OnReply(conn, &wire.Reply{RequestID: 101, ResponseTo: 100})
	require.Equal(t, 2, frames)
	require.Equal(t, 0, db.PendingRequests())
}

func TestOnConnectionErrorFlushesEndpointOnly(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	connA, _ := newTestConn(client.codec, "db1:27020")
	connB, _ := newTestConn(client.codec, "db2:27020")

	var flushedErr error
	db.pending.Register(1, false, connA, false, func(err error, _ *wire.Reply, _ *Conn) { flushedErr = err })
	db.pending.Register(2, false, connB, false, func(error, *wire.Reply, *Conn) {
		t.Fatal("request on the healthy endpoint must stay pending")
	})
	db.On(EventError, func(error, any) {}) // observe so nothing escalates

	client.OnConnectionError(connA, errBoom)

	require.ErrorIs(t, flushedErr, errBoom)
	require.True(t, db.pending.Has(2))
	require.False(t, db.connEstablished.Load())
	assert.Equal(t, uint64(1), client.Stats().Errors)
	assert.Equal(t, uint64(1), client.Stats().Flushed)
}

func TestOnConnectionErrorParseErrorEvent(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	conn, _ := newTestConn(client.codec, "db1:27020")

	var parseEvents, errorEvents int
	db.On(EventParseError, func(error, any) { parseEvents++ })
	db.On(EventError, func(error, any) { errorEvents++ })

	client.OnConnectionError(conn, &wire.ParseError{Message: "garbled frame"})

	require.Equal(t, 1, parseEvents)
	require.Zero(t, errorEvents)
}

func TestOnPoolReadyDrainsBuffers(t *testing.T) {
	mgr := newFakeManager()
	client, db := openTestHandle(t, mgr)
	mgr.writeOK = false

	require.NoError(t, db.DispatchWrite(
		wire.NewWrite(wire.OpInsert, "app", "users", []map[string]any{{"n": 1}}, nil),
		&DispatchOptions{WriteConcern: &WriteConcern{W: 0}}, nil))
	require.Equal(t, 1, db.BufferedOperations())

	conn, mock := newTestConn(client.codec, "db1:27020")
	mgr.writer = conn
	mgr.writeOK = true

	ready := false
	db.On(EventPoolReady, func(error, any) { ready = true })
	client.OnPoolReady()

	require.True(t, ready)
	require.True(t, db.connEstablished.Load())
	require.Equal(t, 0, db.BufferedOperations())
	require.Len(t, parseFrames(t, mock.Written()), 1)
}

func TestServerErrorCodeTypes(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		code int
	}{
		{"int code", map[string]any{"$err": "x", "code": 42}, 42},
		{"int32 code", map[string]any{"$err": "x", "code": int32(43)}, 43},
		{"float code", map[string]any{"$err": "x", "code": 44.0}, 44},
		{"no code", map[string]any{"$err": "x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := serverError(tt.doc)
			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Equal(t, tt.code, cmdErr.Code)
		})
	}

	require.NoError(t, serverError(map[string]any{"ok": 1}))
}
