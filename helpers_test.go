package ink

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/inkdb/ink-go/internal/testutils"
	"github.com/inkdb/ink-go/wire"
)

// fakeManager is a scriptable ConnectionManager for dispatch tests. Fields
// are plain; tests mutate them between dispatch calls.
type fakeManager struct {
	opened    bool
	destroyed bool

	writeOK      bool
	readOK       bool
	reconnect    bool
	incompatible bool

	openErr     error
	checkoutErr error

	writer  *Conn
	readers []*Conn

	delegate ConnectionEvents
}

func newFakeManager() *fakeManager {
	return &fakeManager{writeOK: true, readOK: true, reconnect: true}
}

func (m *fakeManager) Open() error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *fakeManager) Close() { m.destroyed = true }

func (m *fakeManager) CheckoutReader(ReadPreference) (*Conn, error) {
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	if len(m.readers) > 0 {
		return m.readers[0], nil
	}
	if m.writer != nil {
		return m.writer, nil
	}
	return nil, ErrNoOpenConnections
}

func (m *fakeManager) CheckoutWriter() (*Conn, error) {
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	if m.writer == nil {
		return nil, ErrNoOpenConnections
	}
	return m.writer, nil
}

func (m *fakeManager) CanRead(ReadPreference) bool { return m.readOK && !m.destroyed }
func (m *fakeManager) CanWrite() bool              { return m.writeOK && !m.destroyed }
func (m *fakeManager) AutoReconnect() bool         { return m.reconnect }
func (m *fakeManager) Destroyed() bool             { return m.destroyed }

func (m *fakeManager) RawConnections() []*Conn {
	var conns []*Conn
	if m.writer != nil {
		conns = append(conns, m.writer)
	}
	conns = append(conns, m.readers...)
	return conns
}

func (m *fakeManager) Compatible(*Conn) bool { return !m.incompatible }

func (m *fakeManager) Notify(d ConnectionEvents) { m.delegate = d }

func newTestClient(t *testing.T, mgr ConnectionManager) *Client {
	t.Helper()
	client, err := NewClient(Config{Manager: mgr})
	require.NoError(t, err)
	return client
}

// newTestConn wraps a mock network connection. The frames, if any, are served
// to ReadReply in order.
func newTestConn(codec *wire.Codec, endpoint string, frames ...[]byte) (*Conn, *testutils.ConnectionMock) {
	mock := testutils.NewConnectionMock(frames...)
	return newConn(mock, endpoint, codec), mock
}

// openTestHandle returns a connected handle backed by mgr.
func openTestHandle(t *testing.T, mgr *fakeManager) (*Client, *Database) {
	t.Helper()
	client := newTestClient(t, mgr)
	db := client.Database("app")
	require.NoError(t, db.Open())
	return client, db
}

// sentFrame is one decoded message captured from a mock connection.
type sentFrame struct {
	RequestID  int32
	ResponseTo int32
	Op         wire.OpCode
	Flags      wire.MsgFlag

	Database  string           `msgpack:"db"`
	Name      string           `msgpack:"name"`
	Body      map[string]any   `msgpack:"body"`
	Documents []map[string]any `msgpack:"docs"`
}

// parseFrames splits the raw bytes written to a mock connection into decoded
// frames. Assumes uncompressed bodies, which all test payloads are.
func parseFrames(t *testing.T, data []byte) []sentFrame {
	t.Helper()
	const headerSize = 20

	var frames []sentFrame
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), headerSize, "truncated frame header")
		total := binary.BigEndian.Uint32(data[0:])
		require.GreaterOrEqual(t, len(data), int(total), "truncated frame body")

		frame := sentFrame{
			RequestID:  int32(binary.BigEndian.Uint32(data[4:])),
			ResponseTo: int32(binary.BigEndian.Uint32(data[8:])),
			Op:         wire.OpCode(binary.BigEndian.Uint32(data[12:])),
			Flags:      wire.MsgFlag(binary.BigEndian.Uint32(data[16:])),
		}
		require.NoError(t, msgpack.Unmarshal(data[headerSize:total], &frame))
		frames = append(frames, frame)
		data = data[total:]
	}
	return frames
}

var errBoom = errors.New("boom")
