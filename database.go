package ink

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/inkdb/ink-go/wire"
)

// Handle connection states. applicationClosed is tracked separately: a
// force-closed handle refuses every dispatch until explicitly reopened.
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
)

// Database is a named logical handle over the client's shared connection
// set. It is the dispatch core: it decides per operation whether to send
// immediately, buffer for replay, or fail fast, and owns the in-flight
// request registry for its operations.
//
// Handles are cheap and cached by name; closing one handle does not affect
// its siblings or the shared connections.
type Database struct {
	observerSet

	name    string
	client  *Client
	manager ConnectionManager
	codec   *wire.Codec
	logger  hclog.Logger

	pending     *pendingRegistry
	buffer      *operationBuffer
	bufferLimit int

	// writeConcern is the handle-level default, overridable per operation.
	writeConcern *WriteConcern

	state           atomic.Int32
	appClosed       atomic.Bool
	connEstablished atomic.Bool
	openMu          sync.Mutex
}

// DispatchOptions tunes a single dispatch call. The zero value is a plain
// primary-routed operation.
type DispatchOptions struct {
	// ReadPreference selects which servers may serve a read.
	ReadPreference ReadPreference

	// Connection pins the operation to a specific live connection,
	// bypassing checkout.
	Connection *Conn

	// Raw asks for the undecoded reply body.
	Raw bool

	// Exhaust marks a request whose reply is a stream of frames, all
	// resolving to the same handler.
	Exhaust bool

	// WriteConcern overrides the handle default for this write.
	WriteConcern *WriteConcern
}

func newDatabase(name string, client *Client) *Database {
	db := &Database{
		name:        name,
		client:      client,
		manager:     client.manager,
		codec:       client.codec,
		logger:      client.logger.Named("db").With("database", name),
		buffer:      newOperationBuffer(),
		bufferLimit: client.cfg.BufferMaxEntries,
	}
	db.pending = newPendingRegistry(func(err *HandlerPanicError) {
		client.stats.recordHandlerPanic()
		client.registry.Broadcast(EventError, err, nil, false, nil, true)
	})
	return db
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// SetWriteConcern sets the handle-level default write concern.
func (db *Database) SetWriteConcern(wc *WriteConcern) { db.writeConcern = wc }

// Connected reports whether the handle considers its connection established.
func (db *Database) Connected() bool {
	return db.state.Load() == stateConnected && db.connEstablished.Load()
}

// Open establishes the handle: disconnected → connecting → connected. On
// success any buffered operations drain; on failure the handle is closed and
// the error surfaced. Reopening a force-closed handle is allowed.
func (db *Database) Open() error {
	db.openMu.Lock()
	defer db.openMu.Unlock()

	if db.manager.Destroyed() {
		return ErrConnectionDestroyed
	}
	db.appClosed.Store(false)
	if db.Connected() {
		return nil
	}

	db.state.Store(stateConnecting)
	if err := db.manager.Open(); err != nil {
		db.closeHandle(false, err)
		return err
	}
	db.state.Store(stateConnected)
	db.connEstablished.Store(true)
	db.drainBuffers()
	return nil
}

// Close tears the handle down and flushes every pending and buffered
// operation with ErrHandleClosed. With force, the handle additionally enters
// the application-closed state and refuses all dispatch until reopened.
// The shared connection set stays up for sibling handles.
func (db *Database) Close(force bool) {
	db.closeHandle(force, ErrHandleClosed)
}

func (db *Database) closeHandle(force bool, flushErr error) {
	db.state.Store(stateDisconnected)
	db.connEstablished.Store(false)
	if force {
		db.appClosed.Store(true)
	}
	db.pending.FlushAll(flushErr)
	db.buffer.Flush(flushErr)
	db.emit(EventClose, nil, nil)
	db.client.registry.Unregister(db.name)
}

// PendingRequests returns the number of in-flight requests on this handle.
func (db *Database) PendingRequests() int { return db.pending.Len() }

// BufferedOperations returns the number of operations queued for replay.
func (db *Database) BufferedOperations() int { return db.buffer.Size() }

// DispatchRead routes a read-style command. The outcome is delivered exactly
// once: a non-nil return means the operation was rejected up front and the
// handler will never run; a nil return means the handler fires when the
// reply arrives, the send fails, or the buffered operation is flushed.
func (db *Database) DispatchRead(cmd *wire.Command, opts *DispatchOptions, handler Handler) error {
	if opts == nil {
		opts = &DispatchOptions{}
	}
	if db.appClosed.Load() {
		return ErrHandleClosed
	}
	if db.manager.Destroyed() {
		return ErrConnectionDestroyed
	}

	if opts.Connection != nil && opts.Connection.Alive() {
		db.sendRead(opts.Connection, cmd, opts, handler)
		return nil
	}

	pref := opts.ReadPreference
	if db.canServeRead(pref) {
		conn, err := db.checkoutForRead(pref)
		if err == nil {
			db.sendRead(conn, cmd, opts, handler)
			conn.Release()
			return nil
		}
		// Checkout raced a failure; fall through to buffering.
	}

	if db.manager.AutoReconnect() {
		db.bufferRead(cmd, opts, handler)
		return nil
	}
	return ErrNoOpenConnections
}

func (db *Database) canServeRead(pref ReadPreference) bool {
	if !db.connEstablished.Load() {
		return false
	}
	if pref == ReadPrimary {
		return db.manager.CanWrite()
	}
	return db.manager.CanRead(pref)
}

func (db *Database) checkoutForRead(pref ReadPreference) (*Conn, error) {
	if pref == ReadPrimary {
		return db.manager.CheckoutWriter()
	}
	return db.manager.CheckoutReader(pref)
}

func (db *Database) bufferRead(cmd *wire.Command, opts *DispatchOptions, handler Handler) {
	op := &bufferedOp{cmd: cmd, handler: handler}
	op.redispatch = func(conn *Conn) { db.sendRead(conn, cmd, opts, handler) }

	// A primary-routed read is buffered even when a secondary is reachable;
	// it replays on the writer connection ahead of the queued writes.
	if opts.ReadPreference == ReadPrimary {
		db.buffer.EnqueuePrimaryRead(op)
	} else {
		db.buffer.EnqueueRead(op)
	}
	db.client.stats.recordBuffered()
	db.enforceBufferCapacity()
}

func (db *Database) enforceBufferCapacity() {
	if !db.buffer.CheckCapacity(db.bufferLimit) {
		db.logger.Error("buffered operation limit exceeded, closing handle", "limit", db.bufferLimit)
		db.Close(false)
	}
}

// sendRead registers the request and hands it to the wire layer. A
// synchronous send failure immediately completes the pending entry.
func (db *Database) sendRead(conn *Conn, cmd *wire.Command, opts *DispatchOptions, handler Handler) {
	if opts.ReadPreference != ReadPrimary {
		cmd.Flags |= wire.FlagSecondaryOK
	}
	if opts.Exhaust {
		cmd.Flags |= wire.FlagExhaust
	}

	id := db.assignID(cmd)
	db.pending.Register(id, opts.Raw, conn, opts.Exhaust, handler)
	if err := conn.WriteCommand(cmd); err != nil {
		db.pending.Complete(id, err, nil)
		return
	}
	db.client.stats.recordRead()
}

// assignID gives cmd a fresh request id. A command that already carried one
// is being re-dispatched; the stale id is abandoned, never reused.
func (db *Database) assignID(cmd *wire.Command) int32 {
	if cmd.RequestID() != 0 {
		return db.codec.ReassignRequestID(cmd)
	}
	return db.codec.AssignRequestID(cmd)
}

// DispatchWrite routes a write-style command, escalating it into a
// {write, acknowledgement-query} pair when the resolved write concern
// requires acknowledgement. The pending entry is registered under the ack
// command's request id: the wire protocol gives no direct reply to the
// write itself. Unacknowledged writes are fire-and-forget: no registry
// entry, send errors surface only on the handle's error event.
func (db *Database) DispatchWrite(cmd *wire.Command, opts *DispatchOptions, handler Handler) error {
	if opts == nil {
		opts = &DispatchOptions{}
	}
	if db.appClosed.Load() {
		return ErrHandleClosed
	}
	if db.manager.Destroyed() {
		return ErrConnectionDestroyed
	}

	wc := resolveWriteConcern(opts.WriteConcern, db.writeConcern, db.client.cfg.WriteConcern)

	if opts.Connection != nil && opts.Connection.Alive() {
		if !db.manager.Compatible(opts.Connection) {
			return &IncompatibleVersionError{Endpoint: opts.Connection.Endpoint(), Version: opts.Connection.WireVersion()}
		}
		db.sendWrite(opts.Connection, cmd, wc, opts, handler)
		return nil
	}

	if db.connEstablished.Load() && db.manager.CanWrite() {
		conn, err := db.manager.CheckoutWriter()
		if err == nil {
			if !db.manager.Compatible(conn) {
				endpoint, version := conn.Endpoint(), conn.WireVersion()
				conn.Release()
				return &IncompatibleVersionError{Endpoint: endpoint, Version: version}
			}
			db.sendWrite(conn, cmd, wc, opts, handler)
			conn.Release()
			return nil
		}
	}

	if db.manager.AutoReconnect() {
		op := &bufferedOp{cmd: cmd, handler: handler}
		op.redispatch = func(conn *Conn) {
			if !db.manager.Compatible(conn) {
				err := &IncompatibleVersionError{Endpoint: conn.Endpoint(), Version: conn.WireVersion()}
				if handler != nil {
					handler(err, nil, conn)
				}
				return
			}
			db.sendWrite(conn, cmd, wc, opts, handler)
		}
		db.buffer.EnqueueWrite(op)
		db.client.stats.recordBuffered()
		db.enforceBufferCapacity()
		return nil
	}
	return ErrNoOpenConnections
}

func (db *Database) sendWrite(conn *Conn, cmd *wire.Command, wc WriteConcern, opts *DispatchOptions, handler Handler) {
	db.assignID(cmd)

	if wc.RequiresAck() {
		ack := wire.NewAckCommand(db.name, wc.W, wc.Journal, wc.wtimeoutMS())
		ackID := db.codec.AssignRequestID(ack)
		db.pending.Register(ackID, opts.Raw, conn, false, handler)
		if err := conn.WritePair(cmd, ack); err != nil {
			db.pending.Complete(ackID, err, nil)
			return
		}
		db.client.stats.recordWrite()
		return
	}

	if err := conn.WriteCommand(cmd); err != nil {
		db.emitAsyncError(err)
		return
	}
	db.client.stats.recordWrite()
}

// emitAsyncError surfaces a fire-and-forget failure on the handle's error
// event; if nobody listens it escalates rather than vanishing.
func (db *Database) emitAsyncError(err error) {
	if !db.emit(EventError, err, nil) {
		db.client.registry.onUnhandled(err)
	}
}

// DispatchBroadcast sends the command, with a freshly assigned request id
// per target, to every raw connection of the set. The caller's handler fires
// exactly once: after the last target responds, with the first error seen
// (if any) and the aggregated documents otherwise.
func (db *Database) DispatchBroadcast(cmd *wire.Command, opts *DispatchOptions, handler Handler) error {
	if opts == nil {
		opts = &DispatchOptions{}
	}
	if db.appClosed.Load() {
		return ErrHandleClosed
	}
	if db.manager.Destroyed() {
		return ErrConnectionDestroyed
	}

	conns := db.manager.RawConnections()
	if len(conns) == 0 {
		return ErrNoOpenConnections
	}

	var (
		mu        sync.Mutex
		firstErr  error
		documents []map[string]any
		remaining = int32(len(conns))
	)

	for _, conn := range conns {
		target := *cmd
		id := db.codec.AssignRequestID(&target)

		perTarget := func(err error, reply *wire.Reply, _ *Conn) {
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if reply != nil {
				documents = append(documents, reply.Documents...)
			}
			mu.Unlock()

			if atomic.AddInt32(&remaining, -1) == 0 && handler != nil {
				mu.Lock()
				err, docs := firstErr, documents
				mu.Unlock()
				handler(err, &wire.Reply{Documents: docs}, nil)
			}
		}

		db.pending.Register(id, opts.Raw, conn, false, perTarget)
		if err := conn.WriteCommand(&target); err != nil {
			// Countdown still completes through the registry; no hung entry.
			db.pending.Complete(id, err, nil)
		}
	}
	db.client.stats.recordBroadcast()
	return nil
}

// drainBuffers replays buffered operations: plain reads on one reader
// connection, then primary reads and writes on one writer connection.
func (db *Database) drainBuffers() {
	drained := db.buffer.Size()
	if drained == 0 {
		return
	}
	db.buffer.DrainReads(db.manager)
	db.buffer.DrainWrites(db.manager)
	db.client.stats.recordDrained(drained - db.buffer.Size())
}
