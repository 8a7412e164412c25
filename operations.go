package ink

import (
	"context"

	"github.com/inkdb/ink-go/wire"
)

// Thin synchronous wrappers over the dispatch core. Each builds a wire
// command, hands it to DispatchRead/DispatchWrite/DispatchBroadcast and
// waits for the single completion on a one-shot channel.

// supportedMechanisms lists the authentication mechanisms this driver
// implements. Anything else is rejected before any network I/O.
var supportedMechanisms = map[string]bool{
	"SCRAM-SHA-256": true,
	"PLAIN":         true,
}

// await adapts the callback-based core to a synchronous caller.
func (db *Database) await(ctx context.Context, dispatch func(Handler) error) (*wire.Reply, error) {
	type outcome struct {
		reply *wire.Reply
		err   error
	}
	ready := make(chan outcome, 1)
	handler := func(err error, reply *wire.Reply, _ *Conn) {
		select {
		case ready <- outcome{reply, err}:
		default:
		}
	}

	if err := dispatch(handler); err != nil {
		return nil, err
	}
	select {
	case out := <-ready:
		return out.reply, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureOpen lazily opens the handle on first synchronous use.
func (db *Database) ensureOpen() error {
	if db.Connected() {
		return nil
	}
	if db.appClosed.Load() {
		return ErrHandleClosed
	}
	return db.Open()
}

// RunCommand executes one named command against this database and returns
// the first reply document.
func (db *Database) RunCommand(ctx context.Context, name string, body map[string]any) (map[string]any, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	cmd := wire.NewCommand(db.name, name, body)
	reply, err := db.await(ctx, func(h Handler) error {
		return db.DispatchRead(cmd, &DispatchOptions{ReadPreference: ReadPrimary}, h)
	})
	if err != nil {
		return nil, err
	}
	return reply.First(), nil
}

// Find returns the documents of collection matching filter. A nil filter
// matches everything.
func (db *Database) Find(ctx context.Context, collection string, filter map[string]any, opts *DispatchOptions) ([]map[string]any, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	body := map[string]any{"find": collection}
	if filter != nil {
		body["filter"] = filter
	}
	cmd := wire.NewCommand(db.name, "find", body)
	reply, err := db.await(ctx, func(h Handler) error {
		return db.DispatchRead(cmd, opts, h)
	})
	if err != nil {
		return nil, err
	}
	return reply.Documents, nil
}

// FindOne returns the first document matching filter, or nil.
func (db *Database) FindOne(ctx context.Context, collection string, filter map[string]any, opts *DispatchOptions) (map[string]any, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	body := map[string]any{"find": collection, "limit": 1}
	if filter != nil {
		body["filter"] = filter
	}
	cmd := wire.NewCommand(db.name, "find", body)
	reply, err := db.await(ctx, func(h Handler) error {
		return db.DispatchRead(cmd, opts, h)
	})
	if err != nil {
		return nil, err
	}
	return reply.First(), nil
}

// Count returns the number of documents in collection matching filter.
func (db *Database) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	body := map[string]any{"count": collection}
	if filter != nil {
		body["query"] = filter
	}
	doc, err := db.RunCommand(ctx, "count", body)
	if err != nil {
		return 0, err
	}
	return asInt64(doc["n"]), nil
}

// Insert stores docs in collection under the handle's write concern.
// Unacknowledged inserts return as soon as the write is on the wire.
func (db *Database) Insert(ctx context.Context, collection string, docs []map[string]any, opts *DispatchOptions) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	cmd := wire.NewWrite(wire.OpInsert, db.name, collection, docs, nil)
	return db.runWrite(ctx, cmd, opts)
}

// Update applies update to the documents of collection matching selector.
func (db *Database) Update(ctx context.Context, collection string, selector, update map[string]any, opts *DispatchOptions) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	cmd := wire.NewWrite(wire.OpUpdate, db.name, collection, []map[string]any{update}, selector)
	return db.runWrite(ctx, cmd, opts)
}

// Remove deletes the documents of collection matching selector.
func (db *Database) Remove(ctx context.Context, collection string, selector map[string]any, opts *DispatchOptions) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	cmd := wire.NewWrite(wire.OpRemove, db.name, collection, nil, selector)
	return db.runWrite(ctx, cmd, opts)
}

func (db *Database) runWrite(ctx context.Context, cmd *wire.Command, opts *DispatchOptions) error {
	if opts == nil {
		opts = &DispatchOptions{}
	}
	wc := resolveWriteConcern(opts.WriteConcern, db.writeConcern, db.client.cfg.WriteConcern)
	if !wc.RequiresAck() {
		return db.DispatchWrite(cmd, opts, nil)
	}
	_, err := db.await(ctx, func(h Handler) error {
		return db.DispatchWrite(cmd, opts, h)
	})
	return err
}

// DropCollection removes collection and all its documents.
func (db *Database) DropCollection(ctx context.Context, collection string) error {
	_, err := db.RunCommand(ctx, "drop", map[string]any{"drop": collection})
	return err
}

// Stats returns the server's statistics document for this database.
func (db *Database) Stats(ctx context.Context) (map[string]any, error) {
	return db.RunCommand(ctx, "dbstats", nil)
}

// Ping checks that the primary answers commands.
func (db *Database) Ping(ctx context.Context) error {
	_, err := db.RunCommand(ctx, "ping", nil)
	return err
}

// Authenticate validates the mechanism and runs the authenticate command.
// Unsupported mechanisms fail before any network I/O.
func (db *Database) Authenticate(ctx context.Context, mechanism, username, password string) error {
	if !supportedMechanisms[mechanism] {
		return &AuthMechanismError{Mechanism: mechanism}
	}
	_, err := db.RunCommand(ctx, "authenticate", map[string]any{
		"authenticate": 1,
		"mechanism":    mechanism,
		"user":         username,
		"password":     password,
	})
	return err
}

// EndSessions tears the handle's server-side session state down on every
// member of the connection set.
func (db *Database) EndSessions(ctx context.Context) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	cmd := wire.NewCommand(db.name, "endSessions", nil)
	_, err := db.await(ctx, func(h Handler) error {
		return db.DispatchBroadcast(cmd, nil, h)
	})
	return err
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
