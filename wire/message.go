package wire

// OpCode identifies the kind of message on the wire.
type OpCode int32

const (
	// OpCommand carries a query or administrative command and expects a reply.
	OpCommand OpCode = 1

	// OpInsert, OpUpdate and OpRemove carry writes. The server never replies
	// to them directly; acknowledgement is obtained by a trailing OpCommand.
	OpInsert OpCode = 2
	OpUpdate OpCode = 3
	OpRemove OpCode = 4

	// OpReply is sent by the server, correlated via the responseTo field.
	OpReply OpCode = 5
)

// MsgFlag is a bitmask carried in the message header.
type MsgFlag uint32

const (
	// FlagCompressed marks an lz4 block compressed body.
	FlagCompressed MsgFlag = 1 << 0

	// FlagSecondaryOK allows the command to be served by a non-primary.
	FlagSecondaryOK MsgFlag = 1 << 1

	// FlagExhaust asks the server to stream reply frames without further
	// requests. The same responseTo correlates every frame.
	FlagExhaust MsgFlag = 1 << 2
)

const (
	headerSize = 20

	// MaxMessageSize bounds a single wire message. Anything larger is treated
	// as a protocol violation and closes the connection.
	MaxMessageSize = 48 * 1024 * 1024
)

// Command is a logical operation ready to be framed for the wire.
// The zero requestID means no id has been assigned yet.
type Command struct {
	Op       OpCode
	Database string

	// Name is the command name for OpCommand ("find", "count", ...) or the
	// collection name for write ops.
	Name string

	// Body holds the command document (filters, options, write concern
	// fields). Documents holds the payload documents for writes.
	Body      map[string]any
	Documents []map[string]any

	Flags MsgFlag

	requestID int32
}

// RequestID returns the currently assigned request id, 0 if unassigned.
func (c *Command) RequestID() int32 { return c.requestID }

// Reply is a decoded server message.
type Reply struct {
	RequestID  int32
	ResponseTo int32
	Flags      MsgFlag

	CursorID  int64
	Documents []map[string]any

	// Raw is the undecoded body, retained for callers that asked for raw
	// replies. Nil unless the codec was asked to keep it.
	Raw []byte
}

// First returns the first document of the reply, or nil.
func (r *Reply) First() map[string]any {
	if len(r.Documents) == 0 {
		return nil
	}
	return r.Documents[0]
}

// commandBody is the msgpack shape of a request body.
type commandBody struct {
	Database  string           `msgpack:"db"`
	Name      string           `msgpack:"name"`
	Body      map[string]any   `msgpack:"body,omitempty"`
	Documents []map[string]any `msgpack:"docs,omitempty"`
}

// replyBody is the msgpack shape of a reply body.
type replyBody struct {
	CursorID  int64            `msgpack:"cursor,omitempty"`
	Documents []map[string]any `msgpack:"docs,omitempty"`
}

// NewCommand builds an OpCommand against the given database.
func NewCommand(db, name string, body map[string]any) *Command {
	if body == nil {
		body = map[string]any{name: 1}
	}
	return &Command{Op: OpCommand, Database: db, Name: name, Body: body}
}

// NewWrite builds a write message against db.collection.
func NewWrite(op OpCode, db, collection string, docs []map[string]any, selector map[string]any) *Command {
	return &Command{Op: op, Database: db, Name: collection, Body: selector, Documents: docs}
}

// NewAckCommand synthesizes the acknowledgement query paired with a write
// under an acknowledged write concern. The wire protocol gives no direct
// reply to a write, so the ack command's reply stands in for it.
func NewAckCommand(db string, w any, journal bool, wtimeoutMS int) *Command {
	body := map[string]any{"getlasterror": 1}
	if w != nil {
		body["w"] = w
	}
	if journal {
		body["j"] = true
	}
	if wtimeoutMS > 0 {
		body["wtimeout"] = wtimeoutMS
	}
	return &Command{Op: OpCommand, Database: db, Name: "getlasterror", Body: body}
}
