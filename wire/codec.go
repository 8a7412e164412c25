package wire

import (
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCompressionThreshold is the body size above which Encode compresses.
const DefaultCompressionThreshold = 1 << 12

// Codec frames commands and replies and owns the request id counter.
// Safe for concurrent use.
type Codec struct {
	// CompressionThreshold is the minimum body size, in bytes, for lz4
	// compression. Zero means DefaultCompressionThreshold; negative disables
	// compression entirely.
	CompressionThreshold int

	// KeepRaw makes Decode retain the undecoded body on every Reply.
	KeepRaw bool

	nextRequestID atomic.Int32
}

// NewCodec returns a Codec with default settings.
func NewCodec() *Codec {
	return &Codec{}
}

// NextRequestID returns a fresh request id.
func (c *Codec) NextRequestID() int32 {
	return c.nextRequestID.Add(1)
}

// AssignRequestID gives cmd a fresh id and returns it. Assigning again
// abandons the previous id; it is never handed out to another command.
func (c *Codec) AssignRequestID(cmd *Command) int32 {
	cmd.requestID = c.NextRequestID()
	return cmd.requestID
}

// ReassignRequestID re-ids a command that is being dispatched again, e.g. a
// buffered operation drained after reconnection.
func (c *Codec) ReassignRequestID(cmd *Command) int32 {
	return c.AssignRequestID(cmd)
}

func (c *Codec) threshold() int {
	switch {
	case c.CompressionThreshold < 0:
		return -1
	case c.CompressionThreshold == 0:
		return DefaultCompressionThreshold
	default:
		return c.CompressionThreshold
	}
}

// Encode frames cmd into a wire message. The command must have a request id.
func (c *Codec) Encode(cmd *Command) ([]byte, error) {
	if cmd.requestID == 0 {
		return nil, &DocumentError{Message: "command has no request id"}
	}

	body, err := msgpack.Marshal(commandBody{
		Database:  cmd.Database,
		Name:      cmd.Name,
		Body:      cmd.Body,
		Documents: cmd.Documents,
	})
	if err != nil {
		return nil, &DocumentError{Message: "encoding command body", Err: err}
	}

	flags := cmd.Flags
	if t := c.threshold(); t >= 0 && len(body) > t {
		compressed := make([]byte, 4+lz4.CompressBlockBound(len(body)))
		binary.BigEndian.PutUint32(compressed, uint32(len(body)))
		n, err := lz4.CompressBlock(body, compressed[4:], nil)
		if err == nil && n > 0 && n+4 < len(body) {
			body = compressed[:n+4]
			flags |= FlagCompressed
		}
	}

	msg := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(msg[0:], uint32(headerSize+len(body)))
	binary.BigEndian.PutUint32(msg[4:], uint32(cmd.requestID))
	binary.BigEndian.PutUint32(msg[8:], 0)
	binary.BigEndian.PutUint32(msg[12:], uint32(cmd.Op))
	binary.BigEndian.PutUint32(msg[16:], uint32(flags))
	copy(msg[headerSize:], body)
	return msg, nil
}

// Decode reads exactly one message from r and decodes it as a reply.
func (c *Codec) Decode(r io.Reader) (*Reply, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, &ConnectionError{Op: "read header", Err: err}
	}

	total := binary.BigEndian.Uint32(header[0:])
	if total < headerSize || total > MaxMessageSize {
		return nil, &ParseError{Message: "message length out of range"}
	}

	reply := &Reply{
		RequestID:  int32(binary.BigEndian.Uint32(header[4:])),
		ResponseTo: int32(binary.BigEndian.Uint32(header[8:])),
		Flags:      MsgFlag(binary.BigEndian.Uint32(header[16:])),
	}
	if op := OpCode(binary.BigEndian.Uint32(header[12:])); op != OpReply {
		return nil, &ParseError{Message: "unexpected opcode in server message"}
	}

	body := make([]byte, total-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ConnectionError{Op: "read body", Err: err}
	}

	if reply.Flags&FlagCompressed != 0 {
		if len(body) < 4 {
			return nil, &ParseError{Message: "compressed body too short"}
		}
		size := binary.BigEndian.Uint32(body)
		if size > MaxMessageSize {
			return nil, &ParseError{Message: "decompressed size out of range"}
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body[4:], out)
		if err != nil {
			return nil, &ParseError{Message: "lz4 decompression failed", Err: err}
		}
		body = out[:n]
	}

	var decoded replyBody
	if err := msgpack.Unmarshal(body, &decoded); err != nil {
		return nil, &ParseError{Message: "decoding reply body", Err: err}
	}
	reply.CursorID = decoded.CursorID
	reply.Documents = decoded.Documents
	if c.KeepRaw {
		reply.Raw = body
	}
	return reply, nil
}

// EncodeReply frames a reply message. Used by tests and server fakes.
func (c *Codec) EncodeReply(reply *Reply) ([]byte, error) {
	body, err := msgpack.Marshal(replyBody{
		CursorID:  reply.CursorID,
		Documents: reply.Documents,
	})
	if err != nil {
		return nil, &DocumentError{Message: "encoding reply body", Err: err}
	}

	msg := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(msg[0:], uint32(headerSize+len(body)))
	binary.BigEndian.PutUint32(msg[4:], uint32(reply.RequestID))
	binary.BigEndian.PutUint32(msg[8:], uint32(reply.ResponseTo))
	binary.BigEndian.PutUint32(msg[12:], uint32(OpReply))
	binary.BigEndian.PutUint32(msg[16:], uint32(reply.Flags&^FlagCompressed))
	copy(msg[headerSize:], body)
	return msg, nil
}
