// Package wire implements the ink wire protocol: message framing, request id
// assignment and the command/reply codec.
//
// A message is a fixed 20-byte header followed by a msgpack-encoded body:
//
//	int32  totalLength   (header + body, bytes)
//	int32  requestID     (assigned by the Codec, unique among in-flight requests)
//	int32  responseTo    (requestID this message replies to, 0 for requests)
//	int32  opCode        (OpCommand, OpInsert, ...)
//	uint32 flags         (compression, exhaust, ...)
//
// Bodies above the configured threshold are lz4 block compressed and marked
// with FlagCompressed.
//
// The Codec owns the request id counter. Ids are assigned when a command is
// first encoded for the wire and reassigned when a buffered command is sent
// again; a stale id is never reused for a new physical send.
package wire
