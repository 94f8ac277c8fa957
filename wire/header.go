// Package wire decodes the fixed-size message prelude used by the
// document-database wire protocol and reassembles complete messages from a
// byte stream.
package wire

import "encoding/binary"

// HeaderSize is the length in bytes of the message prelude.
const HeaderSize = 16

// DefaultMaxMessageSize is the protocol's documented message size ceiling.
const DefaultMaxMessageSize int32 = 48 * 1024 * 1024

// OpCode tags the kind of a wire message.
type OpCode int32

const (
	OpReply       OpCode = 1
	OpUpdate      OpCode = 2001
	OpInsert      OpCode = 2002
	OpQuery       OpCode = 2004
	OpGetMore     OpCode = 2005
	OpDelete      OpCode = 2006
	OpKillCursors OpCode = 2007
	OpCompressed  OpCode = 2012
	OpMsg         OpCode = 2013
)

func (c OpCode) String() string {
	switch c {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GET_MORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILL_CURSORS"
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	}
	return "OP_UNKNOWN"
}

// Header is the 16-byte little-endian prelude of every wire message.
type Header struct {
	TotalLength int32
	RequestID   int32
	ResponseTo  int32
	OpCode      OpCode
}

// PayloadLength returns the number of payload bytes following the header.
func (h Header) PayloadLength() int32 {
	return h.TotalLength - HeaderSize
}

// ReadHeader decodes a Header from the first HeaderSize bytes of b.
// b must be at least HeaderSize bytes long.
func ReadHeader(b []byte) Header {
	return Header{
		TotalLength: int32(binary.LittleEndian.Uint32(b[0:4])),  //nolint:gosec // wire value, sign intentional
		RequestID:   int32(binary.LittleEndian.Uint32(b[4:8])),  //nolint:gosec
		ResponseTo:  int32(binary.LittleEndian.Uint32(b[8:12])), //nolint:gosec
		OpCode:      OpCode(binary.LittleEndian.Uint32(b[12:16])),
	}
}

// PutHeader encodes h into the first HeaderSize bytes of b.
func PutHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.TotalLength)) //nolint:gosec
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.RequestID))   //nolint:gosec
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.ResponseTo)) //nolint:gosec
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.OpCode))
}

// Message is a complete wire message: its header plus the opaque payload
// that follows it.
type Message struct {
	Header  Header
	Payload []byte
}
