// Package decode extracts only the fields needed for metrics and tracing
// from a wire message: command name, target namespace, and reply status.
// It never decodes a full document tree.
package decode

import (
	"fmt"

	"github.com/morpheus-med/mongoproxy/wire"
)

// Kind tags which opcode produced a Decoded value.
type Kind int

const (
	KindUnknown Kind = iota
	KindOpMsg
	KindOpQuery
	KindOpReply
	KindOpGetMore
	KindOpInsert
	KindOpUpdate
	KindOpDelete
	KindOpKillCursors
)

// Decoded is a sparse, tagged summary of one wire message — just enough to
// drive metrics and tracing.
type Decoded struct {
	Kind      Kind
	OpCode    wire.OpCode
	Command   string
	DB        string
	Namespace string

	HasOK     bool
	OK        bool
	HasN      int32
	CursorID  int64
	ErrCode   int32
	ErrMsg    string
	TraceContext map[string]string
}

// Options controls how much of a message gets decoded.
type Options struct {
	// CollectTrace enables scanning client-to-server OP_MSG bodies for
	// embedded trace-context fields.
	CollectTrace bool
}

// Decode dispatches on hdr.OpCode and extracts a sparse summary of payload.
// Decode errors for unknown opcodes are not returned; a KindUnknown value is
// returned instead so callers can treat decode failures as non-fatal.
func Decode(hdr wire.Header, payload []byte, opts Options) (Decoded, error) {
	switch hdr.OpCode {
	case wire.OpMsg:
		return decodeOpMsg(payload, opts)
	case wire.OpQuery:
		return decodeOpQuery(payload)
	case wire.OpGetMore:
		return decodeOpGetMore(payload)
	case wire.OpReply:
		return decodeOpReply(payload)
	case wire.OpInsert, wire.OpUpdate, wire.OpDelete, wire.OpKillCursors:
		return decodeLegacyWrite(hdr.OpCode, payload)
	case wire.OpCompressed:
		return decodeOpCompressed(hdr, payload, opts)
	default:
		return Decoded{Kind: KindUnknown, OpCode: hdr.OpCode}, nil
	}
}

// readCString reads a NUL-terminated string starting at offset 0 of b,
// returning the string and the number of bytes consumed including the NUL.
func readCString(b []byte) (string, int, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("decode: unterminated cstring")
}

func splitNamespace(ns string) (db, collection string) {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i], ns[i+1:]
		}
	}
	return ns, ""
}
