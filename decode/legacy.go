package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/morpheus-med/mongoproxy/wire"
)

// decodeOpQuery extracts the full collection name from an OP_QUERY prelude:
// flags(4) + fullCollectionName (cstring) + numberToSkip(4) + numberToReturn(4) + query doc.
func decodeOpQuery(payload []byte) (Decoded, error) {
	d := Decoded{Kind: KindOpQuery, OpCode: wire.OpQuery}
	if len(payload) < 4 {
		return d, fmt.Errorf("decode: op_query: payload too short")
	}
	ns, _, err := readCString(payload[4:])
	if err != nil {
		return d, fmt.Errorf("decode: op_query: %w", err)
	}
	d.Namespace = ns
	d.DB, _ = splitNamespace(ns)
	return d, nil
}

// decodeOpGetMore extracts the full collection name and cursor id from an
// OP_GET_MORE prelude: zero(4) + fullCollectionName (cstring) + numberToReturn(4) + cursorID(8).
func decodeOpGetMore(payload []byte) (Decoded, error) {
	d := Decoded{Kind: KindOpGetMore, OpCode: wire.OpGetMore}
	if len(payload) < 4 {
		return d, fmt.Errorf("decode: op_get_more: payload too short")
	}
	ns, n, err := readCString(payload[4:])
	if err != nil {
		return d, fmt.Errorf("decode: op_get_more: %w", err)
	}
	d.Namespace = ns
	d.DB, _ = splitNamespace(ns)

	off := 4 + n + 4
	if off+8 <= len(payload) {
		d.CursorID = int64(binary.LittleEndian.Uint64(payload[off : off+8])) //nolint:gosec
	}
	return d, nil
}

// decodeOpReply extracts response flags, cursor id, and reply count from an
// OP_REPLY prelude: responseFlags(4) + cursorID(8) + startingFrom(4) + numberReturned(4).
func decodeOpReply(payload []byte) (Decoded, error) {
	d := Decoded{Kind: KindOpReply, OpCode: wire.OpReply}
	if len(payload) < 20 {
		return d, fmt.Errorf("decode: op_reply: payload too short")
	}
	const queryFailureFlag = 1 << 1
	flags := binary.LittleEndian.Uint32(payload[0:4])
	d.CursorID = int64(binary.LittleEndian.Uint64(payload[4:12])) //nolint:gosec
	d.HasN = int32(binary.LittleEndian.Uint32(payload[16:20]))    //nolint:gosec
	d.HasOK = true
	d.OK = flags&queryFailureFlag == 0
	return d, nil
}

// decodeLegacyWrite extracts the full collection name from the legacy
// OP_INSERT/OP_UPDATE/OP_DELETE preludes, all of which place a cstring at
// offset 4. OP_KILL_CURSORS carries no collection name.
func decodeLegacyWrite(op wire.OpCode, payload []byte) (Decoded, error) {
	kind := map[wire.OpCode]Kind{
		wire.OpInsert:      KindOpInsert,
		wire.OpUpdate:      KindOpUpdate,
		wire.OpDelete:      KindOpDelete,
		wire.OpKillCursors: KindOpKillCursors,
	}[op]
	d := Decoded{Kind: kind, OpCode: op}

	if op == wire.OpKillCursors {
		return d, nil
	}

	if len(payload) < 4 {
		return d, fmt.Errorf("decode: %s: payload too short", op)
	}
	ns, _, err := readCString(payload[4:])
	if err != nil {
		return d, fmt.Errorf("decode: %s: %w", op, err)
	}
	d.Namespace = ns
	d.DB, _ = splitNamespace(ns)
	return d, nil
}
