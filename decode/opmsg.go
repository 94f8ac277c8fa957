package decode

import (
	"encoding/binary"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/bsoncore"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/morpheus-med/mongoproxy/wire"
)

const (
	opMsgSectionKindBody     = 0
	opMsgSectionKindSequence = 1
)

// decodeOpMsg walks the top-level sections of an OP_MSG body, reads section
// 0's first document, and pulls out the command name (its first element),
// the target collection (that element's value, when it's a string), and
// $db. It never decodes past the first document.
func decodeOpMsg(payload []byte, opts Options) (Decoded, error) {
	d := Decoded{Kind: KindOpMsg, OpCode: wire.OpMsg}

	if len(payload) < 4 {
		return d, fmt.Errorf("decode: op_msg: payload too short for flag bits")
	}
	body := payload[4:]

	for len(body) > 0 {
		kind := body[0]
		body = body[1:]

		switch kind {
		case opMsgSectionKindBody:
			doc, rem, ok := bsoncore.ReadDocument(body)
			if !ok {
				return d, fmt.Errorf("decode: op_msg: read section 0 document")
			}
			body = rem
			if d.Command == "" {
				applyBodyDocument(&d, doc)
			}
			if opts.CollectTrace {
				extractTraceContext(&d, doc)
			}

		case opMsgSectionKindSequence:
			if len(body) < 4 {
				return d, fmt.Errorf("decode: op_msg: truncated sequence section")
			}
			seqLen := int32(binary.LittleEndian.Uint32(body[0:4])) //nolint:gosec
			if seqLen < 4 || int(seqLen) > len(body) {
				return d, fmt.Errorf("decode: op_msg: invalid sequence length %d", seqLen)
			}
			body = body[seqLen:]

		default:
			return d, fmt.Errorf("decode: op_msg: unknown section kind %d", kind)
		}
	}

	if d.DB != "" {
		if d.Namespace != "" {
			d.Namespace = d.DB + "." + d.Namespace
		} else {
			d.Namespace = d.DB
		}
	}

	return d, nil
}

// applyBodyDocument extracts the command name (first element key), the
// collection (that element's value, if a string), $db, and reply-shaped
// fields (ok, n, cursor id, error) from a section-0 document.
func applyBodyDocument(d *Decoded, doc bsoncore.Document) {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return
	}

	first := elems[0]
	d.Command = first.Key()
	if s, ok := first.Value().StringValueOK(); ok {
		d.Namespace = s
	}

	if v, err := doc.LookupErr("$db"); err == nil {
		if s, ok := v.StringValueOK(); ok {
			d.DB = s
		}
	}

	applyReplyFields(d, doc)
}

// applyReplyFields fills in ok/n/cursorId/error when this document carries
// them, which happens on server-to-client OP_MSG replies.
func applyReplyFields(d *Decoded, doc bsoncore.Document) {
	if v, err := doc.LookupErr("ok"); err == nil {
		d.HasOK = true
		d.OK = numericValue(v) == 1
	}
	if v, err := doc.LookupErr("n"); err == nil {
		d.HasN = int32(numericValue(v)) //nolint:gosec // protocol counts fit in int32
	}
	if v, err := doc.LookupErr("cursor"); err == nil {
		if cursorDoc, ok := v.DocumentOK(); ok {
			if id, err := cursorDoc.LookupErr("id"); err == nil {
				d.CursorID = int64(numericValue(id))
			}
		}
	}
	if v, err := doc.LookupErr("code"); err == nil {
		d.ErrCode = int32(numericValue(v)) //nolint:gosec // protocol error codes fit in int32
	}
	if v, err := doc.LookupErr("errmsg"); err == nil {
		if s, ok := v.StringValueOK(); ok {
			d.ErrMsg = s
		}
	}
}

// numericValue reads a BSON double, int32, int64, or boolean as a float64,
// returning 0 for any other type rather than panicking on a type mismatch.
func numericValue(v bsoncore.Value) float64 {
	switch v.Type {
	case bsontype.Double:
		return v.Double()
	case bsontype.Int32:
		return float64(v.Int32())
	case bsontype.Int64:
		return float64(v.Int64())
	case bsontype.Boolean:
		if v.Boolean() {
			return 1
		}
		return 0
	}
	return 0
}

// extractTraceContext scans a client-to-server body for a nested
// "$trace" document of string keys/values, the caller-supplied trace
// context propagation convention.
func extractTraceContext(d *Decoded, doc bsoncore.Document) {
	v, err := doc.LookupErr("$trace")
	if err != nil {
		return
	}
	traceDoc, ok := v.DocumentOK()
	if !ok {
		return
	}
	elems, err := traceDoc.Elements()
	if err != nil {
		return
	}
	ctx := make(map[string]string, len(elems))
	for _, e := range elems {
		if s, ok := e.Value().StringValueOK(); ok {
			ctx[e.Key()] = s
		}
	}
	if len(ctx) > 0 {
		d.TraceContext = ctx
	}
}
