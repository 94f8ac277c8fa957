package wire

import (
	"errors"
	"fmt"
	"io"
)

// ProtocolError is returned when a header advertises a total length outside
// the acceptable range.
type ProtocolError struct {
	TotalLength int32
	Max         int32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: invalid total_length %d (max %d)", e.TotalLength, e.Max)
}

// Framer reassembles WireMessages from a lazy byte sequence. It reads
// exactly one header and one payload per call to Next and never buffers
// more than a single message's worth of bytes.
type Framer struct {
	r              io.Reader
	maxMessageSize int32
	hdrBuf         [HeaderSize]byte
}

// NewFramer returns a Framer reading from r, using DefaultMaxMessageSize as
// the oversize guard.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: r, maxMessageSize: DefaultMaxMessageSize}
}

// SetMaxMessageSize overrides the oversize guard.
func (f *Framer) SetMaxMessageSize(n int32) {
	if n > 0 {
		f.maxMessageSize = n
	}
}

// Next reads and returns the next WireMessage. It returns io.EOF when the
// underlying reader is exhausted exactly at a message boundary,
// io.ErrUnexpectedEOF (wrapped) when it is exhausted mid-message, and a
// *ProtocolError when the advertised length is out of range.
func (f *Framer) Next() (Message, error) {
	if _, err := io.ReadFull(f.r, f.hdrBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("wire: read header: %w", err)
	}

	hdr := ReadHeader(f.hdrBuf[:])
	if hdr.TotalLength < HeaderSize || hdr.TotalLength > f.maxMessageSize {
		return Message{}, &ProtocolError{TotalLength: hdr.TotalLength, Max: f.maxMessageSize}
	}

	payloadLen := hdr.PayloadLength()
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return Message{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}

	return Message{Header: hdr, Payload: payload}, nil
}
