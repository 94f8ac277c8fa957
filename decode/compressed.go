package decode

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/morpheus-med/mongoproxy/wire"
)

// Compressor ids, per the wire protocol's documented convention.
const (
	compressorNoop   = 0
	compressorSnappy = 1
	compressorZlib   = 2
	compressorZstd   = 3
)

var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
	})
	return zstdDecoder, zstdDecoderErr
}

// decodeOpCompressed unwraps an OP_COMPRESSED envelope — originalOpcode(4) +
// uncompressedSize(4) + compressorID(1) + compressedMessage — and recurses
// into Decode with the original opcode.
func decodeOpCompressed(hdr wire.Header, payload []byte, opts Options) (Decoded, error) {
	d := Decoded{Kind: KindUnknown, OpCode: wire.OpCompressed}
	if len(payload) < 9 {
		return d, fmt.Errorf("decode: op_compressed: payload too short")
	}

	originalOp := wire.OpCode(binary.LittleEndian.Uint32(payload[0:4]))
	uncompressedSize := binary.LittleEndian.Uint32(payload[4:8])
	compressorID := payload[8]
	compressed := payload[9:]

	raw, err := decompress(compressorID, compressed, uncompressedSize)
	if err != nil {
		return d, fmt.Errorf("decode: op_compressed: %w", err)
	}

	innerHeader := wire.Header{
		TotalLength: wire.HeaderSize + int32(len(raw)), //nolint:gosec
		RequestID:   hdr.RequestID,
		ResponseTo:  hdr.ResponseTo,
		OpCode:      originalOp,
	}
	return Decode(innerHeader, raw, opts)
}

func decompress(compressorID byte, compressed []byte, uncompressedSize uint32) ([]byte, error) {
	switch compressorID {
	case compressorNoop:
		return compressed, nil

	case compressorSnappy:
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("snappy: %w", err)
		}
		return raw, nil

	case compressorZlib:
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("zlib: open: %w", err)
		}
		defer func() { _ = zr.Close() }()
		raw := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(raw)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("zlib: inflate: %w", err)
		}
		return buf.Bytes(), nil

	case compressorZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd: new reader: %w", err)
		}
		raw, err := dec.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return raw, nil

	default:
		return nil, fmt.Errorf("unknown compressor id %d", compressorID)
	}
}
