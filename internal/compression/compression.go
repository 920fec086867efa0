// Package compression implements the optional payload codecs negotiated
// through the HELLO capability flags. Codecs compress single DATA
// payloads, not the stream; every compressed payload is self-contained.
package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses single tunnel payloads. A Codec is
// safe for concurrent use.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// ForName returns the codec for a config name.
func ForName(name string) (Codec, error) {
	switch name {
	case "", "lz4":
		return lz4Codec{}, nil
	case "zstd":
		return newZstdCodec()
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

// MinSize is the payload size below which compression is skipped; tiny
// packets only grow.
const MinSize = 128

// lz4 payloads carry a method byte and the original length so block
// decompression can size its buffer. Incompressible payloads are stored
// raw under the same framing.
const (
	methodRaw = 0x00
	methodLZ4 = 0x01
)

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	dst := make([]byte, 5+bound)
	dst[0] = methodLZ4
	binary.BigEndian.PutUint32(dst[1:5], uint32(len(src)))
	n, err := lz4.CompressBlock(src, dst[5:], nil)
	if err != nil || n == 0 || n >= len(src) {
		out := make([]byte, 5+len(src))
		out[0] = methodRaw
		binary.BigEndian.PutUint32(out[1:5], uint32(len(src)))
		copy(out[5:], src)
		return out, nil
	}
	return dst[:5+n], nil
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	if len(src) < 5 {
		return nil, fmt.Errorf("lz4 payload too short: %d bytes", len(src))
	}
	origLen := binary.BigEndian.Uint32(src[1:5])
	switch src[0] {
	case methodRaw:
		if int(origLen) != len(src)-5 {
			return nil, fmt.Errorf("lz4 raw payload length mismatch")
		}
		out := make([]byte, origLen)
		copy(out, src[5:])
		return out, nil
	case methodLZ4:
		out := make([]byte, origLen)
		n, err := lz4.UncompressBlock(src[5:], out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("unknown lz4 payload method 0x%02x", src[0])
	}
}

// zstd frames are self-describing, so no extra framing is added.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (c *zstdCodec) Decompress(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
