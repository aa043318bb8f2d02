// Package transform holds body rewrite strategies that an Envelope or Framer
// applies between struct encoding and framing.
package transform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
)

// MaxDecodedBytes bounds the size a compressed body may expand to.
const MaxDecodedBytes = 64 * 1024 * 1024

var (
	ErrUnknownTransform = errors.New("transform: unknown transform")
	ErrCorruptBody      = errors.New("transform: corrupt body")
	ErrDecodedTooLarge  = errors.New("transform: decoded body too large")
	ErrClosed           = errors.New("transform: closed")
)

// Name identifies a transform in configuration.
type Name string

const (
	NameNone Name = "none"
	NameLZ4  Name = "lz4"
	NameZstd Name = "zstd"
)

// Parse maps a config string to a transform. Empty and "none" yield nil,
// which the frame package treats as the identity.
func Parse(raw string) (frame.Transform, error) {
	switch Name(strings.ToLower(strings.TrimSpace(raw))) {
	case "", NameNone:
		return nil, nil
	case NameLZ4:
		return LZ4{}, nil
	case NameZstd:
		z, err := NewZstd()
		if err != nil {
			return nil, err
		}
		return z, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, raw)
	}
}

// Known reports whether raw names a transform Parse accepts, without
// allocating one.
func Known(raw string) bool {
	switch Name(strings.ToLower(strings.TrimSpace(raw))) {
	case "", NameNone, NameLZ4, NameZstd:
		return true
	}
	return false
}

// LZ4 compresses bodies as one lz4 block.
//
// Layout: mode(u8) ++ rawLen(u32 LE) ++ data. Mode 0 stores the body as-is
// when lz4 cannot shrink it; mode 1 is a compressed block.
type LZ4 struct{}

const (
	lz4Stored     byte = 0
	lz4Compressed byte = 1
	lz4HeaderLen       = 5
)

func (LZ4) Encode(body []byte) ([]byte, error) {
	if uint64(len(body)) > MaxDecodedBytes {
		return nil, ErrDecodedTooLarge
	}
	out := make([]byte, lz4HeaderLen+lz4.CompressBlockBound(len(body)))
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(body)))

	written, err := lz4.CompressBlock(body, out[lz4HeaderLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("transform: lz4 compress: %w", err)
	}
	if written == 0 || written >= len(body) {
		out[0] = lz4Stored
		return append(out[:lz4HeaderLen], body...), nil
	}
	out[0] = lz4Compressed
	return out[:lz4HeaderLen+written], nil
}

func (LZ4) Decode(body []byte) ([]byte, error) {
	if len(body) < lz4HeaderLen {
		return nil, fmt.Errorf("%w: lz4 header", ErrCorruptBody)
	}
	size := int(binary.LittleEndian.Uint32(body[1:5]))
	if size > MaxDecodedBytes {
		return nil, ErrDecodedTooLarge
	}
	data := body[lz4HeaderLen:]
	switch body[0] {
	case lz4Stored:
		if len(data) != size {
			return nil, fmt.Errorf("%w: stored size %d want %d", ErrCorruptBody, len(data), size)
		}
		return append([]byte(nil), data...), nil
	case lz4Compressed:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptBody, err)
		}
		if read != size {
			return nil, fmt.Errorf("%w: lz4 got %d bytes want %d", ErrCorruptBody, read, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: lz4 mode %d", ErrCorruptBody, body[0])
	}
}

// Zstd compresses bodies with zstd frames. The encoder and decoder are safe
// for concurrent use and shared by every envelope holding this value.
type Zstd struct {
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	closed atomic.Bool
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("transform: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedBytes))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("transform: zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Encode(body []byte) ([]byte, error) {
	if z.closed.Load() {
		return nil, ErrClosed
	}
	return z.enc.EncodeAll(body, nil), nil
}

func (z *Zstd) Decode(body []byte) ([]byte, error) {
	if z.closed.Load() {
		return nil, ErrClosed
	}
	out, err := z.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptBody, err)
	}
	return out, nil
}

// Close releases the decoder goroutines. Later calls are no-ops; Encode and
// Decode fail with ErrClosed afterwards.
func (z *Zstd) Close() {
	if !z.closed.CompareAndSwap(false, true) {
		return
	}
	z.dec.Close()
	_ = z.enc.Close()
}

// Release closes t when it holds resources. Nil and stateless transforms
// are ignored.
func Release(t frame.Transform) {
	if c, ok := t.(interface{ Close() }); ok {
		c.Close()
	}
}
