package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortElement     = errors.New("tlv: short self array element")
	ErrUnknownVariant   = errors.New("tlv: unknown option variant")
	ErrShortOption      = errors.New("tlv: short option header")
	ErrNoVariant        = errors.New("tlv: option has no variant set")
	ErrMultipleVariants = errors.New("tlv: option has more than one variant set")
)

// EncodeSelfArray prefixes each element with its u64 byte length.
func EncodeSelfArray(items [][]byte) []byte {
	size := 0
	for _, item := range items {
		size += 8 + len(item)
	}
	out := make([]byte, 0, size)
	for _, item := range items {
		out = binary.LittleEndian.AppendUint64(out, uint64(len(item)))
		out = append(out, item...)
	}
	return out
}

// DecodeSelfArray walks length-prefixed chunks until buf is exhausted.
func DecodeSelfArray(buf []byte) ([][]byte, error) {
	items := make([][]byte, 0)
	for i := 0; i < len(buf); {
		if len(buf)-i < 8 {
			return nil, fmt.Errorf("%w: %d bytes left for length", ErrShortElement, len(buf)-i)
		}
		n := binary.LittleEndian.Uint64(buf[i : i+8])
		i += 8
		if n > uint64(len(buf)-i) {
			return nil, fmt.Errorf("%w: want %d have %d", ErrShortElement, n, len(buf)-i)
		}
		item := make([]byte, n)
		copy(item, buf[i:i+int(n)])
		items = append(items, item)
		i += int(n)
	}
	return items, nil
}

func MarshalSelfArray[T Marshaler](items []T) ([]byte, error) {
	chunks := make([][]byte, 0, len(items))
	for i, item := range items {
		b, err := item.MarshalTLV()
		if err != nil {
			return nil, fmt.Errorf("tlv: self array element %d: %w", i, err)
		}
		chunks = append(chunks, b)
	}
	return EncodeSelfArray(chunks), nil
}

func UnmarshalSelfArray[T any, PT interface {
	*T
	Unmarshaler
}](buf []byte) ([]T, error) {
	chunks, err := DecodeSelfArray(buf)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(chunks))
	for i, chunk := range chunks {
		if err := PT(&out[i]).UnmarshalTLV(chunk); err != nil {
			return nil, fmt.Errorf("tlv: self array element %d: %w", i, err)
		}
	}
	return out, nil
}

// EncodeOption writes optionID(u16) ++ payload.
func EncodeOption(optionID uint16, payload []byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = binary.LittleEndian.AppendUint16(out, optionID)
	return append(out, payload...)
}

// DecodeOption reads the variant id and hands the payload to its decoder.
func DecodeOption(buf []byte, decoders map[uint16]func([]byte) error) (uint16, error) {
	if len(buf) < 2 {
		return 0, ErrShortOption
	}
	id := binary.LittleEndian.Uint16(buf[:2])
	decode, ok := decoders[id]
	if !ok {
		return id, fmt.Errorf("%w: %d", ErrUnknownVariant, id)
	}
	if err := decode(buf[2:]); err != nil {
		return id, fmt.Errorf("tlv: option variant %d: %w", id, err)
	}
	return id, nil
}

// ExactlyOne validates that a tagged union has a single variant set.
func ExactlyOne(set ...bool) error {
	n := 0
	for _, s := range set {
		if s {
			n++
		}
	}
	switch {
	case n == 0:
		return ErrNoVariant
	case n > 1:
		return ErrMultipleVariants
	}
	return nil
}
