package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MinHeaderLen is id(2) + rank(1) + the smallest size prefix (1).
const MinHeaderLen = 4

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrInvalidRank      = errors.New("tlv: invalid size rank")
	ErrSizeOverflow     = errors.New("tlv: payload too large for size rank")
	ErrDuplicateField   = errors.New("tlv: duplicate field id")
	ErrMissingField     = errors.New("tlv: missing field")
)

// SizeRank is the bit width of a field's size prefix. Its value is the tag
// byte written on the wire.
type SizeRank uint8

const (
	Rank8  SizeRank = 8
	Rank16 SizeRank = 16
	Rank32 SizeRank = 32
	Rank64 SizeRank = 64
)

func (r SizeRank) Valid() bool {
	switch r {
	case Rank8, Rank16, Rank32, Rank64:
		return true
	}
	return false
}

// Bytes returns the width of the size prefix.
func (r SizeRank) Bytes() int {
	return int(r) / 8
}

// Max returns the largest payload length the rank can describe.
func (r SizeRank) Max() uint64 {
	if r == Rank64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(r) - 1
}

// RankFor returns the smallest rank able to carry n bytes.
func RankFor(n int) SizeRank {
	switch {
	case n <= int(Rank8.Max()):
		return Rank8
	case n <= int(Rank16.Max()):
		return Rank16
	case uint64(n) <= Rank32.Max():
		return Rank32
	default:
		return Rank64
	}
}

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Rank  SizeRank
	Value []byte
}

// EncodedLen is the number of bytes EncodeField writes for f.
func (f Field) EncodedLen() int {
	return 3 + f.Rank.Bytes() + len(f.Value)
}

func EncodeField(f Field) ([]byte, error) {
	return AppendField(make([]byte, 0, f.EncodedLen()), f)
}

// AppendField writes id(u16) ++ rank(u8) ++ size ++ value onto dst.
func AppendField(dst []byte, f Field) ([]byte, error) {
	if !f.Rank.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRank, f.Rank)
	}
	if uint64(len(f.Value)) > f.Rank.Max() {
		return nil, fmt.Errorf("%w: field %d has %d bytes for rank %d", ErrSizeOverflow, f.ID, len(f.Value), f.Rank)
	}
	dst = binary.LittleEndian.AppendUint16(dst, f.ID)
	dst = append(dst, byte(f.Rank))
	n := uint64(len(f.Value))
	switch f.Rank {
	case Rank8:
		dst = append(dst, byte(n))
	case Rank16:
		dst = binary.LittleEndian.AppendUint16(dst, uint16(n))
	case Rank32:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(n))
	case Rank64:
		dst = binary.LittleEndian.AppendUint64(dst, n)
	}
	return append(dst, f.Value...), nil
}

func EncodeFields(fields []Field) ([]byte, error) {
	size := 0
	for _, f := range fields {
		size += f.EncodedLen()
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var err error
		out, err = AppendField(out, f)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeFields scans payload once. Any malformed field aborts the whole
// decode; no partial result is returned.
func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < 3 {
			return nil, ErrShortFieldHeader
		}
		id := binary.LittleEndian.Uint16(payload[i : i+2])
		rank := SizeRank(payload[i+2])
		if !rank.Valid() {
			return nil, fmt.Errorf("%w: field %d tag %d", ErrInvalidRank, id, payload[i+2])
		}
		i += 3
		w := rank.Bytes()
		if len(payload)-i < w {
			return nil, ErrShortFieldHeader
		}
		var l uint64
		switch rank {
		case Rank8:
			l = uint64(payload[i])
		case Rank16:
			l = uint64(binary.LittleEndian.Uint16(payload[i : i+2]))
		case Rank32:
			l = uint64(binary.LittleEndian.Uint32(payload[i : i+4]))
		case Rank64:
			l = binary.LittleEndian.Uint64(payload[i : i+8])
		}
		i += w
		if uint64(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Rank: rank, Value: val})
	}
	return fields, nil
}
