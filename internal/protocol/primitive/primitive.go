// Package primitive encodes and decodes the fixed-width scalars, UTF-8
// strings and homogeneous arrays carried inside TLV field payloads.
//
// Numeric kinds are little-endian and fixed width. Strings and arrays carry
// no internal length; the wrapping field supplies it.
package primitive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"
)

// Kind identifies one scalar wire type.
type Kind uint8

const (
	KindU8 Kind = iota + 1
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindBool
	KindString
)

var (
	ErrUnknownKind  = errors.New("primitive: unknown kind")
	ErrInvalidWidth = errors.New("primitive: invalid width")
	ErrArrayLength  = errors.New("primitive: array length not a multiple of element width")
	ErrOutOfRange   = errors.New("primitive: value out of range")
	ErrNotFinite    = errors.New("primitive: float not finite")
	ErrTypeMismatch = errors.New("primitive: value type mismatch")
	ErrInvalidUTF8  = errors.New("primitive: invalid utf-8")
	ErrInvalidBool  = errors.New("primitive: invalid bool byte")
)

// Width returns the encoded byte width of k, or 0 for variable-width kinds.
func (k Kind) Width() int {
	switch k {
	case KindU8, KindI8, KindBool:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	default:
		return 0
	}
}

func (k Kind) Valid() bool {
	return k >= KindU8 && k <= KindString
}

func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) integer() bool {
	return k >= KindU8 && k <= KindI64
}

// number is a native Go numeric lifted into one comparable shape.
type number struct {
	signed  bool
	isFloat bool
	i       int64
	u       uint64
	f       float64
}

func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{signed: true, i: int64(x)}, true
	case int8:
		return number{signed: true, i: int64(x)}, true
	case int16:
		return number{signed: true, i: int64(x)}, true
	case int32:
		return number{signed: true, i: int64(x)}, true
	case int64:
		return number{signed: true, i: x}, true
	case uint:
		return number{u: uint64(x)}, true
	case uint8:
		return number{u: uint64(x)}, true
	case uint16:
		return number{u: uint64(x)}, true
	case uint32:
		return number{u: uint64(x)}, true
	case uint64:
		return number{u: x}, true
	case float32:
		return number{isFloat: true, f: float64(x)}, true
	case float64:
		return number{isFloat: true, f: x}, true
	default:
		return number{}, false
	}
}

func (n number) float() float64 {
	switch {
	case n.isFloat:
		return n.f
	case n.signed:
		return float64(n.i)
	default:
		return float64(n.u)
	}
}

// bits returns the two's complement bit pattern of an in-range integer.
func (n number) bits() uint64 {
	switch {
	case n.isFloat && n.f < 0:
		return uint64(int64(n.f))
	case n.isFloat:
		return uint64(n.f)
	case n.signed:
		return uint64(n.i)
	default:
		return n.u
	}
}

func intBounds(k Kind) (int64, uint64) {
	switch k {
	case KindU8:
		return 0, math.MaxUint8
	case KindU16:
		return 0, math.MaxUint16
	case KindU32:
		return 0, math.MaxUint32
	case KindU64:
		return 0, math.MaxUint64
	case KindI8:
		return math.MinInt8, math.MaxInt8
	case KindI16:
		return math.MinInt16, math.MaxInt16
	case KindI32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// Validate checks that the native value v can be represented as kind k
// without loss. Integer kinds accept any Go integer or an integral float.
func Validate(k Kind, v any) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	switch k {
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: %s wants bool, got %T", ErrTypeMismatch, k, v)
		}
		return nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s wants string, got %T", ErrTypeMismatch, k, v)
		}
		if !utf8.ValidString(s) {
			return ErrInvalidUTF8
		}
		return nil
	}

	n, ok := toNumber(v)
	if !ok {
		return fmt.Errorf("%w: %s wants a number, got %T", ErrTypeMismatch, k, v)
	}
	if k == KindF32 || k == KindF64 {
		f := n.float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNotFinite
		}
		if k == KindF32 && math.Abs(f) > math.MaxFloat32 {
			return fmt.Errorf("%w: %v overflows f32", ErrOutOfRange, f)
		}
		return nil
	}

	lo, hi := intBounds(k)
	switch {
	case n.isFloat:
		if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
			return ErrNotFinite
		}
		if n.f != math.Trunc(n.f) {
			return fmt.Errorf("%w: %v is not integral", ErrTypeMismatch, n.f)
		}
		if n.f < float64(lo) || n.f >= float64(hi)+1 {
			return fmt.Errorf("%w: %v for %s", ErrOutOfRange, n.f, k)
		}
	case n.signed:
		if n.i < lo || (n.i > 0 && uint64(n.i) > hi) {
			return fmt.Errorf("%w: %d for %s", ErrOutOfRange, n.i, k)
		}
	default:
		if n.u > hi {
			return fmt.Errorf("%w: %d for %s", ErrOutOfRange, n.u, k)
		}
	}
	return nil
}

// Encode validates v and returns its wire bytes for kind k.
func Encode(k Kind, v any) ([]byte, error) {
	if err := Validate(k, v); err != nil {
		return nil, err
	}
	switch k {
	case KindBool:
		return EncodeScalar(v.(bool)), nil
	case KindString:
		return []byte(v.(string)), nil
	}
	n, _ := toNumber(v)
	switch k {
	case KindF32:
		return EncodeScalar(float32(n.float())), nil
	case KindF64:
		return EncodeScalar(n.float()), nil
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n.bits())
	return buf[:k.Width()], nil
}

// Decode returns the canonical Go value for kind k: uint8..uint64,
// int8..int64, float32, float64, bool or string.
func Decode(k Kind, b []byte) (any, error) {
	switch k {
	case KindU8:
		return DecodeScalar[uint8](b)
	case KindU16:
		return DecodeScalar[uint16](b)
	case KindU32:
		return DecodeScalar[uint32](b)
	case KindU64:
		return DecodeScalar[uint64](b)
	case KindI8:
		return DecodeScalar[int8](b)
	case KindI16:
		return DecodeScalar[int16](b)
	case KindI32:
		return DecodeScalar[int32](b)
	case KindI64:
		return DecodeScalar[int64](b)
	case KindF32:
		return DecodeScalar[float32](b)
	case KindF64:
		return DecodeScalar[float64](b)
	case KindBool:
		return DecodeScalar[bool](b)
	case KindString:
		return DecodeString(b)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}

// EncodeArray encodes any slice whose elements validate as kind k.
func EncodeArray(k Kind, values any) ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: array wants a slice, got %T", ErrTypeMismatch, values)
	}
	width := max(k.Width(), 1)
	out := make([]byte, 0, rv.Len()*width)
	for i := range rv.Len() {
		b, err := Encode(k, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("primitive: element %d: %w", i, err)
		}
		if k == KindString {
			out = binary.LittleEndian.AppendUint64(out, uint64(len(b)))
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeArray returns a typed slice ([]uint8, []string, ...) for kind k.
func DecodeArray(k Kind, b []byte) (any, error) {
	switch k {
	case KindU8:
		return DecodeSlice[uint8](b)
	case KindU16:
		return DecodeSlice[uint16](b)
	case KindU32:
		return DecodeSlice[uint32](b)
	case KindU64:
		return DecodeSlice[uint64](b)
	case KindI8:
		return DecodeSlice[int8](b)
	case KindI16:
		return DecodeSlice[int16](b)
	case KindI32:
		return DecodeSlice[int32](b)
	case KindI64:
		return DecodeSlice[int64](b)
	case KindF32:
		return DecodeSlice[float32](b)
	case KindF64:
		return DecodeSlice[float64](b)
	case KindBool:
		return DecodeSlice[bool](b)
	case KindString:
		return DecodeStrings(b)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}

// DecodeString validates b as UTF-8.
func DecodeString(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// EncodeStrings writes each element as u64 length ++ bytes.
func EncodeStrings(values []string) []byte {
	size := 0
	for _, v := range values {
		size += 8 + len(v)
	}
	out := make([]byte, 0, size)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint64(out, uint64(len(v)))
		out = append(out, v...)
	}
	return out
}

func DecodeStrings(b []byte) ([]string, error) {
	out := make([]string, 0)
	for off := 0; off < len(b); {
		if len(b)-off < 8 {
			return nil, fmt.Errorf("%w: short string length prefix", ErrArrayLength)
		}
		n := binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
		if n > uint64(len(b)-off) {
			return nil, fmt.Errorf("%w: string element overruns buffer", ErrArrayLength)
		}
		s, err := DecodeString(b[off : off+int(n)])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		off += int(n)
	}
	return out, nil
}
