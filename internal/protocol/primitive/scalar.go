package primitive

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Scalar is the set of fixed-width Go types with a wire kind.
type Scalar interface {
	uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 | float32 | float64 | bool
}

// KindOf returns the wire kind of T.
func KindOf[T Scalar]() Kind {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return KindU8
	case uint16:
		return KindU16
	case uint32:
		return KindU32
	case uint64:
		return KindU64
	case int8:
		return KindI8
	case int16:
		return KindI16
	case int32:
		return KindI32
	case int64:
		return KindI64
	case float32:
		return KindF32
	case float64:
		return KindF64
	default:
		return KindBool
	}
}

func EncodeScalar[T Scalar](v T) []byte {
	return AppendScalar(make([]byte, 0, 8), v)
}

func AppendScalar[T Scalar](dst []byte, v T) []byte {
	switch x := any(v).(type) {
	case uint8:
		return append(dst, x)
	case int8:
		return append(dst, byte(x))
	case uint16:
		return binary.LittleEndian.AppendUint16(dst, x)
	case int16:
		return binary.LittleEndian.AppendUint16(dst, uint16(x))
	case uint32:
		return binary.LittleEndian.AppendUint32(dst, x)
	case int32:
		return binary.LittleEndian.AppendUint32(dst, uint32(x))
	case uint64:
		return binary.LittleEndian.AppendUint64(dst, x)
	case int64:
		return binary.LittleEndian.AppendUint64(dst, uint64(x))
	case float32:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(x))
	case float64:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(x))
	case bool:
		if x {
			return append(dst, 1)
		}
		return append(dst, 0)
	}
	return dst
}

// DecodeScalar requires b to be exactly the width of T.
func DecodeScalar[T Scalar](b []byte) (T, error) {
	var zero T
	k := KindOf[T]()
	if len(b) != k.Width() {
		return zero, fmt.Errorf("%w: %s got %d bytes", ErrInvalidWidth, k, len(b))
	}
	var out any
	switch any(zero).(type) {
	case uint8:
		out = b[0]
	case int8:
		out = int8(b[0])
	case uint16:
		out = binary.LittleEndian.Uint16(b)
	case int16:
		out = int16(binary.LittleEndian.Uint16(b))
	case uint32:
		out = binary.LittleEndian.Uint32(b)
	case int32:
		out = int32(binary.LittleEndian.Uint32(b))
	case uint64:
		out = binary.LittleEndian.Uint64(b)
	case int64:
		out = int64(binary.LittleEndian.Uint64(b))
	case float32:
		out = math.Float32frombits(binary.LittleEndian.Uint32(b))
	case float64:
		out = math.Float64frombits(binary.LittleEndian.Uint64(b))
	case bool:
		switch b[0] {
		case 0:
			out = false
		case 1:
			out = true
		default:
			return zero, ErrInvalidBool
		}
	}
	return out.(T), nil
}

// EncodeSlice concatenates the encoded elements of vs.
func EncodeSlice[T Scalar](vs []T) []byte {
	out := make([]byte, 0, len(vs)*KindOf[T]().Width())
	for _, v := range vs {
		out = AppendScalar(out, v)
	}
	return out
}

// DecodeSlice splits b into elements of T. An empty buffer is an empty slice.
func DecodeSlice[T Scalar](b []byte) ([]T, error) {
	w := KindOf[T]().Width()
	if len(b)%w != 0 {
		return nil, fmt.Errorf("%w: %d bytes for width %d", ErrArrayLength, len(b), w)
	}
	out := make([]T, 0, len(b)/w)
	for off := 0; off < len(b); off += w {
		v, err := DecodeScalar[T](b[off : off+w])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
