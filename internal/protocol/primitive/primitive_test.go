package primitive

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestScalarRoundTripAllKinds(t *testing.T) {
	cases := []struct {
		kind  Kind
		value any
	}{
		{KindU8, uint8(0xAB)},
		{KindU16, uint16(0xBEEF)},
		{KindU32, uint32(0xDEADBEEF)},
		{KindU64, uint64(math.MaxUint64)},
		{KindI8, int8(-128)},
		{KindI16, int16(-12345)},
		{KindI32, int32(math.MinInt32)},
		{KindI64, int64(math.MinInt64)},
		{KindF32, float32(3.5)},
		{KindF64, -1.25e300},
		{KindBool, true},
		{KindBool, false},
		{KindString, "héllo"},
		{KindString, ""},
	}
	for _, tc := range cases {
		b, err := Encode(tc.kind, tc.value)
		if err != nil {
			t.Fatalf("encode %s %v: %v", tc.kind, tc.value, err)
		}
		if w := tc.kind.Width(); w != 0 && len(b) != w {
			t.Fatalf("%s width: got %d want %d", tc.kind, len(b), w)
		}
		got, err := Decode(tc.kind, b)
		if err != nil {
			t.Fatalf("decode %s: %v", tc.kind, err)
		}
		if got != tc.value {
			t.Fatalf("%s round trip: got %#v want %#v", tc.kind, got, tc.value)
		}
	}
}

func TestEncodeIsLittleEndian(t *testing.T) {
	b, err := Encode(KindU32, 0x01020304)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(b, []byte{0x04, 0x03, 0x02, 0x01}) {
		t.Fatalf("unexpected bytes: %x", b)
	}
	b, err = Encode(KindI16, -2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(b, []byte{0xFE, 0xFF}) {
		t.Fatalf("unexpected bytes: %x", b)
	}
}

func TestValidateRanges(t *testing.T) {
	bad := []struct {
		kind  Kind
		value any
		want  error
	}{
		{KindU8, 256, ErrOutOfRange},
		{KindU8, -1, ErrOutOfRange},
		{KindI8, 128, ErrOutOfRange},
		{KindI64, uint64(math.MaxUint64), ErrOutOfRange},
		{KindU64, 1.5, ErrTypeMismatch},
		{KindU64, math.Pow(2, 64), ErrOutOfRange},
		{KindF64, math.NaN(), ErrNotFinite},
		{KindF64, math.Inf(1), ErrNotFinite},
		{KindF32, math.MaxFloat64, ErrOutOfRange},
		{KindBool, 1, ErrTypeMismatch},
		{KindString, []byte("x"), ErrTypeMismatch},
		{KindString, string([]byte{0xff, 0xfe}), ErrInvalidUTF8},
		{Kind(99), 1, ErrUnknownKind},
	}
	for _, tc := range bad {
		if err := Validate(tc.kind, tc.value); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%s, %v): got %v want %v", tc.kind, tc.value, err, tc.want)
		}
	}

	good := []struct {
		kind  Kind
		value any
	}{
		{KindU8, 255},
		{KindI8, -128},
		{KindU64, float64(1 << 40)},
		{KindI32, int64(math.MaxInt32)},
		{KindF32, 1},
	}
	for _, tc := range good {
		if err := Validate(tc.kind, tc.value); err != nil {
			t.Fatalf("Validate(%s, %v): %v", tc.kind, tc.value, err)
		}
	}
}

func TestDecodeRejectsWrongWidth(t *testing.T) {
	if _, err := Decode(KindU32, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidWidth) {
		t.Fatalf("expected ErrInvalidWidth, got %v", err)
	}
	if _, err := Decode(KindBool, []byte{2}); !errors.Is(err, ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", err)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	in := []int16{-1, 0, 1, math.MaxInt16}
	b, err := EncodeArray(KindI16, in)
	if err != nil {
		t.Fatalf("encode array: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("unexpected length %d", len(b))
	}
	out, err := DecodeArray(KindI16, b)
	if err != nil {
		t.Fatalf("decode array: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("mismatch: got %v want %v", out, in)
	}

	strs := []string{"a", "", "ccc"}
	b, err = EncodeArray(KindString, strs)
	if err != nil {
		t.Fatalf("encode strings: %v", err)
	}
	if !bytes.Equal(b, EncodeStrings(strs)) {
		t.Fatalf("dynamic and typed string array encodings differ")
	}
	gotStrs, err := DecodeArray(KindString, b)
	if err != nil {
		t.Fatalf("decode strings: %v", err)
	}
	if !reflect.DeepEqual(gotStrs, strs) {
		t.Fatalf("mismatch: got %v want %v", gotStrs, strs)
	}
}

func TestArrayEdgeCases(t *testing.T) {
	out, err := DecodeArray(KindU32, nil)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if got := out.([]uint32); len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
	if _, err := DecodeArray(KindU32, []byte{1, 2, 3, 4, 5}); !errors.Is(err, ErrArrayLength) {
		t.Fatalf("expected ErrArrayLength, got %v", err)
	}
	if _, err := EncodeArray(KindU8, []int{1, 300}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := EncodeArray(KindU8, 7); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := DecodeStrings([]byte{9, 0, 0, 0, 0, 0, 0, 0, 'a'}); !errors.Is(err, ErrArrayLength) {
		t.Fatalf("expected ErrArrayLength, got %v", err)
	}
}

func TestGenericSliceHelpers(t *testing.T) {
	in := []float64{0, -0.5, math.MaxFloat64}
	out, err := DecodeSlice[float64](EncodeSlice(in))
	if err != nil {
		t.Fatalf("decode slice: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("mismatch: got %v want %v", out, in)
	}
	if KindOf[bool]() != KindBool || KindOf[int64]() != KindI64 {
		t.Fatalf("unexpected KindOf mapping")
	}
}
