package tlv

import (
	"fmt"

	"github.com/danmuck/tlvlink/internal/protocol/primitive"
)

// Builder appends fields for one structure. The first error sticks and is
// reported by Build.
//
// Fixed-width scalars use Rank8; strings, arrays and nested payloads use
// Rank64 so they can grow without a schema change.
type Builder struct {
	buf  []byte
	seen map[uint16]struct{}
	err  error
}

func NewBuilder() *Builder {
	return &Builder{seen: make(map[uint16]struct{})}
}

// Field appends value under id with an explicit rank.
func (b *Builder) Field(id uint16, rank SizeRank, value []byte) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.seen[id]; dup {
		b.err = fmt.Errorf("%w: %d", ErrDuplicateField, id)
		return b
	}
	buf, err := AppendField(b.buf, Field{ID: id, Rank: rank, Value: value})
	if err != nil {
		b.err = err
		return b
	}
	b.seen[id] = struct{}{}
	b.buf = buf
	return b
}

func (b *Builder) Raw(id uint16, value []byte) *Builder {
	return b.Field(id, Rank64, value)
}

func (b *Builder) String(id uint16, v string) *Builder {
	if err := primitive.Validate(primitive.KindString, v); err != nil {
		return b.fail(fmt.Errorf("tlv: field %d: %w", id, err))
	}
	return b.Field(id, Rank64, []byte(v))
}

func (b *Builder) Strings(id uint16, vs []string) *Builder {
	for i, v := range vs {
		if err := primitive.Validate(primitive.KindString, v); err != nil {
			return b.fail(fmt.Errorf("tlv: field %d element %d: %w", id, i, err))
		}
	}
	return b.Field(id, Rank64, primitive.EncodeStrings(vs))
}

// Nested encodes m as a self-describing sub-structure.
func (b *Builder) Nested(id uint16, m Marshaler) *Builder {
	if b.err != nil {
		return b
	}
	payload, err := m.MarshalTLV()
	if err != nil {
		return b.fail(fmt.Errorf("tlv: nested field %d: %w", id, err))
	}
	return b.Field(id, Rank64, payload)
}

// Optional writes a zero-length field when absent, else presence byte ++ payload.
func (b *Builder) Optional(id uint16, present bool, payload []byte) *Builder {
	if !present {
		return b.Field(id, Rank8, nil)
	}
	v := make([]byte, 0, 1+len(payload))
	v = append(v, presentMarker)
	v = append(v, payload...)
	return b.Field(id, Rank64, v)
}

func (b *Builder) OptionalString(id uint16, v *string) *Builder {
	if v == nil {
		return b.Optional(id, false, nil)
	}
	if err := primitive.Validate(primitive.KindString, *v); err != nil {
		return b.fail(fmt.Errorf("tlv: field %d: %w", id, err))
	}
	return b.Optional(id, true, []byte(*v))
}

// SelfArray writes items as length-prefixed chunks under id.
func (b *Builder) SelfArray(id uint16, items [][]byte) *Builder {
	return b.Field(id, Rank64, EncodeSelfArray(items))
}

// Option writes a tagged union holding variant under id.
func (b *Builder) Option(id uint16, variant uint16, payload []byte) *Builder {
	return b.Field(id, Rank64, EncodeOption(variant, payload))
}

func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.buf == nil {
		return []byte{}, nil
	}
	return b.buf, nil
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Put appends a fixed-width scalar.
func Put[T primitive.Scalar](b *Builder, id uint16, v T) *Builder {
	return b.Field(id, Rank8, primitive.EncodeScalar(v))
}

// PutSlice appends a homogeneous scalar array.
func PutSlice[T primitive.Scalar](b *Builder, id uint16, vs []T) *Builder {
	return b.Field(id, Rank64, primitive.EncodeSlice(vs))
}

// PutOptional appends an optional scalar.
func PutOptional[T primitive.Scalar](b *Builder, id uint16, v *T) *Builder {
	if v == nil {
		return b.Optional(id, false, nil)
	}
	return b.Optional(id, true, primitive.EncodeScalar(*v))
}
