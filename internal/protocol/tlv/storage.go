package tlv

import (
	"errors"
	"fmt"

	"github.com/danmuck/tlvlink/internal/protocol/primitive"
)

var ErrInvalidPresence = errors.New("tlv: invalid optional presence byte")

// presentMarker prefixes the payload of an optional field that carries a value.
const presentMarker byte = 0x01

// Marshaler is implemented by structs that encode into a field buffer.
type Marshaler interface {
	MarshalTLV() ([]byte, error)
}

// Unmarshaler is implemented by structs that decode from a field buffer.
type Unmarshaler interface {
	UnmarshalTLV([]byte) error
}

// Storage maps field id to payload for one encoded structure.
type Storage map[uint16][]byte

// Decode builds a Storage from buf. Field ids must be unique.
func Decode(buf []byte) (Storage, error) {
	fields, err := DecodeFields(buf)
	if err != nil {
		return nil, err
	}
	s := make(Storage, len(fields))
	for _, f := range fields {
		if _, dup := s[f.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateField, f.ID)
		}
		s[f.ID] = f.Value
	}
	return s, nil
}

func (s Storage) Has(id uint16) bool {
	_, ok := s[id]
	return ok
}

// Raw returns the payload for id.
func (s Storage) Raw(id uint16) ([]byte, error) {
	v, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissingField, id)
	}
	return v, nil
}

func (s Storage) String(id uint16) (string, error) {
	v, err := s.Raw(id)
	if err != nil {
		return "", err
	}
	return primitive.DecodeString(v)
}

func (s Storage) Strings(id uint16) ([]string, error) {
	v, err := s.Raw(id)
	if err != nil {
		return nil, err
	}
	return primitive.DecodeStrings(v)
}

// Nested decodes the sub-structure stored under id into dst.
func (s Storage) Nested(id uint16, dst Unmarshaler) error {
	v, err := s.Raw(id)
	if err != nil {
		return err
	}
	if err := dst.UnmarshalTLV(v); err != nil {
		return fmt.Errorf("tlv: nested field %d: %w", id, err)
	}
	return nil
}

// Optional reports whether id carries a value. A missing or zero-length
// field is absent; otherwise the presence byte is stripped.
func (s Storage) Optional(id uint16) ([]byte, bool, error) {
	v, ok := s[id]
	if !ok || len(v) == 0 {
		return nil, false, nil
	}
	if v[0] != presentMarker {
		return nil, false, fmt.Errorf("%w: field %d byte %#x", ErrInvalidPresence, id, v[0])
	}
	return v[1:], true, nil
}

// OptionalString decodes an optional string field into a pointer.
func (s Storage) OptionalString(id uint16) (*string, error) {
	v, ok, err := s.Optional(id)
	if err != nil || !ok {
		return nil, err
	}
	str, err := primitive.DecodeString(v)
	if err != nil {
		return nil, err
	}
	return &str, nil
}

// Get decodes a scalar field.
func Get[T primitive.Scalar](s Storage, id uint16) (T, error) {
	v, err := s.Raw(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return primitive.DecodeScalar[T](v)
}

// GetSlice decodes a homogeneous scalar array field.
func GetSlice[T primitive.Scalar](s Storage, id uint16) ([]T, error) {
	v, err := s.Raw(id)
	if err != nil {
		return nil, err
	}
	return primitive.DecodeSlice[T](v)
}

// GetOptional decodes an optional scalar field.
func GetOptional[T primitive.Scalar](s Storage, id uint16) (*T, error) {
	v, ok, err := s.Optional(id)
	if err != nil || !ok {
		return nil, err
	}
	out, err := primitive.DecodeScalar[T](v)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
