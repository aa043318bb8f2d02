package schema

import (
	"github.com/danmuck/tlvlink/internal/protocol/tlv"
)

// SelfKey asks the producer to bind an address to the connection. An absent
// or empty Key requests a server-assigned one.
type SelfKey struct {
	Key *string
}

func (SelfKey) MessageID() uint32 { return MsgSelfKey }

func (m SelfKey) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().OptionalString(FieldKey, m.Key).Build()
}

func (m *SelfKey) UnmarshalTLV(b []byte) error {
	s, err := decodeChecked(MsgSelfKey, b)
	if err != nil {
		return err
	}
	m.Key, err = s.OptionalString(FieldKey)
	return err
}

// SelfKeyResponse carries the address the producer bound.
type SelfKeyResponse struct {
	Key string
}

func (SelfKeyResponse) MessageID() uint32 { return MsgSelfKeyResponse }

func (m SelfKeyResponse) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(FieldKey, m.Key).Build()
}

func (m *SelfKeyResponse) UnmarshalTLV(b []byte) error {
	s, err := decodeChecked(MsgSelfKeyResponse, b)
	if err != nil {
		return err
	}
	m.Key, err = s.String(FieldKey)
	return err
}

// HashRequest declares the compatibility hashes a client was built with.
type HashRequest struct {
	Protocol string
	Workflow string
}

func (HashRequest) MessageID() uint32 { return MsgHashRequest }

func (m HashRequest) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().
		String(FieldProtocolHash, m.Protocol).
		String(FieldWorkflowHash, m.Workflow).
		Build()
}

func (m *HashRequest) UnmarshalTLV(b []byte) error {
	s, err := decodeChecked(MsgHashRequest, b)
	if err != nil {
		return err
	}
	if m.Protocol, err = s.String(FieldProtocolHash); err != nil {
		return err
	}
	m.Workflow, err = s.String(FieldWorkflowHash)
	return err
}

// HashResponse answers a HashRequest. Error is absent on success.
type HashResponse struct {
	Error *string
}

func (HashResponse) MessageID() uint32 { return MsgHashResponse }

func (m HashResponse) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().OptionalString(FieldError, m.Error).Build()
}

func (m *HashResponse) UnmarshalTLV(b []byte) error {
	s, err := decodeChecked(MsgHashResponse, b)
	if err != nil {
		return err
	}
	m.Error, err = s.OptionalString(FieldError)
	return err
}

// Accepted reports whether the producer accepted the declared hashes.
func (m HashResponse) Accepted() bool {
	return m.Error == nil
}

func decodeChecked(messageType uint32, b []byte) (tlv.Storage, error) {
	s, err := tlv.Decode(b)
	if err != nil {
		return nil, err
	}
	if err := Validate(messageType, s); err != nil {
		return nil, err
	}
	return s, nil
}
