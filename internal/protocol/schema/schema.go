package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/protocol/tlv"
)

// Well-known message ids. Application messages start at FirstApplicationID.
const (
	MsgSelfKey         uint32 = 1
	MsgSelfKeyResponse uint32 = 2
	MsgHashRequest     uint32 = 3
	MsgHashResponse    uint32 = 4

	FirstApplicationID uint32 = 16
)

// Field ids are allocated across the whole protocol, not per message, so a
// nested structure never collides with its parent during one storage scan.
// Applications allocate from FirstApplicationField.
const (
	FieldKey          uint16 = 1
	FieldProtocolHash uint16 = 2
	FieldWorkflowHash uint16 = 3
	FieldError        uint16 = 4

	FirstApplicationField uint16 = 100
)

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// Optional fields are not listed; they may be omitted or zero-length.
var requirements = map[uint32][]uint16{
	MsgSelfKey:         {},
	MsgSelfKeyResponse: {FieldKey},
	MsgHashRequest:     {FieldProtocolHash, FieldWorkflowHash},
	MsgHashResponse:    {},
}

// Validate enforces required fields for a well-known message type.
// Unknown fields are ignored.
func Validate(messageType uint32, s tlv.Storage) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, id := range reqs {
		if !s.Has(id) {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", id).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: id, Reason: "missing required field"}
		}
	}
	return nil
}

// IsWellKnown reports whether id belongs to the reserved handshake range.
func IsWellKnown(id uint32) bool {
	return id < FirstApplicationID
}
