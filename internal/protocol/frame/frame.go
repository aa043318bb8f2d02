package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/tlvlink/internal/protocol/tlv"
)

// HeaderLen is the fixed envelope size: id(4) sig(2) seq(4) ts(8) len(8).
const HeaderLen = 26

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrTruncated         = errors.New("frame: truncated payload")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrSignatureMismatch = errors.New("frame: signature mismatch")
	ErrUnknownMessage    = errors.New("frame: unknown message id")
	ErrPoisoned          = errors.New("frame: stream cannot be resynchronized")
)

// Header is the fixed wire envelope.
type Header struct {
	MessageID   uint32
	Signature   uint16
	Sequence    uint32
	TimestampMS uint64
	PayloadLen  uint64
}

// Message is a typed body that knows its wire id.
type Message interface {
	MessageID() uint32
	tlv.Marshaler
}

// Decoder turns a body (after the inverse transform) into a typed Message.
type Decoder func(body []byte) (Message, error)

// Table maps message id to its decoder.
type Table map[uint32]Decoder

// Packet is one decoded message with its envelope.
type Packet struct {
	Header  Header
	Message Message
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// ParseError scopes a decode failure to one message.
type ParseError struct {
	Header Header
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame: message_id=%d sequence=%d: %v", e.Header.MessageID, e.Header.Sequence, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func EncodeHeader(h Header) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen), h)
}

func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.MessageID)
	dst = binary.LittleEndian.AppendUint16(dst, h.Signature)
	dst = binary.LittleEndian.AppendUint32(dst, h.Sequence)
	dst = binary.LittleEndian.AppendUint64(dst, h.TimestampMS)
	return binary.LittleEndian.AppendUint64(dst, h.PayloadLen)
}

// DecodeHeader reads the first HeaderLen bytes of b. Fewer bytes means the
// header has not fully arrived yet.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	return Header{
		MessageID:   binary.LittleEndian.Uint32(b[0:4]),
		Signature:   binary.LittleEndian.Uint16(b[4:6]),
		Sequence:    binary.LittleEndian.Uint32(b[6:10]),
		TimestampMS: binary.LittleEndian.Uint64(b[10:18]),
		PayloadLen:  binary.LittleEndian.Uint64(b[18:26]),
	}, nil
}

