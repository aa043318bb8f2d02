package session

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPolicy = errors.New("session: invalid policy")

// IdentificationPolicy decides what happens when an application message
// arrives on a connection whose address was never assigned.
type IdentificationPolicy uint8

const (
	IdentificationIgnore IdentificationPolicy = iota
	IdentificationLog
	IdentificationDisconnect
	IdentificationEmitError
	IdentificationEmitErrorAndDisconnect
)

var identificationNames = map[IdentificationPolicy]string{
	IdentificationIgnore:                 "ignore",
	IdentificationLog:                    "log",
	IdentificationDisconnect:             "disconnect",
	IdentificationEmitError:              "emit_error",
	IdentificationEmitErrorAndDisconnect: "emit_error_and_disconnect",
}

func (p IdentificationPolicy) String() string {
	if name, ok := identificationNames[p]; ok {
		return name
	}
	return fmt.Sprintf("identification(%d)", uint8(p))
}

func (p IdentificationPolicy) Disconnects() bool {
	return p == IdentificationDisconnect || p == IdentificationEmitErrorAndDisconnect
}

func (p IdentificationPolicy) Emits() bool {
	return p == IdentificationEmitError || p == IdentificationEmitErrorAndDisconnect
}

func (p *IdentificationPolicy) UnmarshalText(b []byte) error {
	v, err := ParseIdentificationPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p IdentificationPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func ParseIdentificationPolicy(raw string) (IdentificationPolicy, error) {
	key := normalizePolicy(raw)
	for p, name := range identificationNames {
		if name == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: identification %q", ErrInvalidPolicy, raw)
}

// ConsumerErrorPolicy decides what happens on a receiving error: a parse
// failure or a message with no registered handler.
type ConsumerErrorPolicy uint8

const (
	ConsumerErrorLog ConsumerErrorPolicy = iota
	ConsumerErrorDisconnect
	ConsumerErrorEmitError
	ConsumerErrorEmitErrorAndDisconnect
)

var consumerNames = map[ConsumerErrorPolicy]string{
	ConsumerErrorLog:                    "log",
	ConsumerErrorDisconnect:             "disconnect",
	ConsumerErrorEmitError:              "emit_error",
	ConsumerErrorEmitErrorAndDisconnect: "emit_error_and_disconnect",
}

func (p ConsumerErrorPolicy) String() string {
	if name, ok := consumerNames[p]; ok {
		return name
	}
	return fmt.Sprintf("consumer_error(%d)", uint8(p))
}

func (p ConsumerErrorPolicy) Disconnects() bool {
	return p == ConsumerErrorDisconnect || p == ConsumerErrorEmitErrorAndDisconnect
}

func (p ConsumerErrorPolicy) Emits() bool {
	return p == ConsumerErrorEmitError || p == ConsumerErrorEmitErrorAndDisconnect
}

func (p *ConsumerErrorPolicy) UnmarshalText(b []byte) error {
	v, err := ParseConsumerErrorPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p ConsumerErrorPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func ParseConsumerErrorPolicy(raw string) (ConsumerErrorPolicy, error) {
	key := normalizePolicy(raw)
	for p, name := range consumerNames {
		if name == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: consumer_error %q", ErrInvalidPolicy, raw)
}

// normalizePolicy accepts "EmitErrorAndDisconnect", "emit-error" and
// "emit_error" alike.
func normalizePolicy(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			if i > 0 && raw[i-1] != '_' && raw[i-1] != '-' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
