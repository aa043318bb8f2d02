package session

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolHash    = errors.New("session: protocol hash mismatch")
	ErrWorkflowHash    = errors.New("session: workflow hash mismatch")
	ErrHashNotAccepted = errors.New("session: message before hash accepted")
	ErrNoSelfKey       = errors.New("session: message before self key")
	ErrNotAssigned     = errors.New("session: connection address not assigned")
	ErrDiscredited     = errors.New("session: connection discredited")
)

// CompatibilityError reports which compiled constant a peer failed to match.
type CompatibilityError struct {
	Kind error
	Got  string
	Want string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("%v: got %q want %q", e.Kind, e.Got, e.Want)
}

func (e *CompatibilityError) Unwrap() error {
	return e.Kind
}

// HandshakeError scopes an admission failure to one connection and message.
type HandshakeError struct {
	ConnectionID string
	MessageID    uint32
	Err          error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("session: connection=%s message_id=%d: %v", e.ConnectionID, e.MessageID, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err always ends the connection regardless of policy.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocolHash) ||
		errors.Is(err, ErrWorkflowHash) ||
		errors.Is(err, ErrHashNotAccepted) ||
		errors.Is(err, ErrNoSelfKey)
}
