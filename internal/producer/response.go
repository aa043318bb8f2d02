package producer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
)

var (
	ErrMissingRequiredBroadcast = errors.New("producer: missing required broadcast")
	ErrUnknownMessage           = errors.New("producer: no handler for message")
	ErrNilMessage               = errors.New("producer: nil message")
)

// Request is one admitted message and the connection it came from.
type Request struct {
	ConnectionID string
	Key          string
	Header       frame.Header
	Message      frame.Message
}

// Handler answers one request. A nil Response sends nothing.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Broadcast is one fan-out declared by a handler. No targets means every
// assigned connection.
type Broadcast struct {
	Message frame.Message
	Targets []string
}

// Response is a primary reply plus the broadcasts that go out after it.
type Response struct {
	primary    frame.Message
	broadcasts []Broadcast
}

// Reply starts a response whose primary payload goes back to the sender.
func Reply(msg frame.Message) *Response {
	return &Response{primary: msg}
}

// Notify starts a response with no primary payload, only a broadcast.
func Notify(msg frame.Message, targets ...string) *Response {
	return (&Response{}).Broadcast(msg, targets...)
}

// Broadcast declares a fan-out of msg to targets, addressed by key or id.
func (r *Response) Broadcast(msg frame.Message, targets ...string) *Response {
	r.broadcasts = append(r.broadcasts, Broadcast{Message: msg, Targets: slices.Clone(targets)})
	return r
}

func (r *Response) Primary() frame.Message {
	return r.primary
}

func (r *Response) Broadcasts() []Broadcast {
	return slices.Clone(r.broadcasts)
}

// RequiredBroadcasts maps a primary message id to the message ids that must
// be declared among its broadcasts.
type RequiredBroadcasts map[uint32][]uint32

// MissingBroadcastError lists companions a response failed to declare.
type MissingBroadcastError struct {
	Primary uint32
	Missing []uint32
}

func (e *MissingBroadcastError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%v: primary=%d missing=[%s]", ErrMissingRequiredBroadcast, e.Primary, strings.Join(ids, ","))
}

func (e *MissingBroadcastError) Unwrap() error {
	return ErrMissingRequiredBroadcast
}

// Validate checks the response once, before anything is sent.
func (r *Response) Validate(rules RequiredBroadcasts) error {
	if r.primary == nil && len(r.broadcasts) == 0 {
		return ErrNilMessage
	}
	for _, b := range r.broadcasts {
		if b.Message == nil {
			return fmt.Errorf("%w: broadcast", ErrNilMessage)
		}
	}
	if r.primary == nil {
		return nil
	}
	required := rules[r.primary.MessageID()]
	if len(required) == 0 {
		return nil
	}
	declared := make(map[uint32]bool, len(r.broadcasts))
	for _, b := range r.broadcasts {
		declared[b.Message.MessageID()] = true
	}
	var missing []uint32
	for _, id := range required {
		if !declared[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &MissingBroadcastError{Primary: r.primary.MessageID(), Missing: missing}
	}
	return nil
}
