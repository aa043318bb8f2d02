// Package transport supplies the byte-stream collaborator the producer runs
// on: connection lifecycle events in, framed bytes out.
package transport

import (
	"context"
	"errors"
)

var (
	ErrUnknownConnection = errors.New("transport: unknown connection")
	ErrClosed            = errors.New("transport: closed")
	ErrAlreadyListening  = errors.New("transport: already listening")
)

type EventKind uint8

const (
	EventReady EventKind = iota + 1
	EventConnected
	EventDisconnected
	EventError
	EventShutdown
	EventReceived
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventShutdown:
		return "shutdown"
	case EventReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification. Data is only set for EventReceived
// and is owned by the receiver.
type Event struct {
	Kind         EventKind
	ConnectionID string
	Data         []byte
	Err          error
}

// Transport delivers events for every connection on one channel, in the
// order bytes arrived per connection. EventShutdown is the last event.
type Transport interface {
	Events() <-chan Event
	Listen(ctx context.Context) error
	Send(ctx context.Context, connectionID string, b []byte) error
	Disconnect(ctx context.Context, connectionID string) error
	Shutdown(ctx context.Context) error
}
