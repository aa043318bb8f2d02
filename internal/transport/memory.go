package transport

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Transport. Tests drive it with Connect, Deliver
// and Drop, and inspect what the producer sent.
type Memory struct {
	events chan Event

	mu           sync.Mutex
	conns        map[string]bool
	sent         map[string][][]byte
	failures     map[string]error
	disconnected []string
	sends        int
	closed       bool
}

func NewMemory(buffer int) *Memory {
	return &Memory{
		events:   make(chan Event, buffer),
		conns:    make(map[string]bool),
		sent:     make(map[string][][]byte),
		failures: make(map[string]error),
	}
}

func (m *Memory) Events() <-chan Event {
	return m.events
}

func (m *Memory) Listen(ctx context.Context) error {
	return m.emit(ctx, Event{Kind: EventReady})
}

// Connect registers id and emits EventConnected.
func (m *Memory) Connect(ctx context.Context, id string) error {
	m.mu.Lock()
	m.conns[id] = true
	m.mu.Unlock()
	return m.emit(ctx, Event{Kind: EventConnected, ConnectionID: id})
}

// Deliver emits b as bytes received from id.
func (m *Memory) Deliver(ctx context.Context, id string, b []byte) error {
	return m.emit(ctx, Event{Kind: EventReceived, ConnectionID: id, Data: slices.Clone(b)})
}

// Drop simulates the peer hanging up.
func (m *Memory) Drop(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
	return m.emit(ctx, Event{Kind: EventDisconnected, ConnectionID: id})
}

// Open marks id as connected without emitting an event, for tests that call
// the producer directly.
func (m *Memory) Open(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[id] = true
}

// FailSends makes every Send to id return err. A nil err clears it.
func (m *Memory) FailSends(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, id)
		return
	}
	m.failures[id] = err
}

func (m *Memory) Send(ctx context.Context, id string, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	if m.closed {
		return ErrClosed
	}
	if err := m.failures[id]; err != nil {
		return err
	}
	if !m.conns[id] {
		return ErrUnknownConnection
	}
	m.sent[id] = append(m.sent[id], slices.Clone(b))
	return nil
}

// Disconnect closes id and emits EventDisconnected asynchronously, the way
// a socket read loop would observe the close.
func (m *Memory) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	if !m.conns[id] {
		m.mu.Unlock()
		return ErrUnknownConnection
	}
	delete(m.conns, id)
	m.disconnected = append(m.disconnected, id)
	m.mu.Unlock()
	go func() {
		_ = m.emit(context.Background(), Event{Kind: EventDisconnected, ConnectionID: id})
	}()
	return nil
}

func (m *Memory) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	select {
	case m.events <- Event{Kind: EventShutdown}:
	case <-ctx.Done():
	}
	return nil
}

func (m *Memory) emit(ctx context.Context, ev Event) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns the payloads delivered to id, oldest first.
func (m *Memory) Sent(id string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent[id])
}

// SendCount counts every Send call, successful or not.
func (m *Memory) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

// Disconnected lists the ids closed through Disconnect, in call order.
func (m *Memory) Disconnected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.disconnected)
}
