package session

import (
	"sync"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
)

// Identification tracks how a connection is addressed. SelfKey is the key
// learned from the handshake; AssignedKey is the canonical send target and
// is only set once the producer bound the key to this connection.
type Identification struct {
	SelfKey     string
	HasSelfKey  bool
	AssignedKey string
	Assigned    bool
	Discredited bool
}

// Connection is the handshake and framing state of one client session.
// Framing methods are called from a single goroutine per connection; the
// handshake flags may be read concurrently.
type Connection struct {
	ID string

	framer *frame.Framer

	mu           sync.RWMutex
	hashAccepted bool
	ident        Identification
}

func NewConnection(id string, framer *frame.Framer) *Connection {
	return &Connection{ID: id, framer: framer}
}

// Receive feeds a transport chunk to the framer. Bytes arriving after the
// connection was discredited are dropped before framing.
func (c *Connection) Receive(chunk []byte) []error {
	if c.Discredited() {
		return nil
	}
	return c.framer.Chunk(chunk)
}

// Next pops the oldest decoded message.
func (c *Connection) Next() (frame.Packet, bool) {
	return c.framer.Next()
}

// NextItem pops the oldest stream position, so parse errors are seen in
// the order their bytes arrived.
func (c *Connection) NextItem() (frame.Item, bool) {
	return c.framer.NextItem()
}

// Abandon drops every queued message, keeping partial bytes.
func (c *Connection) Abandon() int {
	return c.framer.Discard()
}

// Poisoned reports whether the byte stream can no longer be framed.
func (c *Connection) Poisoned() bool {
	return c.framer.Poisoned()
}

// Discredit marks the connection so further bytes are ignored. Queued
// messages are left for the owning goroutine to abandon. It reports whether
// this call was the one that discredited it.
func (c *Connection) Discredit() bool {
	c.mu.Lock()
	if c.ident.Discredited {
		c.mu.Unlock()
		return false
	}
	c.ident.Discredited = true
	c.mu.Unlock()
	return true
}

func (c *Connection) Discredited() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ident.Discredited
}

func (c *Connection) HashAccepted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hashAccepted
}

func (c *Connection) acceptHash() {
	c.mu.Lock()
	c.hashAccepted = true
	c.mu.Unlock()
}

// Identification returns a snapshot of the addressing state.
func (c *Connection) Identification() Identification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ident
}

// Key is the assigned address, or empty when unassigned.
func (c *Connection) Key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ident.Assigned {
		return ""
	}
	return c.ident.AssignedKey
}

func (c *Connection) setSelfKey(key string, assigned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ident.SelfKey = key
	c.ident.HasSelfKey = true
	if assigned {
		c.ident.AssignedKey = key
		c.ident.Assigned = true
	}
}
