package session

import (
	"github.com/google/uuid"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
)

type Action uint8

const (
	// ActionForward hands the message to application dispatch.
	ActionForward Action = iota
	// ActionConsume means the gate handled the message itself.
	ActionConsume
	// ActionReject drops the message without dispatch.
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionConsume:
		return "consume"
	case ActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision is the outcome of admitting one message. Reply, when set, goes
// to ReplyTo before any disconnect. Err is always logged; Emit routes it to
// the error collaborator as well.
type Decision struct {
	Action       Action
	Reply        frame.Message
	ReplyTo      string
	Disconnect   bool
	Err          error
	Emit         bool
	AbandonBatch bool
}

// KeyClaimer binds an address to a connection. Claim fails when a
// different connection already holds key.
type KeyClaimer interface {
	Claim(connectionID, key string) bool
}

// Gate admits decoded messages in a fixed priority: self-key, hash request,
// hash accepted, self-key present, assignment policy, then dispatch.
type Gate struct {
	Compat schema.Compatibility
	Policy IdentificationPolicy
	Keys   KeyClaimer
	NewKey func() string
}

func (g *Gate) Admit(c *Connection, p frame.Packet) Decision {
	switch msg := p.Message.(type) {
	case *schema.SelfKey:
		return g.selfKey(c, msg)
	case *schema.HashRequest:
		return g.hashRequest(c, p.Header, msg)
	}

	if !c.HashAccepted() {
		return fatal(c, p.Header, ErrHashNotAccepted)
	}
	ident := c.Identification()
	if !ident.HasSelfKey {
		return fatal(c, p.Header, ErrNoSelfKey)
	}
	if !ident.Assigned && g.Policy != IdentificationIgnore {
		err := &HandshakeError{ConnectionID: c.ID, MessageID: p.Header.MessageID, Err: ErrNotAssigned}
		switch {
		case g.Policy.Disconnects():
			return Decision{
				Action:       ActionReject,
				Disconnect:   true,
				Err:          err,
				Emit:         g.Policy.Emits(),
				AbandonBatch: true,
			}
		case g.Policy.Emits():
			return Decision{Action: ActionReject, Err: err, Emit: true}
		default:
			return Decision{Action: ActionForward, Err: err}
		}
	}
	return Decision{Action: ActionForward}
}

// maxKeyAttempts bounds retries when a generated key collides.
const maxKeyAttempts = 8

// selfKey binds the requested key, or a fresh one when the request is empty.
// A key held by another connection is recorded as the self key but left
// unassigned; the identification policy then governs the connection.
func (g *Gate) selfKey(c *Connection, msg *schema.SelfKey) Decision {
	if msg.Key != nil && *msg.Key != "" {
		return g.bind(c, *msg.Key)
	}
	var key string
	for range maxKeyAttempts {
		key = g.newKey()
		if g.claim(c.ID, key) {
			c.setSelfKey(key, true)
			return Decision{Action: ActionConsume, Reply: schema.SelfKeyResponse{Key: key}, ReplyTo: key}
		}
	}
	c.setSelfKey(key, false)
	return Decision{Action: ActionConsume, Reply: schema.SelfKeyResponse{}, ReplyTo: c.ID}
}

func (g *Gate) bind(c *Connection, key string) Decision {
	if !g.claim(c.ID, key) {
		c.setSelfKey(key, false)
		return Decision{Action: ActionConsume, Reply: schema.SelfKeyResponse{}, ReplyTo: c.ID}
	}
	c.setSelfKey(key, true)
	return Decision{Action: ActionConsume, Reply: schema.SelfKeyResponse{Key: key}, ReplyTo: key}
}

func (g *Gate) hashRequest(c *Connection, h frame.Header, msg *schema.HashRequest) Decision {
	var mismatch *CompatibilityError
	switch {
	case msg.Protocol != g.Compat.ProtocolHash:
		mismatch = &CompatibilityError{Kind: ErrProtocolHash, Got: msg.Protocol, Want: g.Compat.ProtocolHash}
	case msg.Workflow != g.Compat.WorkflowHash:
		mismatch = &CompatibilityError{Kind: ErrWorkflowHash, Got: msg.Workflow, Want: g.Compat.WorkflowHash}
	}
	if mismatch != nil {
		reason := mismatch.Kind.Error()
		return Decision{
			Action:       ActionConsume,
			Reply:        schema.HashResponse{Error: &reason},
			ReplyTo:      replyTarget(c),
			Disconnect:   true,
			Err:          &HandshakeError{ConnectionID: c.ID, MessageID: h.MessageID, Err: mismatch},
			Emit:         true,
			AbandonBatch: true,
		}
	}
	c.acceptHash()
	return Decision{Action: ActionConsume, Reply: schema.HashResponse{}, ReplyTo: replyTarget(c)}
}

func fatal(c *Connection, h frame.Header, err error) Decision {
	return Decision{
		Action:       ActionReject,
		Disconnect:   true,
		Err:          &HandshakeError{ConnectionID: c.ID, MessageID: h.MessageID, Err: err},
		Emit:         true,
		AbandonBatch: true,
	}
}

func (g *Gate) claim(connectionID, key string) bool {
	if g.Keys == nil {
		return true
	}
	return g.Keys.Claim(connectionID, key)
}

func (g *Gate) newKey() string {
	if g.NewKey != nil {
		return g.NewKey()
	}
	return uuid.NewString()
}

func replyTarget(c *Connection) string {
	if key := c.Key(); key != "" {
		return key
	}
	return c.ID
}
