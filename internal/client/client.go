// Package client is the consumer side of the handshake: it dials a
// producer, claims a key, proves compatibility and then exchanges typed
// messages over one connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
	"github.com/danmuck/tlvlink/internal/protocol/session"
	"github.com/danmuck/tlvlink/internal/transport"
)

var (
	ErrHashRejected    = errors.New("client: producer rejected compatibility hashes")
	ErrUnexpectedReply = errors.New("client: unexpected handshake reply")
)

type Config struct {
	Addr      string
	Session   session.Config
	Compat    schema.Compatibility
	Transform frame.Transform
	Limits    frame.Limits
	// Schemas decodes inbound messages. Nil means handshake messages only.
	Schemas *schema.Registry
}

// Client owns one producer connection. Send is safe for concurrent use;
// Next must be called from a single goroutine.
type Client struct {
	conn   net.Conn
	env    *frame.Envelope
	framer *frame.Framer

	writeMu sync.Mutex
	seq     uint32

	buf []byte
	key string
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Compat.ProtocolHash == "" {
		cfg.Compat = schema.Default
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.Schemas == nil {
		cfg.Schemas = schema.NewRegistry()
	}
	opts := []frame.Option{frame.WithLimits(cfg.Limits)}
	if cfg.Transform != nil {
		opts = append(opts, frame.WithTransform(cfg.Transform))
	}
	conn, err := transport.Dial(ctx, cfg.Addr, cfg.Session)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		env:    frame.NewEnvelope(cfg.Compat.Signature, opts...),
		framer: frame.NewFramer(cfg.Compat.Signature, cfg.Schemas.Table(), opts...),
		buf:    make([]byte, 32*1024),
	}, nil
}

// Key is the address the producer assigned, or empty before Handshake or
// after a conflicting claim.
func (c *Client) Key() string {
	return c.key
}

// Send packs msg with the next sequence number and writes it.
func (c *Client) Send(msg frame.Message) (uint32, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.seq++
	if err := c.env.Write(c.conn, msg, c.seq); err != nil {
		return 0, fmt.Errorf("client: write message_id=%d: %w", msg.MessageID(), err)
	}
	return c.seq, nil
}

// Next blocks until one whole message arrives or the ctx deadline passes.
// Messages that fail to decode are logged and skipped.
func (c *Client) Next(ctx context.Context) (frame.Packet, error) {
	for {
		if p, ok := c.framer.Next(); ok {
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			return frame.Packet{}, err
		}
		// A zero deadline clears any previous one.
		deadline, _ := ctx.Deadline()
		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			for _, perr := range c.framer.Chunk(c.buf[:n]) {
				log.Warn().Err(perr).Msg("client.next dropped message")
			}
			if c.framer.Poisoned() {
				return frame.Packet{}, frame.ErrPoisoned
			}
		}
		if err != nil && c.framer.Len() == 0 {
			return frame.Packet{}, err
		}
	}
}

// Handshake claims key (empty asks the producer to generate one) and sends
// the compatibility hashes. It returns the assigned key.
func (c *Client) Handshake(ctx context.Context, key string, compat schema.Compatibility) (string, error) {
	if _, err := c.Send(schema.SelfKey{Key: &key}); err != nil {
		return "", err
	}
	if _, err := c.Send(schema.HashRequest{Protocol: compat.ProtocolHash, Workflow: compat.WorkflowHash}); err != nil {
		return "", err
	}

	p, err := c.Next(ctx)
	if err != nil {
		return "", err
	}
	keyResp, ok := p.Message.(*schema.SelfKeyResponse)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnexpectedReply, p.Message)
	}
	c.key = keyResp.Key

	p, err = c.Next(ctx)
	if err != nil {
		return "", err
	}
	hashResp, ok := p.Message.(*schema.HashResponse)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnexpectedReply, p.Message)
	}
	if !hashResp.Accepted() {
		return "", fmt.Errorf("%w: %s", ErrHashRejected, *hashResp.Error)
	}
	log.Debug().Str("key", c.key).Str("addr", c.conn.RemoteAddr().String()).Msg("client.handshake accepted")
	return c.key, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
