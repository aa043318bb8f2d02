package frame

import (
	"fmt"
	"io"
	"time"
)

// Transform rewrites body bytes after struct encode and before length
// prefixing. Decode is applied symmetrically before struct decode.
type Transform interface {
	Encode(body []byte) ([]byte, error)
	Decode(body []byte) ([]byte, error)
}

type options struct {
	transform Transform
	limits    Limits
	now       func() time.Time
}

type Option func(*options)

func WithTransform(t Transform) Option {
	return func(o *options) {
		o.transform = t
	}
}

func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithClock overrides the timestamp source used by Pack.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		limits: DefaultLimits(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) encodeBody(body []byte) ([]byte, error) {
	if o.transform == nil {
		return body, nil
	}
	return o.transform.Encode(body)
}

func (o options) decodeBody(body []byte) ([]byte, error) {
	if o.transform == nil {
		return body, nil
	}
	return o.transform.Decode(body)
}

// Envelope packs messages for one compiled protocol signature.
type Envelope struct {
	signature uint16
	opts      options
}

func NewEnvelope(signature uint16, opts ...Option) *Envelope {
	return &Envelope{signature: signature, opts: buildOptions(opts)}
}

func (e *Envelope) Signature() uint16 {
	return e.signature
}

// Pack encodes msg and wraps it in a header stamped with the current time.
func (e *Envelope) Pack(msg Message, sequence uint32) ([]byte, error) {
	body, err := msg.MarshalTLV()
	if err != nil {
		return nil, fmt.Errorf("frame: encode message_id=%d: %w", msg.MessageID(), err)
	}
	body, err = e.opts.encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("frame: transform message_id=%d: %w", msg.MessageID(), err)
	}
	if uint64(len(body)) > e.opts.limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	h := Header{
		MessageID:   msg.MessageID(),
		Signature:   e.signature,
		Sequence:    sequence,
		TimestampMS: uint64(e.opts.now().UnixMilli()),
		PayloadLen:  uint64(len(body)),
	}
	out := make([]byte, 0, HeaderLen+len(body))
	out = AppendHeader(out, h)
	return append(out, body...), nil
}

// Write packs msg onto w.
func (e *Envelope) Write(w io.Writer, msg Message, sequence uint32) error {
	b, err := e.Pack(msg, sequence)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Unpack splits one complete message into its header and untransformed
// body. Fewer than HeaderLen bytes yields ErrShortHeader.
func (e *Envelope) Unpack(b []byte) (Header, []byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	if h.PayloadLen > e.opts.limits.MaxPayloadBytes {
		return h, nil, ErrPayloadTooLarge
	}
	if uint64(len(b)-HeaderLen) < h.PayloadLen {
		return h, nil, ErrTruncated
	}
	if h.Signature != e.signature {
		return h, nil, fmt.Errorf("%w: got %#04x want %#04x", ErrSignatureMismatch, h.Signature, e.signature)
	}
	body, err := e.opts.decodeBody(b[HeaderLen : HeaderLen+int(h.PayloadLen)])
	if err != nil {
		return h, nil, err
	}
	return h, body, nil
}
