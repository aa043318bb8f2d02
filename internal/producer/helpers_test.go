package producer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
	"github.com/danmuck/tlvlink/internal/protocol/tlv"
	"github.com/danmuck/tlvlink/internal/transport"
)

const (
	msgEcho         uint32 = 20
	msgEchoResponse uint32 = 21
	msgEchoEvent    uint32 = 22

	fieldText uint16 = 100
	fieldFrom uint16 = 101
)

type echo struct{ Text string }

func (echo) MessageID() uint32 { return msgEcho }
func (m echo) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(fieldText, m.Text).Build()
}
func (m *echo) UnmarshalTLV(b []byte) error {
	s, err := tlv.Decode(b)
	if err != nil {
		return err
	}
	m.Text, err = s.String(fieldText)
	return err
}

type echoResponse struct{ Text string }

func (echoResponse) MessageID() uint32 { return msgEchoResponse }
func (m echoResponse) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(fieldText, m.Text).Build()
}
func (m *echoResponse) UnmarshalTLV(b []byte) error {
	s, err := tlv.Decode(b)
	if err != nil {
		return err
	}
	m.Text, err = s.String(fieldText)
	return err
}

type echoEvent struct {
	From string
	Text string
}

func (echoEvent) MessageID() uint32 { return msgEchoEvent }
func (m echoEvent) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(fieldFrom, m.From).String(fieldText, m.Text).Build()
}
func (m *echoEvent) UnmarshalTLV(b []byte) error {
	s, err := tlv.Decode(b)
	if err != nil {
		return err
	}
	if m.From, err = s.String(fieldFrom); err != nil {
		return err
	}
	m.Text, err = s.String(fieldText)
	return err
}

func testSchemas(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, schema.Bind[echo](reg))
	require.NoError(t, schema.Bind[echoResponse](reg))
	require.NoError(t, schema.Bind[echoEvent](reg))
	return reg
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	tr      *transport.Memory
	p       *Producer
	schemas *schema.Registry
	env     *frame.Envelope

	mu     sync.Mutex
	errors map[string][]error
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		tr:      transport.NewMemory(64),
		schemas: testSchemas(t),
		env:     frame.NewEnvelope(schema.Default.Signature),
		errors:  make(map[string][]error),
	}
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.OnError = func(id string, err error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.errors[id] = append(h.errors[id], err)
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.p = New(cfg, h.tr, h.schemas)
	return h
}

func (h *harness) connect(id string) {
	h.t.Helper()
	h.tr.Open(id)
	require.NoError(h.t, h.p.Connect(id))
}

func (h *harness) pack(msgs ...frame.Message) []byte {
	h.t.Helper()
	var out []byte
	for i, m := range msgs {
		b, err := h.env.Pack(m, uint32(100+i))
		require.NoError(h.t, err)
		out = append(out, b...)
	}
	return out
}

func (h *harness) deliver(id string, msgs ...frame.Message) {
	h.t.Helper()
	require.NoError(h.t, h.p.Receive(h.ctx, id, h.pack(msgs...)))
}

func (h *harness) handshake(id, key string) {
	h.t.Helper()
	h.connect(id)
	h.deliver(id, schema.SelfKey{Key: &key}, schema.HashRequest{
		Protocol: schema.Default.ProtocolHash,
		Workflow: schema.Default.WorkflowHash,
	})
}

// received decodes everything the producer sent to id.
func (h *harness) received(id string) []frame.Packet {
	h.t.Helper()
	f := frame.NewFramer(schema.Default.Signature, h.schemas.Table())
	for _, b := range h.tr.Sent(id) {
		require.Empty(h.t, f.Chunk(b))
	}
	var out []frame.Packet
	for {
		p, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

func (h *harness) errorsFor(id string) []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errors[id]...)
}

func echoHandler(ctx context.Context, req Request) (*Response, error) {
	in := req.Message.(*echo)
	return Reply(echoResponse{Text: in.Text}).
		Broadcast(echoEvent{From: req.Key, Text: in.Text}), nil
}
