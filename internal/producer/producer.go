package producer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/observability"
	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
	"github.com/danmuck/tlvlink/internal/protocol/session"
	"github.com/danmuck/tlvlink/internal/transport"
)

var (
	ErrDuplicateHandler    = errors.New("producer: handler already registered")
	ErrReservedMessage     = errors.New("producer: message id reserved for handshake")
	ErrUnregisteredMessage = errors.New("producer: message id has no decoder")
	ErrNilHandler          = errors.New("producer: nil handler")
	ErrMailboxFull         = errors.New("producer: connection mailbox full")
)

type Config struct {
	// Name labels logs and metrics.
	Name        string
	Compat      schema.Compatibility
	Session     session.Config
	Transform   frame.Transform
	Limits      frame.Limits
	// MailboxSize is the number of received chunks a connection may have
	// waiting. Overflowing it disconnects that connection.
	MailboxSize int
	// OnError receives handshake failures, receive errors under an emitting
	// policy, handler failures and rejected responses. connectionID is
	// empty for transport-level errors.
	OnError func(connectionID string, err error)
}

func DefaultConfig() Config {
	return Config{
		Name:        "tlvlinkd",
		Compat:      schema.Default,
		Session:     session.DefaultConfig(),
		Limits:      frame.DefaultLimits(),
		MailboxSize: 64,
	}
}

// Producer is the server side of the protocol: it owns the connection
// registry, admits messages through the handshake gate and dispatches them
// to handlers.
type Producer struct {
	cfg       Config
	transport transport.Transport
	schemas   *schema.Registry
	registry  *Registry
	gate      *session.Gate
	envelope  *frame.Envelope
	frameOpts []frame.Option

	mu       sync.RWMutex
	handlers map[uint32]Handler
	required RequiredBroadcasts

	seq atomic.Uint32
	wg  sync.WaitGroup
}

func New(cfg Config, t transport.Transport, schemas *schema.Registry) *Producer {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Compat.ProtocolHash == "" {
		cfg.Compat = def.Compat
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = def.Limits
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if schemas == nil {
		schemas = schema.NewRegistry()
	}
	opts := []frame.Option{frame.WithLimits(cfg.Limits)}
	if cfg.Transform != nil {
		opts = append(opts, frame.WithTransform(cfg.Transform))
	}

	registry := NewRegistry()
	return &Producer{
		cfg:       cfg,
		transport: t,
		schemas:   schemas,
		registry:  registry,
		gate: &session.Gate{
			Compat: cfg.Compat,
			Policy: cfg.Session.Identification,
			Keys:   registry,
		},
		envelope:  frame.NewEnvelope(cfg.Compat.Signature, opts...),
		frameOpts: opts,
		handlers:  make(map[uint32]Handler),
		required:  make(RequiredBroadcasts),
	}
}

// Handle registers h for an application message id. The id must already be
// decodable by the schema registry.
func (p *Producer) Handle(id uint32, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: message_id=%d", ErrNilHandler, id)
	}
	if schema.IsWellKnown(id) {
		return fmt.Errorf("%w: message_id=%d", ErrReservedMessage, id)
	}
	if !p.schemas.Has(id) {
		return fmt.Errorf("%w: message_id=%d", ErrUnregisteredMessage, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[id]; ok {
		return fmt.Errorf("%w: message_id=%d", ErrDuplicateHandler, id)
	}
	p.handlers[id] = h
	return nil
}

// RequireBroadcast declares that any response whose primary payload is
// primary must also broadcast every companion id.
func (p *Producer) RequireBroadcast(primary uint32, companions ...uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.required[primary]
	for _, id := range companions {
		if !slices.Contains(set, id) {
			set = append(set, id)
		}
	}
	p.required[primary] = set
}

func (p *Producer) handler(id uint32) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[id]
	return h, ok
}

func (p *Producer) rules() RequiredBroadcasts {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(RequiredBroadcasts, len(p.required))
	for k, v := range p.required {
		out[k] = slices.Clone(v)
	}
	return out
}

func (p *Producer) Registry() *Registry {
	return p.registry
}

// Connections snapshots every registered connection.
func (p *Producer) Connections() []ConnectionInfo {
	return p.registry.Snapshot()
}

// Connect registers a new connection. A duplicate id is an error and the
// existing connection is left untouched.
func (p *Producer) Connect(id string) error {
	framer := frame.NewFramer(p.cfg.Compat.Signature, p.schemas.Table(), p.frameOpts...)
	pr := &peer{
		conn:  session.NewConnection(id, framer),
		inbox: make(chan []byte, p.cfg.MailboxSize),
		stop:  make(chan struct{}),
	}
	if err := p.registry.add(pr); err != nil {
		return err
	}
	observability.SetConnections(p.cfg.Name, p.registry.Len())
	log.Info().Str("conn", id).Msg("producer.connect")
	return nil
}

// Disconnect closes id at the transport and removes it from the registry.
func (p *Producer) Disconnect(ctx context.Context, id string) error {
	pr, ok := p.registry.peer(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	p.drop(ctx, pr.conn, nil)
	p.forget(id)
	return nil
}

// forget removes id and stops its mailbox. Safe to call more than once.
func (p *Producer) forget(id string) {
	pr, ok := p.registry.remove(id)
	if !ok {
		return
	}
	pr.conn.Discredit()
	pr.close()
	observability.SetConnections(p.cfg.Name, p.registry.Len())
	log.Info().Str("conn", id).Msg("producer.disconnected")
}

// drop discredits c and asks the transport to close it. The registry entry
// stays until the transport reports the disconnect.
func (p *Producer) drop(ctx context.Context, c *session.Connection, reason error) {
	if !c.Discredit() {
		return
	}
	log.Warn().Str("conn", c.ID).AnErr("reason", reason).Msg("producer.drop")
	if err := p.transport.Disconnect(ctx, c.ID); err != nil {
		log.Warn().Str("conn", c.ID).Err(err).Msg("producer.drop transport disconnect failed")
	}
}

func (p *Producer) emit(connectionID string, err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(connectionID, err)
	}
}

func (p *Producer) nextSequence() uint32 {
	return p.seq.Add(1)
}

// Receive feeds one transport chunk for id and processes every complete
// message it yields, one full exchange at a time. A connection that was
// already discredited returns session.ErrDiscredited and its bytes are
// ignored.
func (p *Producer) Receive(ctx context.Context, id string, chunk []byte) error {
	pr, ok := p.registry.peer(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if pr.conn.Discredited() {
		return fmt.Errorf("%w: %s", session.ErrDiscredited, id)
	}
	p.receive(ctx, pr, chunk)
	return nil
}

// receive frames chunk and walks the queue in stream order. A parse error
// is handled at its own position, so messages ahead of it are dispatched
// first however the bytes were split.
func (p *Producer) receive(ctx context.Context, pr *peer, chunk []byte) {
	c := pr.conn
	errs := c.Receive(chunk)
	observability.RecordParseErrors(p.cfg.Name, len(errs))
	for !c.Discredited() && !pr.stopped() {
		it, ok := c.NextItem()
		if !ok {
			return
		}
		switch {
		case it.Err == nil:
			p.process(ctx, c, it.Packet)
		case errors.Is(it.Err, frame.ErrPayloadTooLarge):
			err := fmt.Errorf("%w: %w", frame.ErrPoisoned, it.Err)
			log.Error().Str("conn", c.ID).Err(err).Msg("producer.receive stream poisoned")
			p.emit(c.ID, err)
			p.drop(ctx, c, frame.ErrPoisoned)
		default:
			p.consumerError(ctx, c, it.Err)
		}
	}
}

func (p *Producer) consumerError(ctx context.Context, c *session.Connection, err error) {
	policy := p.cfg.Session.ConsumerErrors
	log.Warn().Str("conn", c.ID).Str("policy", policy.String()).Err(err).Msg("producer.receive error")
	if policy.Emits() {
		p.emit(c.ID, err)
	}
	if policy.Disconnects() {
		p.drop(ctx, c, err)
	}
}

func (p *Producer) process(ctx context.Context, c *session.Connection, pkt frame.Packet) {
	observability.RecordMessageReceived(p.cfg.Name, pkt.Header.MessageID)
	d := p.gate.Admit(c, pkt)
	if d.Err != nil {
		ev := log.Warn()
		if d.Disconnect {
			ev = log.Error()
		}
		ev.Str("conn", c.ID).
			Uint32("message_id", pkt.Header.MessageID).
			Str("action", d.Action.String()).
			Err(d.Err).
			Msg("producer.admit")
		if d.Action == session.ActionReject || d.Disconnect {
			observability.RecordHandshakeRejection(p.cfg.Name, rejectionReason(d.Err))
		}
		if d.Emit {
			p.emit(c.ID, d.Err)
		}
	}
	if d.Reply != nil {
		target := c.ID
		if to, ok := p.registry.Resolve(d.ReplyTo); ok {
			target = to.ID
		}
		if err := p.sendTo(ctx, target, d.Reply, pkt.Header.Sequence); err != nil {
			log.Warn().Str("conn", c.ID).Str("reply_to", d.ReplyTo).Err(err).Msg("producer.admit reply failed")
		}
	}
	if d.Disconnect {
		p.drop(ctx, c, d.Err)
	}
	if d.AbandonBatch {
		if n := c.Abandon(); n > 0 {
			log.Debug().Str("conn", c.ID).Int("abandoned", n).Msg("producer.admit abandoned batch")
		}
	}
	if d.Action != session.ActionForward {
		return
	}
	p.dispatch(ctx, c, pkt)
}

func (p *Producer) dispatch(ctx context.Context, c *session.Connection, pkt frame.Packet) {
	id := pkt.Header.MessageID
	start := time.Now()
	h, ok := p.handler(id)
	if !ok {
		p.consumerError(ctx, c, fmt.Errorf("%w: message_id=%d", ErrUnknownMessage, id))
		observability.RecordExchange(p.cfg.Name, id, "unknown", time.Since(start))
		return
	}
	outcome := p.exchange(ctx, c, pkt, h)
	observability.RecordExchange(p.cfg.Name, id, outcome, time.Since(start))
}

// exchange runs one handler and sends its response: validate, primary to
// the sender, then broadcasts only after the primary went out.
func (p *Producer) exchange(ctx context.Context, c *session.Connection, pkt frame.Packet, h Handler) string {
	resp, err := h(ctx, Request{
		ConnectionID: c.ID,
		Key:          c.Key(),
		Header:       pkt.Header,
		Message:      pkt.Message,
	})
	if err != nil {
		log.Error().Str("conn", c.ID).Uint32("message_id", pkt.Header.MessageID).Err(err).Msg("producer.exchange handler failed")
		p.emit(c.ID, err)
		return "handler_error"
	}
	if resp == nil {
		return "no_reply"
	}
	if err := resp.Validate(p.rules()); err != nil {
		log.Error().Str("conn", c.ID).Uint32("message_id", pkt.Header.MessageID).Err(err).Msg("producer.exchange invalid response")
		p.emit(c.ID, err)
		if errors.Is(err, ErrMissingRequiredBroadcast) {
			return "missing_broadcast"
		}
		return "invalid_response"
	}
	if resp.primary != nil {
		if err := p.sendTo(ctx, c.ID, resp.primary, pkt.Header.Sequence); err != nil {
			log.Warn().Str("conn", c.ID).Uint32("message_id", resp.primary.MessageID()).Err(err).Msg("producer.exchange primary send failed")
			return "send_failed"
		}
	}
	for _, b := range resp.broadcasts {
		if err := p.Broadcast(ctx, b.Message, b.Targets...); err != nil {
			log.Warn().Uint32("message_id", b.Message.MessageID()).Err(err).Msg("producer.exchange broadcast failed")
		}
	}
	return "ok"
}

func (p *Producer) sendTo(ctx context.Context, connectionID string, msg frame.Message, sequence uint32) error {
	b, err := p.envelope.Pack(msg, sequence)
	if err != nil {
		return err
	}
	return p.transport.Send(ctx, connectionID, b)
}

// Send delivers msg to one target, addressed by assigned key or id.
func (p *Producer) Send(ctx context.Context, target string, msg frame.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	c, ok := p.registry.Resolve(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return p.sendTo(ctx, c.ID, msg, p.nextSequence())
}

// Broadcast fans msg out to targets, or to every assigned connection when
// none are given. Delivery is best-effort and at most once per connection:
// a failed or unresolvable target is logged and does not affect the rest.
// Only an encode failure is returned.
func (p *Producer) Broadcast(ctx context.Context, msg frame.Message, targets ...string) error {
	if msg == nil {
		return ErrNilMessage
	}
	var conns []*session.Connection
	if len(targets) == 0 {
		conns = p.registry.Assigned()
	} else {
		seen := make(map[string]bool, len(targets))
		for _, target := range targets {
			c, ok := p.registry.Resolve(target)
			if !ok {
				log.Warn().Str("target", target).Uint32("message_id", msg.MessageID()).Msg("producer.broadcast unresolved target")
				observability.RecordBroadcastSend(p.cfg.Name, msg.MessageID(), false)
				continue
			}
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			conns = append(conns, c)
		}
	}
	b, err := p.envelope.Pack(msg, p.nextSequence())
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Go(func() {
			err := p.transport.Send(ctx, c.ID, b)
			observability.RecordBroadcastSend(p.cfg.Name, msg.MessageID(), err == nil)
			if err != nil {
				log.Warn().Str("conn", c.ID).Uint32("message_id", msg.MessageID()).Err(err).Msg("producer.broadcast send failed")
			}
		})
	}
	wg.Wait()
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, session.ErrProtocolHash):
		return "protocol_hash"
	case errors.Is(err, session.ErrWorkflowHash):
		return "workflow_hash"
	case errors.Is(err, session.ErrHashNotAccepted):
		return "hash_not_accepted"
	case errors.Is(err, session.ErrNoSelfKey):
		return "no_self_key"
	case errors.Is(err, session.ErrNotAssigned):
		return "not_assigned"
	default:
		return "other"
	}
}
