package producer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/transport"
)

// Run starts the transport and consumes its events until ctx ends or the
// transport reports shutdown. Each connection gets one mailbox goroutine so
// its chunks are processed serially while connections run concurrently.
// The loop itself never waits on a connection; see enqueue.
func (p *Producer) Run(ctx context.Context) error {
	events := p.transport.Events()
	if err := p.transport.Listen(ctx); err != nil {
		return err
	}
	defer p.stopAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if p.handleEvent(ctx, ev) {
				return nil
			}
		}
	}
}

func (p *Producer) handleEvent(ctx context.Context, ev transport.Event) (done bool) {
	switch ev.Kind {
	case transport.EventReady:
		log.Info().Str("node", p.cfg.Name).Msg("producer.run transport ready")
	case transport.EventConnected:
		if err := p.Connect(ev.ConnectionID); err != nil {
			log.Error().Str("conn", ev.ConnectionID).Err(err).Msg("producer.run connect rejected")
			p.emit(ev.ConnectionID, err)
			return false
		}
		p.start(ctx, ev.ConnectionID)
	case transport.EventDisconnected:
		p.forget(ev.ConnectionID)
	case transport.EventReceived:
		p.enqueue(ctx, ev.ConnectionID, ev.Data)
	case transport.EventError:
		log.Error().Str("conn", ev.ConnectionID).Err(ev.Err).Msg("producer.run transport error")
		p.emit(ev.ConnectionID, ev.Err)
	case transport.EventShutdown:
		log.Info().Str("node", p.cfg.Name).Msg("producer.run transport shut down")
		return true
	}
	return false
}

func (p *Producer) start(ctx context.Context, id string) {
	pr, ok := p.registry.peer(id)
	if !ok {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-pr.stop:
				return
			case <-ctx.Done():
				return
			case chunk := <-pr.inbox:
				p.receive(ctx, pr, chunk)
			}
		}
	}()
}

// enqueue hands a chunk to the connection's mailbox without waiting. The
// event loop serves every connection, so a full mailbox drops that
// connection instead of stalling the rest: skipping the chunk would leave a
// hole in its byte stream.
func (p *Producer) enqueue(ctx context.Context, id string, chunk []byte) {
	pr, ok := p.registry.peer(id)
	if !ok {
		log.Debug().Str("conn", id).Int("bytes", len(chunk)).Msg("producer.run bytes for unknown connection")
		return
	}
	if pr.stopped() || pr.conn.Discredited() {
		return
	}
	select {
	case pr.inbox <- chunk:
	default:
		err := fmt.Errorf("%w: conn=%s size=%d", ErrMailboxFull, id, cap(pr.inbox))
		log.Error().Str("conn", id).Int("mailbox", cap(pr.inbox)).Msg("producer.run mailbox full")
		p.emit(id, err)
		p.drop(ctx, pr.conn, err)
	}
}

func (p *Producer) stopAll() {
	for _, pr := range p.registry.all() {
		pr.close()
	}
	p.wg.Wait()
}
