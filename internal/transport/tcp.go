package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/protocol/session"
)

// TCP listens on a stream socket, optionally wrapped in TLS. Each accepted
// connection gets a uuid id, one read loop and a write mutex.
type TCP struct {
	addr         string
	tlsConfig    *tls.Config
	readBuffer   int
	writeTimeout time.Duration

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*tcpConn
	closed   bool

	wg sync.WaitGroup
}

type tcpConn struct {
	id   string
	conn net.Conn
	wmu  sync.Mutex
}

// NewTCP validates cfg's server transport security and prepares a listener
// for addr. Nothing is bound until Listen.
func NewTCP(addr string, cfg session.Config) (*TCP, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	tlsConfig, err := cfg.ServerTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("transport: tls: %w", err)
	}
	readBuffer := cfg.ReadBufferBytes
	if readBuffer <= 0 {
		readBuffer = session.DefaultConfig().ReadBufferBytes
	}
	return &TCP{
		addr:         addr,
		tlsConfig:    tlsConfig,
		readBuffer:   readBuffer,
		writeTimeout: cfg.WriteTimeout,
		events:       make(chan Event, 256),
		done:         make(chan struct{}),
		conns:        make(map[string]*tcpConn),
	}, nil
}

func (t *TCP) Events() <-chan Event {
	return t.events
}

// Addr is the bound address, or nil before Listen.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Listen binds the socket, starts the accept loop and emits EventReady.
func (t *TCP) Listen(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.listener != nil {
		t.mu.Unlock()
		return ErrAlreadyListening
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: listen %s: %w", t.addr, err)
	}
	if t.tlsConfig != nil {
		ln = tls.NewListener(ln, t.tlsConfig)
	}
	t.listener = ln
	t.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Bool("tls", t.tlsConfig != nil).Msg("transport.tcp listening")
	t.wg.Add(1)
	go t.acceptLoop(ln)
	t.emit(Event{Kind: EventReady})
	return nil
}

func (t *TCP) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("transport.tcp accept failed")
			t.emit(Event{Kind: EventError, Err: err})
			continue
		}
		c := &tcpConn{id: uuid.NewString(), conn: conn}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conns[c.id] = c
		t.mu.Unlock()

		log.Debug().Str("conn", c.id).Str("remote", conn.RemoteAddr().String()).Msg("transport.tcp accepted")
		t.emit(Event{Kind: EventConnected, ConnectionID: c.id})
		t.wg.Add(1)
		go t.readLoop(c)
	}
}

func (t *TCP) readLoop(c *tcpConn) {
	defer t.wg.Done()
	buf := make([]byte, t.readBuffer)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			t.emit(Event{Kind: EventReceived, ConnectionID: c.id, Data: data})
		}
		if err != nil {
			t.mu.Lock()
			delete(t.conns, c.id)
			t.mu.Unlock()
			_ = c.conn.Close()
			log.Debug().Str("conn", c.id).Err(err).Msg("transport.tcp read loop closed")
			t.emit(Event{Kind: EventDisconnected, ConnectionID: c.id})
			return
		}
	}
}

func (t *TCP) Send(ctx context.Context, id string, b []byte) error {
	t.mu.Lock()
	c, ok := t.conns[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if t.writeTimeout > 0 {
		if wd := time.Now().Add(t.writeTimeout); deadline.IsZero() || wd.Before(deadline) {
			deadline = wd
		}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

// Disconnect closes the socket; the read loop reports EventDisconnected.
func (t *TCP) Disconnect(_ context.Context, id string) error {
	t.mu.Lock()
	c, ok := t.conns[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return c.conn.Close()
}

// Shutdown stops accepting, closes every connection, waits for the loops to
// exit and emits EventShutdown.
func (t *TCP) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ln := t.listener
	conns := make([]*tcpConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range conns {
		_ = c.conn.Close()
	}
	close(t.done)

	waited := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	select {
	case t.events <- Event{Kind: EventShutdown}:
	case <-ctx.Done():
	}
	log.Info().Str("addr", t.addr).Msg("transport.tcp shut down")
	return errors.Join(errs...)
}

func (t *TCP) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// emit blocks until the event is consumed or the transport shuts down.
func (t *TCP) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}
