package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/tlvlink/internal/protocol/session"
	"github.com/danmuck/tlvlink/internal/testutil/testlog"
	"github.com/danmuck/tlvlink/internal/testutil/tlstest"
)

func nextEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf
}

func exerciseTCP(t *testing.T, serverCfg, clientCfg session.Config) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := NewTCP("127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("new tcp: %v", err)
	}
	if err := tr.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer tr.Shutdown(context.Background())
	nextEvent(t, tr.Events(), EventReady)
	if err := tr.Listen(ctx); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}

	conn, err := Dial(ctx, tr.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	id := nextEvent(t, tr.Events(), EventConnected).ConnectionID
	if id == "" {
		t.Fatalf("expected a connection id")
	}

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	var got []byte
	for len(got) < 5 {
		ev := nextEvent(t, tr.Events(), EventReceived)
		if ev.ConnectionID != id {
			t.Fatalf("unexpected connection id %q", ev.ConnectionID)
		}
		got = append(got, ev.Data...)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected payload %q", got)
	}

	if err := tr.Send(ctx, id, []byte("world")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply := readN(t, conn, 5); !bytes.Equal(reply, []byte("world")) {
		t.Fatalf("unexpected reply %q", reply)
	}
	if err := tr.Send(ctx, "missing", []byte("x")); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}

	if err := tr.Disconnect(ctx, id); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if ev := nextEvent(t, tr.Events(), EventDisconnected); ev.ConnectionID != id {
		t.Fatalf("unexpected disconnected id %q", ev.ConnectionID)
	}

	if err := tr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	nextEvent(t, tr.Events(), EventShutdown)
	if err := tr.Listen(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestTCPPlain(t *testing.T) {
	testlog.Start(t)
	exerciseTCP(t, session.DefaultConfig(), session.DefaultConfig())
}

func TestTCPMutualTLS(t *testing.T) {
	testlog.Start(t)
	pki := tlstest.NewPKI(t)

	server := session.DefaultConfig()
	server.SecurityMode = session.SecurityModeProduction
	server.TLS = session.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: pki.ProducerCert,
		KeyFile:  pki.ProducerKey,
		CAFile:   pki.CAFile,
	}
	client := session.DefaultConfig()
	client.TLS = session.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: pki.ClientCert,
		KeyFile:  pki.ClientKey,
		CAFile:   pki.CAFile,
	}
	exerciseTCP(t, server, client)
}

func TestNewTCPRejectsInsecureProduction(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	cfg.SecurityMode = session.SecurityModeProduction
	if _, err := NewTCP("127.0.0.1:0", cfg); !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := session.DefaultConfig()
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	if _, err := Dial(context.Background(), addr, cfg); err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestMemoryRecordsSendsAndFailures(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	m := NewMemory(8)
	if err := m.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	nextEvent(t, m.Events(), EventReady)

	if err := m.Connect(ctx, "a"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, m.Events(), EventConnected)
	m.Open("b")

	if err := m.Send(ctx, "a", []byte{1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	boom := errors.New("boom")
	m.FailSends("b", boom)
	if err := m.Send(ctx, "b", []byte{2}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := m.Send(ctx, "c", []byte{3}); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if m.SendCount() != 3 || len(m.Sent("a")) != 1 || len(m.Sent("b")) != 0 {
		t.Fatalf("unexpected send record: count=%d a=%d b=%d", m.SendCount(), len(m.Sent("a")), len(m.Sent("b")))
	}

	if err := m.Disconnect(ctx, "a"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if ev := nextEvent(t, m.Events(), EventDisconnected); ev.ConnectionID != "a" {
		t.Fatalf("unexpected disconnected id %q", ev.ConnectionID)
	}
	if got := m.Disconnected(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected disconnected list: %v", got)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	nextEvent(t, m.Events(), EventShutdown)
	if err := m.Send(ctx, "b", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
