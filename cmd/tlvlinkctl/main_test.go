package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/tlvlink/internal/echo"
	"github.com/danmuck/tlvlink/internal/producer"
	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/session"
	"github.com/danmuck/tlvlink/internal/testutil/testlog"
	"github.com/danmuck/tlvlink/internal/transport"
)

func startProducer(t *testing.T) string {
	t.Helper()
	reg, err := echo.Schemas()
	require.NoError(t, err)
	tr, err := transport.NewTCP("127.0.0.1:0", session.DefaultConfig())
	require.NoError(t, err)
	p := producer.New(producer.DefaultConfig(), tr, reg)
	require.NoError(t, echo.Install(p))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = tr.Shutdown(context.Background())
		<-done
	})
	require.Eventually(t, func() bool { return tr.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return tr.Addr().String()
}

func TestSendOnce(t *testing.T) {
	testlog.Start(t)
	addr := startProducer(t)
	var out bytes.Buffer
	err := run([]string{"--addr", addr, "--key", "ctl", "--send", "one", "--send", "two"}, strings.NewReader(""), &out)
	require.NoError(t, err)
	got := out.String()
	require.Contains(t, got, `connected to `+addr+` as "ctl"`)
	require.Contains(t, got, `reply  "one"`)
	require.Contains(t, got, `reply  "two"`)
	require.Contains(t, got, `event  ctl: "one"`)
}

func TestInteractiveStopsAtEOF(t *testing.T) {
	testlog.Start(t)
	addr := startProducer(t)
	var out bytes.Buffer
	err := run([]string{"--addr", addr}, strings.NewReader(""), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "ctrl-d to quit")
}

func TestPrintPacket(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	printPacket(&out, frame.Packet{Header: frame.Header{Sequence: 7}, Message: &echo.Event{From: "a", Text: "b"}})
	require.Equal(t, "[7] event  a: \"b\"\n", out.String())
}
