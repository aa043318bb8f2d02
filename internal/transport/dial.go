package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/protocol/session"
)

// Dial connects to a producer, retrying with cfg.Backoff until
// cfg.MaxConnectAttempts is reached. Zero attempts retries until ctx ends.
func Dial(ctx context.Context, addr string, cfg session.Config) (net.Conn, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	tlsConfig, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: tls: %w", err)
	}
	retry := cfg.DialRetry()

	var dialer net.Dialer
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			if tlsConfig == nil {
				return conn, nil
			}
			tc := tls.Client(conn, tlsConfig)
			if err = tc.HandshakeContext(ctx); err == nil {
				return tc, nil
			}
			_ = conn.Close()
		}
		if retry.Exhausted(attempt) {
			return nil, fmt.Errorf("transport: dial %s after %d attempts: %w", addr, attempt, err)
		}
		delay := retry.Delay(attempt)
		log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("transport.dial retry")
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}
