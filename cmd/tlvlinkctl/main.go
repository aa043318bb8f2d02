package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/danmuck/tlvlink/internal/client"
	"github.com/danmuck/tlvlink/internal/config"
	"github.com/danmuck/tlvlink/internal/echo"
	"github.com/danmuck/tlvlink/internal/logging"
	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
	"github.com/danmuck/tlvlink/internal/protocol/transform"
)

type options struct {
	configPath string
	addr       string
	key        string
	send       []string
	timeout    time.Duration
}

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("tlvlinkctl exited")
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("tlvlinkctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "daemon config.toml to take transform, hashes and TLS from")
	fs.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:7400", "daemon address")
	fs.StringVarP(&opts.key, "key", "k", "", "address key to claim, empty asks for a generated one")
	fs.StringArrayVarP(&opts.send, "send", "s", nil, "echo this text and exit after the reply, repeatable")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "dial and handshake timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(args []string, in io.Reader, out io.Writer) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := connect(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(out, "connected to %s as %q\n", opts.addr, c.Key())

	if len(opts.send) > 0 {
		return sendOnce(ctx, c, opts, out)
	}
	return interactive(ctx, c, in, out)
}

func connect(ctx context.Context, opts options, cfg config.Config) (*client.Client, error) {
	reg, err := echo.Schemas()
	if err != nil {
		return nil, err
	}
	tr, err := transform.Parse(cfg.Transform)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	c, err := client.Dial(dialCtx, client.Config{
		Addr:      opts.addr,
		Session:   cfg.Session,
		Compat:    cfg.Compatibility(),
		Transform: tr,
		Limits:    frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes},
		Schemas:   reg,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.Handshake(dialCtx, opts.key, cfg.Compatibility()); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// sendOnce echoes each text and waits for its reply. Events for other
// senders that arrive in between are printed too.
func sendOnce(ctx context.Context, c *client.Client, opts options, out io.Writer) error {
	for _, text := range opts.send {
		seq, err := c.Send(echo.Echo{Text: text})
		if err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		for {
			p, err := c.Next(waitCtx)
			if err != nil {
				cancel()
				return err
			}
			printPacket(out, p)
			if _, ok := p.Message.(*echo.Response); ok && p.Header.Sequence == seq {
				break
			}
		}
		cancel()
	}
	return nil
}

// interactive sends every stdin line as an echo and prints whatever the
// daemon pushes until stdin closes or the connection drops.
func interactive(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	recvErr := make(chan error, 1)
	go func() {
		for {
			p, err := c.Next(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			printPacket(out, p)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(out, "type a line to echo it, ctrl-d to quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "daemon closed the connection")
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, err := c.Send(echo.Echo{Text: line}); err != nil {
				return err
			}
		}
	}
}

func printPacket(out io.Writer, p frame.Packet) {
	switch m := p.Message.(type) {
	case *echo.Response:
		fmt.Fprintf(out, "[%d] reply  %q\n", p.Header.Sequence, m.Text)
	case *echo.Event:
		fmt.Fprintf(out, "[%d] event  %s: %q\n", p.Header.Sequence, m.From, m.Text)
	case *schema.HashResponse:
		if !m.Accepted() {
			fmt.Fprintf(out, "[%d] rejected %s\n", p.Header.Sequence, *m.Error)
		}
	default:
		fmt.Fprintf(out, "[%d] message_id=%d %T\n", p.Header.Sequence, p.Header.MessageID, m)
	}
}
