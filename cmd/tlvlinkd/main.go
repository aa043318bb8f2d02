package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tlvlink/internal/auth"
	"github.com/danmuck/tlvlink/internal/config"
	"github.com/danmuck/tlvlink/internal/echo"
	"github.com/danmuck/tlvlink/internal/logging"
	"github.com/danmuck/tlvlink/internal/observability"
	"github.com/danmuck/tlvlink/internal/producer"
	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/transform"
	"github.com/danmuck/tlvlink/internal/transport"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("tlvlinkd exited")
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.writeConfig != "" {
		if err := config.WriteTemplate(opts.writeConfig, opts.force); err != nil {
			return err
		}
		log.Info().Str("path", opts.writeConfig).Msg("tlvlinkd wrote config template")
		return nil
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	if opts.printConfig {
		return printConfig(cfg)
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.serve(ctx)
}

// daemon wires the producer to a TCP transport and the admin API.
type daemon struct {
	cfg       config.Config
	producer  *producer.Producer
	transport *transport.TCP
	admin     *observability.Admin[producer.ConnectionInfo]
	// codec is shared with the producer's envelope and framers; serve
	// releases it once every component has stopped.
	codec frame.Transform
}

func newDaemon(cfg config.Config) (*daemon, error) {
	pcfg, err := config.ProducerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schemas, err := echo.Schemas()
	if err != nil {
		transform.Release(pcfg.Transform)
		return nil, err
	}
	tr, err := transport.NewTCP(cfg.Listen, cfg.Session)
	if err != nil {
		transform.Release(pcfg.Transform)
		return nil, err
	}
	p := producer.New(pcfg, tr, schemas)
	if err := echo.Install(p); err != nil {
		transform.Release(pcfg.Transform)
		return nil, err
	}

	d := &daemon{cfg: cfg, producer: p, transport: tr, codec: pcfg.Transform}
	if cfg.AdminListen != "" {
		acfg := observability.AdminConfig{
			Node:        cfg.Name,
			Addr:        cfg.AdminListen,
			CORSOrigins: cfg.AdminCORSOrigins,
			IsNotFound: func(err error) bool {
				return errors.Is(err, producer.ErrUnknownConnection)
			},
		}
		if cfg.AdminToken != "" {
			acfg.Auth = auth.StaticToken{Token: cfg.AdminToken}
		}
		d.admin = observability.NewAdmin[producer.ConnectionInfo](acfg, p)
	}
	return d, nil
}

// serve runs until ctx ends or a component fails, then shuts the transport
// down and releases the body transform.
func (d *daemon) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.producer.Run(gctx)
	})
	if d.admin != nil {
		g.Go(func() error {
			return d.admin.Serve(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.transport.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("node", d.cfg.Name).
		Str("listen", d.cfg.Listen).
		Str("admin", d.cfg.AdminListen).
		Str("transform", d.cfg.Transform).
		Msg("tlvlinkd starting")
	err := g.Wait()
	transform.Release(d.codec)
	log.Info().Str("node", d.cfg.Name).Msg("tlvlinkd stopped")
	return err
}
