package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/auth"
)

// ConnectionController is the slice of the producer the admin API needs.
type ConnectionController[T any] interface {
	Connections() []T
	Disconnect(ctx context.Context, id string) error
}

// ErrUnknownConnection is matched against Disconnect errors to answer 404.
var ErrUnknownConnection = errors.New("admin: unknown connection")

// AdminConfig configures the admin API.
type AdminConfig struct {
	Node        string
	Addr        string
	CORSOrigins []string
	// Auth guards mutating routes; nil leaves them open.
	Auth auth.Validator
	// IsNotFound classifies Disconnect errors answered with 404. Nil
	// matches ErrUnknownConnection only.
	IsNotFound func(error) bool
}

// Admin serves health, metrics and the connection table over HTTP.
type Admin[T any] struct {
	cfg      AdminConfig
	appeared time.Time
	conns    ConnectionController[T]
	router   *gin.Engine
}

func NewAdmin[T any](cfg AdminConfig, conns ConnectionController[T]) *Admin[T] {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AdminRequestLogger(ComponentLogger("admin", cfg.Node)))
	r.Use(AdminRequestMetrics(cfg.Node))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if cfg.IsNotFound == nil {
		cfg.IsNotFound = func(err error) bool { return errors.Is(err, ErrUnknownConnection) }
	}
	a := &Admin[T]{
		cfg:      cfg,
		appeared: time.Now(),
		conns:    conns,
		router:   r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin[T]) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin[T]) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(a.appeared).String(),
			"node":   a.cfg.Node,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/connections", func(c *gin.Context) {
		list := a.conns.Connections()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(list),
			"connections": list,
		})
	})

	a.router.POST("/connections/:id/disconnect", auth.Require(a.cfg.Auth), func(c *gin.Context) {
		id := c.Param("id")
		if err := a.conns.Disconnect(c.Request.Context(), id); err != nil {
			status := http.StatusInternalServerError
			if a.cfg.IsNotFound(err) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("node", a.cfg.Node).Str("conn", id).Msg("admin.disconnect")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
	})
}

// Serve listens on Addr until ctx ends, then shuts the server down.
func (a *Admin[T]) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *Admin[T]) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("node", a.cfg.Node).Str("addr", ln.Addr().String()).Msg("admin.serve")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
