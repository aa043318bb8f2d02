package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tlvlink/internal/logging"
	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
	"github.com/danmuck/tlvlink/internal/protocol/session"
	"github.com/danmuck/tlvlink/internal/protocol/transform"
)

// Config is the resolved daemon configuration.
type Config struct {
	Name        string
	Listen      string
	AdminListen string
	// AdminCORSOrigins enables CORS on the admin API when non-empty.
	AdminCORSOrigins []string
	// AdminToken guards mutating admin routes when set.
	AdminToken string
	LogLevel   string

	Transform       string
	MaxPayloadBytes uint64
	MailboxSize     int

	ProtocolHash string
	WorkflowHash string

	Session session.Config
}

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	Name                 string            `toml:"name"`
	Listen               string            `toml:"listen"`
	AdminListen          string            `toml:"admin_listen"`
	AdminCORSOrigins     []string          `toml:"admin_cors_origins"`
	AdminToken           string            `toml:"admin_token"`
	LogLevel             string            `toml:"log_level"`
	Transform            string            `toml:"transform"`
	MaxPayloadBytes      uint64            `toml:"max_payload_bytes"`
	MailboxSize          int               `toml:"mailbox_size"`
	ProtocolHash         string            `toml:"protocol_hash"`
	WorkflowHash         string            `toml:"workflow_hash"`
	IdentificationPolicy string            `toml:"identification_policy"`
	ConsumerErrorPolicy  string            `toml:"consumer_error_policy"`
	SecurityMode         string            `toml:"security_mode"`
	ReadBufferBytes      int               `toml:"read_buffer_bytes"`
	WriteTimeout         string            `toml:"write_timeout"`
	TLS                  session.TLSConfig `toml:"tls"`
}

func Default() Config {
	return Config{
		Name:            "tlvlinkd",
		Listen:          ":7400",
		AdminListen:     "127.0.0.1:7401",
		Transform:       string(transform.NameNone),
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
		MailboxSize:     64,
		ProtocolHash:    schema.Default.ProtocolHash,
		WorkflowHash:    schema.Default.WorkflowHash,
		Session:         session.DefaultConfig(),
	}
}

// Load overlays the keys present in path onto Default and validates the
// result. Keys the loader does not know are logged and ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("path", path).Str("key", key.String()).Msg("config.load unknown key")
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeOrigins(raw.AdminCORSOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("transform") {
		cfg.Transform = strings.TrimSpace(raw.Transform)
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("mailbox_size") {
		cfg.MailboxSize = raw.MailboxSize
	}
	if meta.IsDefined("protocol_hash") {
		cfg.ProtocolHash = strings.TrimSpace(raw.ProtocolHash)
	}
	if meta.IsDefined("workflow_hash") {
		cfg.WorkflowHash = strings.TrimSpace(raw.WorkflowHash)
	}
	if meta.IsDefined("identification_policy") {
		p, err := session.ParseIdentificationPolicy(raw.IdentificationPolicy)
		if err != nil {
			return Config{}, fmt.Errorf("parse identification_policy: %w", err)
		}
		cfg.Session.Identification = p
	}
	if meta.IsDefined("consumer_error_policy") {
		p, err := session.ParseConsumerErrorPolicy(raw.ConsumerErrorPolicy)
		if err != nil {
			return Config{}, fmt.Errorf("parse consumer_error_policy: %w", err)
		}
		cfg.Session.ConsumerErrors = p
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("read_buffer_bytes") {
		cfg.Session.ReadBufferBytes = raw.ReadBufferBytes
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("tls") {
		cfg.Session.TLS = raw.TLS
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("config missing listen")
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
		}
	}
	if !transform.Known(cfg.Transform) {
		return fmt.Errorf("%w: %q", transform.ErrUnknownTransform, cfg.Transform)
	}
	if cfg.MaxPayloadBytes == 0 {
		return fmt.Errorf("max_payload_bytes must be positive")
	}
	if cfg.MaxPayloadBytes > transform.MaxDecodedBytes {
		return fmt.Errorf("max_payload_bytes must be at most %d", transform.MaxDecodedBytes)
	}
	if cfg.MailboxSize <= 0 {
		return fmt.Errorf("mailbox_size must be positive")
	}
	if strings.TrimSpace(cfg.ProtocolHash) == "" || strings.TrimSpace(cfg.WorkflowHash) == "" {
		return fmt.Errorf("protocol_hash and workflow_hash are required")
	}
	if cfg.Session.ReadBufferBytes <= 0 {
		return fmt.Errorf("read_buffer_bytes must be positive")
	}
	if cfg.Session.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	return cfg.Session.ValidateServerTransport()
}

func normalizeOrigins(in []string) []string {
	var out []string
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Compatibility returns the handshake constants peers must match.
func (c Config) Compatibility() schema.Compatibility {
	return schema.NewCompatibility(c.ProtocolHash, c.WorkflowHash)
}
