package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// WriteTemplate writes the commented starter config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Render encodes cfg as config.toml. Loading the output yields cfg again.
func Render(cfg Config) ([]byte, error) {
	out, err := toml.Marshal(fileConfig{
		Name:                 cfg.Name,
		Listen:               cfg.Listen,
		AdminListen:          cfg.AdminListen,
		AdminCORSOrigins:     cfg.AdminCORSOrigins,
		AdminToken:           cfg.AdminToken,
		LogLevel:             cfg.LogLevel,
		Transform:            cfg.Transform,
		MaxPayloadBytes:      cfg.MaxPayloadBytes,
		MailboxSize:          cfg.MailboxSize,
		ProtocolHash:         cfg.ProtocolHash,
		WorkflowHash:         cfg.WorkflowHash,
		IdentificationPolicy: cfg.Session.Identification.String(),
		ConsumerErrorPolicy:  cfg.Session.ConsumerErrors.String(),
		SecurityMode:         string(cfg.Session.SecurityMode),
		ReadBufferBytes:      cfg.Session.ReadBufferBytes,
		WriteTimeout:         cfg.Session.WriteTimeout.String(),
		TLS:                  cfg.Session.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

const template = `name = "tlvlinkd"
listen = ":7400"
admin_listen = "127.0.0.1:7401"
admin_cors_origins = []
# bearer token for POST /connections/:id/disconnect; empty leaves it open
admin_token = ""
log_level = "info"

# none | lz4 | zstd; clients must use the same transform
transform = "none"
max_payload_bytes = 8388608
mailbox_size = 64

# ignore | log | disconnect | emit_error | emit_error_and_disconnect
identification_policy = "disconnect"
# log | disconnect | emit_error | emit_error_and_disconnect
consumer_error_policy = "log"

security_mode = "development"
read_buffer_bytes = 32768
write_timeout = "15s"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`
