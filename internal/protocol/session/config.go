package session

import "time"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes listener and dialer certificates.
type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines per-connection handshake policy and transport defaults.
type Config struct {
	SecurityMode   SecurityMode
	TLS            TLSConfig
	Identification IdentificationPolicy
	ConsumerErrors ConsumerErrorPolicy

	ReadBufferBytes    int
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		SecurityMode:       SecurityModeDevelopment,
		Identification:     IdentificationDisconnect,
		ConsumerErrors:     ConsumerErrorLog,
		ReadBufferBytes:    32 * 1024,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
