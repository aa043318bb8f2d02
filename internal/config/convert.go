package config

import (
	"github.com/danmuck/tlvlink/internal/producer"
	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/transform"
)

// ProducerConfig maps the file configuration onto the producer runtime.
func ProducerConfig(cfg Config) (producer.Config, error) {
	tr, err := transform.Parse(cfg.Transform)
	if err != nil {
		return producer.Config{}, err
	}
	out := producer.DefaultConfig()
	out.Name = cfg.Name
	out.Compat = cfg.Compatibility()
	out.Session = cfg.Session
	out.Transform = tr
	out.Limits = frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes}
	out.MailboxSize = cfg.MailboxSize
	return out, nil
}
