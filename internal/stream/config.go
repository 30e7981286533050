package stream

import (
	"time"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/frame"
)

// Config defines listener and session behavior.
type Config struct {
	Addr         string
	Limits       frame.Limits
	ReadTimeout  time.Duration // per frame; 0 waits forever
	WriteTimeout time.Duration // per response; 0 waits forever
	HistoryLimit int
	AcceptRetry  BackoffConfig
}

// DefaultConfig binds the address the capture script dials by default.
// Accept errors are retried without limit; AcceptRetry.MaxDelay caps the
// pause between attempts.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:12345",
		Limits:       frame.DefaultLimits(),
		HistoryLimit: 50,
		AcceptRetry: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = def.Limits
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.AcceptRetry.InitialDelay <= 0 {
		c.AcceptRetry = def.AcceptRetry
	}
	return c
}
