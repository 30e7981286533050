// Package emulator plays the capture-script side of the frame stream: it
// connects to kartctl, sends image frames and reads back one action per
// frame. cmd/framesend drives it for manual and integration testing.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/action"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/frame"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
	"github.com/rs/zerolog"
)

var ErrAddressRequired = errors.New("emulator: address required")

type Config struct {
	Addr        string
	DialTimeout time.Duration
	// IOTimeout bounds one frame exchange; 0 waits forever.
	IOTimeout time.Duration
	// MaxAttempts bounds connection attempts; 0 retries until ctx is done.
	MaxAttempts int
	Backoff     stream.BackoffConfig
	Limits      frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Addr:        stream.DefaultConfig().Addr,
		DialTimeout: 2 * time.Second,
		IOTimeout:   5 * time.Second,
		MaxAttempts: 10,
		Backoff: stream.BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     3 * time.Second,
			Jitter:       true,
		},
		Limits: frame.DefaultLimits(),
	}
}

// Client holds one connection to the frame stream.
type Client struct {
	cfg  Config
	conn net.Conn
	log  zerolog.Logger
}

// Dial connects to cfg.Addr, retrying with backoff.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.Limits.MaxPayloadBytes <= 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			log.Info().Str("addr", cfg.Addr).Int("attempt", attempt).Msg("connected")
			return &Client{cfg: cfg, conn: conn, log: log}, nil
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, fmt.Errorf("emulator: dial %s after %d attempts: %w", cfg.Addr, attempt, err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
		if err := cfg.Backoff.Wait(ctx, attempt, rng); err != nil {
			return nil, err
		}
	}
}

// Exchange sends one frame and waits for its action byte.
func (c *Client) Exchange(payload []byte) (action.Byte, error) {
	if c.cfg.IOTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout))
	}
	if err := frame.WriteFrame(c.conn, payload, c.cfg.Limits); err != nil {
		return action.None, err
	}
	b, err := action.Read(c.conn)
	if err != nil {
		return action.None, fmt.Errorf("emulator: read action: %w", err)
	}
	return b, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Stats summarizes one Play run. Actions counts answers by their
// action.Byte String form.
type Stats struct {
	Frames  int            `json:"frames"`
	Actions map[string]int `json:"actions"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Play sends every frame from src, pausing interval between frames, until
// src is exhausted or ctx is done.
func (c *Client) Play(ctx context.Context, src Source, interval time.Duration) (Stats, error) {
	stats := Stats{Actions: make(map[string]int)}
	start := time.Now()
	finish := func(err error) (Stats, error) {
		stats.Elapsed = time.Since(start)
		return stats, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		payload, name, err := src.Next()
		if errors.Is(err, io.EOF) {
			return finish(nil)
		}
		if err != nil {
			return finish(err)
		}
		got, err := c.Exchange(payload)
		if err != nil {
			return finish(fmt.Errorf("frame %s: %w", name, err))
		}
		stats.Frames++
		stats.Actions[got.String()]++
		c.log.Debug().Str("frame", name).Int("bytes", len(payload)).Str("action", got.String()).Msg("frame answered")

		if interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}
