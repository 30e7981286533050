// Package bridge assembles the kartctl process: the frame stream server, its
// frame sinks and the optional admin surface, under one cancellation signal.
package bridge

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/admin"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/capture"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/config"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/policy"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/preview"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/vision"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Option func(*options)

type options struct {
	policy  policy.Policy
	decoder vision.Decoder
	sinks   []stream.Sink
}

// WithPolicy replaces the default hold-A policy.
func WithPolicy(p policy.Policy) Option {
	return func(o *options) { o.policy = p }
}

func WithDecoder(d vision.Decoder) Option {
	return func(o *options) { o.decoder = d }
}

// WithSinks appends sinks after the built-in preview and capture sinks.
func WithSinks(sinks ...stream.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// Service owns every long-lived component of one kartctl process.
type Service struct {
	cfg      config.Config
	log      zerolog.Logger
	stream   *stream.Server
	admin    *admin.Server
	hub      *preview.Hub
	recorder *capture.Recorder
}

func NewService(cfg config.Config, log zerolog.Logger, opts ...Option) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	o := options{decoder: vision.StdDecoder{MaxPixels: cfg.MaxPixels}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, log: log}
	sinks := make([]stream.Sink, 0, len(o.sinks)+2)
	if cfg.Preview.Enabled {
		s.hub = preview.NewHub(cfg.Preview, log.With().Str("component", "preview").Logger())
		sinks = append(sinks, s.hub)
	}
	if cfg.CapturePath != "" {
		rec, err := capture.Open(cfg.CapturePath)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		sinks = append(sinks, rec)
	}
	sinks = append(sinks, o.sinks...)

	pipeline := stream.Pipeline{Decoder: o.decoder, Policy: o.policy, Sinks: sinks}
	s.stream = stream.NewServer(cfg.Stream, pipeline, log.With().Str("component", "stream").Logger())
	if cfg.AdminAddr != "" {
		s.admin = admin.New(
			admin.Config{Addr: cfg.AdminAddr, CORSOrigins: cfg.CORSOrigins},
			s.stream,
			s.hub,
			log.With().Str("component", "admin").Logger(),
		)
	}
	return s, nil
}

func (s *Service) Stream() *stream.Server {
	return s.stream
}

// Run blocks until SIGINT or SIGTERM. The first signal requests a graceful
// stop that takes effect at the next frame boundary; a second one kills the
// process.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("quit requested; press Ctrl-C again to force exit")
		stop()
	}()
	return s.Serve(ctx)
}

// Serve runs the stream server and, when configured, the admin server until
// ctx is done or either fails. Sinks are closed before returning.
func (s *Service) Serve(ctx context.Context) error {
	defer s.closeSinks()

	s.log.Info().
		Str("addr", s.cfg.Stream.Addr).
		Str("admin", s.cfg.AdminAddr).
		Bool("preview", s.hub != nil).
		Str("capture", s.cfg.CapturePath).
		Int("max_payload", s.cfg.Stream.Limits.MaxPayloadBytes).
		Msg("kartctl starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.stream.ListenAndServe(gctx)
	})
	if s.admin != nil {
		g.Go(func() error {
			return s.admin.ListenAndServe(gctx)
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error().Err(err).Msg("kartctl stopped with error")
		return err
	}
	s.log.Info().Uint64("sessions", s.stream.Status().SessionsAccepted).Msg("kartctl stopped")
	return nil
}

func (s *Service) closeSinks() {
	if s.hub != nil {
		_ = s.hub.Close()
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close capture")
		} else {
			s.log.Info().Str("path", s.recorder.Path()).Uint64("records", s.recorder.Count()).Msg("capture closed")
		}
	}
}

