package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ServerStatus is the listener's read-only view for the admin surface.
type ServerStatus struct {
	Addr             string       `json:"addr"`
	Listening        bool         `json:"listening"`
	StartedAt        time.Time    `json:"started_at"`
	SessionsAccepted uint64       `json:"sessions_accepted"`
	Current          *SessionInfo `json:"current,omitempty"`
}

// Server accepts emulator connections and serves them one at a time.
type Server struct {
	cfg      Config
	pipeline Pipeline
	log      zerolog.Logger
	seq      atomic.Uint64

	mu        sync.RWMutex
	addr      string
	listening bool
	startedAt time.Time
	current   *SessionInfo
	history   []Result
}

func NewServer(cfg Config, p Pipeline, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg.WithDefaults(),
		pipeline: p.withDefaults(),
		log:      log,
		history:  make([]Result, 0),
	}
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Addr))
	if err != nil {
		return fmt.Errorf("stream: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the sequential accept loop on ln. Each accepted connection runs
// to completion on the calling goroutine before the next Accept, so further
// clients wait in the listen backlog. Serve returns nil once ctx is done and
// closes ln on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	addr := ln.Addr().String()
	s.setListening(addr, true)
	defer s.setListening(addr, false)

	failures := 0
	for {
		if ctx.Err() != nil {
			s.log.Info().Msg("quit requested, closing server")
			return nil
		}
		s.log.Info().Str("addr", addr).Msg("listening for connections")
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info().Msg("closing server")
				return nil
			}
			// Accept errors never stop the listener; only ctx does.
			failures++
			s.log.Error().Err(err).Int("failures", failures).Dur("retry_in", s.cfg.AcceptRetry.Delay(failures, nil)).Msg("accept failed")
			if s.cfg.AcceptRetry.Wait(ctx, failures, nil) != nil {
				s.log.Info().Msg("closing server")
				return nil
			}
			continue
		}
		failures = 0
		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) Result {
	id := s.seq.Add(1)
	log := s.log.With().Uint64("session", id).Str("remote", remoteAddr(conn)).Logger()
	sess := NewSession(id, conn, s.cfg, s.pipeline, log)
	sess.observe = s.setCurrent
	res := sess.Run(ctx)
	s.finish(res)
	return res
}

func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := ServerStatus{
		Addr:             s.addr,
		Listening:        s.listening,
		StartedAt:        s.startedAt,
		SessionsAccepted: s.seq.Load(),
	}
	if s.current != nil {
		cur := *s.current
		out.Current = &cur
	}
	return out
}

// RecentSessions returns up to limit finished sessions, oldest first.
func (s *Server) RecentSessions(limit int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || len(s.history) <= limit {
		out := make([]Result, len(s.history))
		copy(out, s.history)
		return out
	}
	out := make([]Result, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

func (s *Server) setListening(addr string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
	s.listening = on
	if on && s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
}

func (s *Server) setCurrent(info SessionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &info
}

func (s *Server) finish(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.HistoryLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}
