package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"sync"
	"time"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/observability"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/policy"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/action"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/frame"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/vision"
	"github.com/rs/zerolog"
)

const readBufferSize = 64 * 1024

// OutcomeCancelled marks a session closed by the cancellation signal.
const OutcomeCancelled = "cancelled"

// Pipeline holds the collaborators consulted for every frame.
type Pipeline struct {
	Decoder vision.Decoder
	Policy  policy.Policy
	Sinks   []Sink
}

func (p Pipeline) withDefaults() Pipeline {
	if p.Decoder == nil {
		p.Decoder = vision.StdDecoder{}
	}
	if p.Policy == nil {
		p.Policy = policy.Default()
	}
	return p
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	ID          uint64    `json:"id"`
	Remote      string    `json:"remote"`
	State       State     `json:"state"`
	Frames      uint64    `json:"frames"`
	Dropped     uint64    `json:"dropped"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Result reports how a session ended. Outcome is a protocol.Kind string or
// OutcomeCancelled; Err is nil for clean ends.
type Result struct {
	SessionInfo
	Outcome  string    `json:"outcome"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
	ClosedAt time.Time `json:"closed_at"`
}

// Session runs the request/response loop for one accepted connection. It
// owns conn and closes it exactly once.
type Session struct {
	id       uint64
	conn     net.Conn
	remote   string
	reader   *bufio.Reader
	cfg      Config
	pipeline Pipeline
	log      zerolog.Logger

	state       State
	frames      uint64
	dropped     uint64
	seq         uint64
	connectedAt time.Time

	observe   func(SessionInfo)
	closeOnce sync.Once
	closeErr  error
}

func NewSession(id uint64, conn net.Conn, cfg Config, p Pipeline, log zerolog.Logger) *Session {
	return &Session{
		id:          id,
		conn:        conn,
		remote:      remoteAddr(conn),
		reader:      bufio.NewReaderSize(conn, readBufferSize),
		cfg:         cfg.WithDefaults(),
		pipeline:    p.withDefaults(),
		log:         log,
		state:       StateConnected,
		connectedAt: time.Now(),
	}
}

// State returns the current state. Only meaningful on the session goroutine
// or after Run returns.
func (s *Session) State() State {
	return s.state
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		Remote:      s.remote,
		State:       s.state,
		Frames:      s.frames,
		Dropped:     s.dropped,
		ConnectedAt: s.connectedAt,
	}
}

// Close closes the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Run drives the session until end of stream, a fatal error or
// cancellation. It always closes the connection before returning.
func (s *Session) Run(ctx context.Context) Result {
	observability.RecordSessionStart()
	s.log.Info().Msg("session connected")
	s.notify()

	var (
		outcome string
		runErr  error
	)
	for {
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			s.log.Info().Msg("quit requested, closing session")
			break
		}

		s.enter(StateAwaitingFrame)
		fr, err := s.readFrame()
		if err != nil {
			outcome, runErr = s.terminate("read", err)
			break
		}
		s.seq++

		s.enter(StateDeciding)
		started := time.Now()
		act, gray, err := s.decide(fr.Payload)
		if err != nil {
			s.dropped++
			observability.RecordFrame("decode_error", fr.Length, 0)
			s.log.Warn().
				Err(err).
				Uint64("seq", s.seq).
				Int("bytes", fr.Length).
				Msg("frame dropped")
			s.enter(StateAwaitingFrame)
			continue
		}
		elapsed := time.Since(started)

		s.enter(StateResponding)
		if err := s.respond(act); err != nil {
			outcome, runErr = s.terminate("write", err)
			break
		}
		s.frames++
		observability.RecordFrame("answered", fr.Length, elapsed)
		s.log.Trace().
			Uint64("seq", s.seq).
			Int("bytes", fr.Length).
			Stringer("action", act).
			Dur("decide", elapsed).
			Msg("frame answered")

		s.publish(FrameEvent{
			SessionID:  s.id,
			Seq:        s.seq,
			Remote:     s.remote,
			ReceivedAt: started,
			Payload:    fr.Payload,
			Image:      gray,
			Action:     act,
		})
	}

	s.enter(StateClosing)
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug().Err(err).Msg("session close")
	}
	observability.RecordSessionEnd(outcome)

	res := Result{
		SessionInfo: s.Info(),
		Outcome:     outcome,
		Err:         runErr,
		ClosedAt:    time.Now(),
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	s.log.Info().
		Str("outcome", outcome).
		Uint64("frames", s.frames).
		Uint64("dropped", s.dropped).
		Dur("duration", res.ClosedAt.Sub(s.connectedAt)).
		Msg("session closed")
	return res
}

func (s *Session) readFrame() (frame.Frame, error) {
	if s.cfg.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.log.Debug().Err(err).Dur("timeout", s.cfg.ReadTimeout).Msg("read deadline not set, reading without timeout")
		}
	}
	return frame.ReadFrame(s.reader, s.cfg.Limits)
}

func (s *Session) decide(payload []byte) (action.Byte, *image.Gray, error) {
	img, err := vision.SafeDecode(s.pipeline.Decoder, payload)
	if err != nil {
		if !errors.Is(err, protocol.ErrDecode) {
			err = fmt.Errorf("%w: %w", protocol.ErrDecode, err)
		}
		return action.None, nil, err
	}
	if img == nil {
		return action.None, nil, fmt.Errorf("%w: decoder returned no image", protocol.ErrDecode)
	}
	gray := vision.ToGray(img)
	act := s.pipeline.Policy.Decide(gray)
	if err := act.Validate(); err != nil {
		s.log.Warn().Err(err).Uint64("seq", s.seq).Msg("policy set reserved bits, clearing")
		act = act.Sanitize()
	}
	return act, gray, nil
}

func (s *Session) respond(act action.Byte) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.log.Debug().Err(err).Dur("timeout", s.cfg.WriteTimeout).Msg("write deadline not set, writing without timeout")
		}
	}
	return action.Write(s.conn, act)
}

// terminate classifies a fatal step error and logs it at the level its kind
// deserves. A clean end of stream returns a nil error.
func (s *Session) terminate(step string, err error) (string, error) {
	kind := protocol.Classify(err)
	switch kind {
	case protocol.KindEOF:
		s.log.Info().Str("step", step).Msg("peer closed stream")
		return string(kind), nil
	case protocol.KindPeerReset:
		s.log.Warn().Str("step", step).Err(err).Msg("peer reset connection")
	default:
		s.log.Error().Str("step", step).Str("kind", string(kind)).Err(err).Msg("session failed")
	}
	return string(kind), err
}

func (s *Session) publish(ev FrameEvent) {
	for _, sink := range s.pipeline.Sinks {
		if err := publishSafe(sink, ev); err != nil {
			observability.RecordSinkError(sink.Name())
			s.log.Warn().Str("sink", sink.Name()).Err(err).Uint64("seq", ev.Seq).Msg("sink publish failed")
		}
	}
}

func publishSafe(sink Sink, ev FrameEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream: sink panic: %v", r)
		}
	}()
	return sink.Publish(ev)
}

func (s *Session) enter(to State) {
	if s.state == to {
		return
	}
	if !canTransition(s.state, to) {
		s.log.Error().Err(transitionError(s.state, to)).Msg("state machine violation")
		return
	}
	s.state = to
	s.notify()
}

// remoteAddr tolerates conns that report no peer address.
func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) notify() {
	if s.observe != nil {
		s.observe(s.Info())
	}
}
