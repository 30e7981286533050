// Package preview streams answered frames to browser viewers over WebSocket.
// It stands in for a local display window: each viewer receives the
// grayscale frame the policy saw, PNG encoded, as one binary message.
package preview

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 2
)

var ErrClosed = errors.New("preview: hub closed")

// Config holds options for the preview hub.
type Config struct {
	Enabled    bool
	MaxViewers int
	// Every publishes one frame in N to viewers; 0 or 1 publishes all.
	Every int
}

func DefaultConfig() Config {
	return Config{Enabled: false, MaxViewers: 4, Every: 1}
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans frames out to connected viewers without ever blocking the
// publisher: a slow viewer misses frames instead of delaying the session.
type Hub struct {
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
	limit    *semaphore.Weighted
	encoder  png.Encoder

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	latest  *image.Gray
	count   uint64
	closed  bool
}

var _ stream.Sink = (*Hub)(nil)

func NewHub(cfg Config, log zerolog.Logger) *Hub {
	if cfg.MaxViewers <= 0 {
		cfg.MaxViewers = DefaultConfig().MaxViewers
	}
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	return &Hub{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		limit:   semaphore.NewWeighted(int64(cfg.MaxViewers)),
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
		viewers: make(map[*viewer]struct{}),
	}
}

// SetCheckOrigin replaces the upgrader's origin policy.
func (h *Hub) SetCheckOrigin(fn func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = fn
}

func (h *Hub) Name() string {
	return "preview"
}

// Publish keeps a copy of the frame as the latest image and, when viewers
// are connected, encodes it once and queues it for each of them.
func (h *Hub) Publish(ev stream.FrameEvent) error {
	if ev.Image == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.count++
	h.latest = cloneGray(ev.Image, h.latest)
	due := h.count%uint64(h.cfg.Every) == 0 && len(h.viewers) > 0
	h.mu.Unlock()
	if !due {
		return nil
	}

	msg, err := h.encode(ev.Image)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		select {
		case v.send <- msg:
		default:
		}
	}
	return nil
}

// LatestPNG encodes the most recent frame.
func (h *Hub) LatestPNG() ([]byte, bool) {
	h.mu.Lock()
	latest := h.latest
	if latest != nil {
		latest = cloneGray(latest, nil)
	}
	h.mu.Unlock()
	if latest == nil {
		return nil, false
	}
	out, err := h.encode(latest)
	if err != nil {
		return nil, false
	}
	return out, true
}

func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// ServeHTTP upgrades a viewer connection and holds it until either side
// closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limit.TryAcquire(1) {
		http.Error(w, "too many preview viewers", http.StatusServiceUnavailable)
		return
	}
	defer h.limit.Release(1)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("preview upgrade failed")
		return
	}
	v := &viewer{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(v) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.log.Info().Str("remote", r.RemoteAddr).Int("viewers", h.Viewers()).Msg("preview viewer connected")

	go h.readLoop(v)
	h.writeLoop(v)

	h.remove(v)
	_ = conn.Close()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("preview viewer disconnected")
}

// Close disconnects every viewer and rejects further publishes.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for v := range h.viewers {
		close(v.send)
		delete(h.viewers, v)
	}
	return nil
}

func (h *Hub) add(v *viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.viewers[v] = struct{}{}
	return true
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.send)
	}
}

// readLoop discards viewer input; its only job is noticing the close.
func (h *Hub) readLoop(v *viewer) {
	for {
		if _, _, err := v.conn.NextReader(); err != nil {
			h.remove(v)
			return
		}
	}
}

func (h *Hub) writeLoop(v *viewer) {
	for msg := range v.send {
		_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			h.log.Debug().Err(err).Msg("preview write failed")
			return
		}
	}
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) encode(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cloneGray copies src, reusing dst's pixel buffer when the size matches.
func cloneGray(src, dst *image.Gray) *image.Gray {
	b := src.Bounds()
	if dst == nil || dst.Bounds() != b {
		dst = image.NewGray(b)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		copy(dst.Pix[dst.PixOffset(b.Min.X, y):dst.PixOffset(b.Max.X, y)], src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
	}
	return dst
}
