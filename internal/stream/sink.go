package stream

import (
	"image"
	"time"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/action"
)

// FrameEvent describes one answered frame. Payload and Image are owned by the
// session and must not be modified; sinks that keep them past Publish must
// copy.
type FrameEvent struct {
	SessionID  uint64
	Seq        uint64
	Remote     string
	ReceivedAt time.Time
	Payload    []byte
	Image      *image.Gray
	Action     action.Byte
}

// Sink consumes answered frames after the response has been sent. A failing
// sink is logged and skipped; it never affects the session.
type Sink interface {
	Name() string
	Publish(ev FrameEvent) error
}
