// Package policy maps a preprocessed frame to a controller action.
package policy

import (
	"image"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/action"
)

// Policy decides the buttons to hold for one frame. Implementations must be
// safe to call from a single goroutine without external locking and must not
// retain the image.
type Policy interface {
	Decide(frame *image.Gray) action.Byte
}

// Func adapts a function to Policy.
type Func func(frame *image.Gray) action.Byte

func (f Func) Decide(frame *image.Gray) action.Byte { return f(frame) }

// Hold always answers with the same buttons.
type Hold action.Byte

func (h Hold) Decide(*image.Gray) action.Byte { return action.Byte(h) }

// Default presses and holds A, which drives forward.
func Default() Policy {
	return Hold(action.ButtonA)
}
