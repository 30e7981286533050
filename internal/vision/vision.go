// Package vision decodes captured emulator frames and prepares them for a
// decision policy.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	// Registered formats accepted from the capture script.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol"
)

// Decoder turns a compressed image payload into pixels. Failures wrap
// protocol.ErrDecode.
type Decoder interface {
	Decode(payload []byte) (image.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(payload []byte) (image.Image, error)

func (f DecoderFunc) Decode(payload []byte) (image.Image, error) { return f(payload) }

// StdDecoder decodes PNG, JPEG and GIF payloads. MaxPixels bounds the decoded
// size checked from the image header before full decode; zero disables it.
type StdDecoder struct {
	MaxPixels int
}

func (d StdDecoder) Decode(payload []byte) (image.Image, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", protocol.ErrDecode)
	}
	if d.MaxPixels > 0 {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, err)
		}
		if cfg.Width*cfg.Height > d.MaxPixels {
			return nil, fmt.Errorf("%w: %s %dx%d exceeds %d pixels", protocol.ErrDecode, format, cfg.Width, cfg.Height, d.MaxPixels)
		}
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, err)
	}
	return img, nil
}

// SafeDecode calls d and converts a panic into a decode error so a hostile
// payload cannot take the process down.
func SafeDecode(d Decoder, payload []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%w: decoder panic: %v", protocol.ErrDecode, r)
		}
	}()
	return d.Decode(payload)
}

// ToGray converts img to 8-bit luma. A *image.Gray input is returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
