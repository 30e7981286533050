package action

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol"
)

// Byte is the one-byte controller response. Bits are numbered from the MSB:
// bit 0 is the A button, bit 1 is left, bit 2 is right, bits 3-7 are reserved
// and must be zero on the wire.
type Byte uint8

const (
	ButtonA     Byte = 1 << 7
	ButtonLeft  Byte = 1 << 6
	ButtonRight Byte = 1 << 5

	ReservedMask Byte = 0x1f
	None         Byte = 0
)

var ErrReservedBits = errors.New("action: reserved bits set")

// Buttons is the boolean form of a Byte.
type Buttons struct {
	A     bool
	Left  bool
	Right bool
}

func Pack(b Buttons) Byte {
	var out Byte
	if b.A {
		out |= ButtonA
	}
	if b.Left {
		out |= ButtonLeft
	}
	if b.Right {
		out |= ButtonRight
	}
	return out
}

func (b Byte) Buttons() Buttons {
	return Buttons{
		A:     b&ButtonA != 0,
		Left:  b&ButtonLeft != 0,
		Right: b&ButtonRight != 0,
	}
}

func (b Byte) Validate() error {
	if b&ReservedMask != 0 {
		return fmt.Errorf("%w: 0b%08b", ErrReservedBits, uint8(b))
	}
	return nil
}

// Sanitize clears the reserved bits.
func (b Byte) Sanitize() Byte {
	return b &^ ReservedMask
}

func (b Byte) String() string {
	parts := make([]string, 0, 4)
	if b&ButtonA != 0 {
		parts = append(parts, "A")
	}
	if b&ButtonLeft != 0 {
		parts = append(parts, "LEFT")
	}
	if b&ButtonRight != 0 {
		parts = append(parts, "RIGHT")
	}
	if b&ReservedMask != 0 {
		parts = append(parts, fmt.Sprintf("RESERVED(0x%02x)", uint8(b&ReservedMask)))
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Encode returns the wire form of b.
func Encode(b Byte) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return []byte{byte(b)}, nil
}

// Write sends b as exactly one byte, retrying short writes. Every failure
// wraps protocol.ErrSend.
func Write(w io.Writer, b Byte) error {
	buf, err := Encode(b)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSend, err)
	}
	for written := 0; written < len(buf); {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrSend, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %w", protocol.ErrSend, io.ErrShortWrite)
		}
	}
	return nil
}

// Read reads one action byte. Used by the emulator-side test client.
func Read(r io.Reader) (Byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return None, err
	}
	return Byte(buf[0]), nil
}
