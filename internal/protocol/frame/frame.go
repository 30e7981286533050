package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol"
)

// HeaderLen is the width of the ASCII decimal length prefix.
const HeaderLen = 9

// MaxDeclaredLen is the largest length a 9-digit header can carry.
const MaxDeclaredLen = 999_999_999

var (
	ErrInvalidHeader   = fmt.Errorf("%w: header is not a 9-byte decimal length", protocol.ErrProtocol)
	ErrPayloadTooLarge = fmt.Errorf("%w: declared payload exceeds limit", protocol.ErrProtocol)
	ErrShortHeader     = fmt.Errorf("%w: stream closed inside length header", protocol.ErrTruncatedFrame)
	ErrShortPayload    = fmt.Errorf("%w: stream closed inside payload", protocol.ErrTruncatedFrame)
)

// Frame is one complete wire message. len(Payload) == Length always holds for
// a Frame returned by ReadFrame.
type Frame struct {
	Length  int
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

func (l Limits) maxPayload() int {
	if l.MaxPayloadBytes <= 0 || l.MaxPayloadBytes > MaxDeclaredLen {
		return MaxDeclaredLen
	}
	return l.MaxPayloadBytes
}

// ReadFrame reads one header and its payload from r.
//
// A stream that ends before any header byte returns io.EOF unwrapped, which
// callers treat as a clean end of session. A stream that ends after some but
// not all bytes of a frame returns an error wrapping protocol.ErrTruncatedFrame.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case err == io.EOF:
			return Frame{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, ErrShortHeader
		default:
			return Frame{}, fmt.Errorf("frame: read header: %w", err)
		}
	}

	n, err := ParseHeader(header[:])
	if err != nil {
		return Frame{}, err
	}
	if n > limits.maxPayload() {
		return Frame{}, fmt.Errorf("%w: declared=%d limit=%d", ErrPayloadTooLarge, n, limits.maxPayload())
	}

	payload := make([]byte, n)
	if n > 0 {
		got, err := io.ReadFull(r, payload)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, fmt.Errorf("%w: got=%d want=%d", ErrShortPayload, got, n)
			}
			return Frame{}, fmt.Errorf("frame: read payload: %w", err)
		}
	}
	return Frame{Length: n, Payload: payload}, nil
}

// WriteFrame writes header(len(payload)) followed by payload.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if len(payload) > limits.maxPayload() {
		return ErrPayloadTooLarge
	}
	hb, err := EncodeHeader(len(payload))
	if err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// EncodeHeader renders n as a zero-padded 9-byte decimal header.
func EncodeHeader(n int) ([]byte, error) {
	if n < 0 || n > MaxDeclaredLen {
		return nil, fmt.Errorf("%w: length %d out of range", ErrInvalidHeader, n)
	}
	return []byte(fmt.Sprintf("%0*d", HeaderLen, n)), nil
}

// ParseHeader parses a 9-byte length header.
//
// The value is right-aligned and left-padded with '0' or ' '. Trailing spaces
// are tolerated so a left-aligned sender still parses. Signs, interior
// spaces and any other byte are rejected.
func ParseHeader(b []byte) (int, error) {
	if len(b) != HeaderLen {
		return 0, fmt.Errorf("%w: got %d bytes", ErrInvalidHeader, len(b))
	}
	start, end := 0, len(b)
	for start < end && b[start] == ' ' {
		start++
	}
	for end > start && b[end-1] == ' ' {
		end--
	}
	if start == end {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHeader, b)
	}
	for _, c := range b[start:end] {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHeader, b)
		}
	}
	n, err := strconv.Atoi(string(b[start:end]))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHeader, b)
	}
	return n, nil
}
