package protocol

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrProtocol       = errors.New("protocol: malformed frame header")
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
	ErrDecode         = errors.New("protocol: frame decode failed")
	ErrSend           = errors.New("protocol: action send failed")
	ErrPeerReset      = errors.New("protocol: peer reset connection")
)

// Kind classifies an error for session termination and metrics labels.
type Kind string

const (
	KindNone      Kind = "none"
	KindEOF       Kind = "eof"
	KindProtocol  Kind = "protocol"
	KindTruncated Kind = "truncated"
	KindDecode    Kind = "decode"
	KindSend      Kind = "send"
	KindPeerReset Kind = "peer_reset"
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
)

// Fatal reports whether a kind ends the session. Only decode failures and
// the absence of an error keep it alive.
func (k Kind) Fatal() bool {
	return k != KindNone && k != KindDecode
}

// Classify maps err onto the bridge error taxonomy. Peer resets win over the
// step that observed them, so a reset during a payload read is a reset, not a
// truncation.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case IsPeerReset(err):
		return KindPeerReset
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrTruncatedFrame):
		return KindTruncated
	case errors.Is(err, ErrDecode):
		return KindDecode
	case isTimeout(err):
		return KindTimeout
	case errors.Is(err, ErrSend):
		return KindSend
	case errors.Is(err, io.EOF):
		return KindEOF
	default:
		return KindTransport
	}
}

// IsPeerReset reports whether err is an abrupt transport-level disconnect:
// connection reset, connection aborted, or a broken pipe on write.
func IsPeerReset(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPeerReset) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
