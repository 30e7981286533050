// Package capture records answered frames to a CBOR file and reads them back.
//
// A capture file is a plain concatenation of CBOR-encoded Records, one per
// answered frame, in the order the session answered them. Files are opened
// for append so several runs can share one capture.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/action"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
)

var (
	ErrClosed  = errors.New("capture: recorder closed")
	ErrCorrupt = errors.New("capture: corrupt record")
)

// Record is one answered frame as stored on disk.
type Record struct {
	SessionID    uint64 `cbor:"1,keyasint"`
	Seq          uint64 `cbor:"2,keyasint"`
	ReceivedAtUS int64  `cbor:"3,keyasint"`
	Remote       string `cbor:"4,keyasint,omitempty"`
	Payload      []byte `cbor:"5,keyasint"`
	Action       uint8  `cbor:"6,keyasint"`
}

func (r Record) ReceivedAt() time.Time {
	return time.UnixMicro(r.ReceivedAtUS)
}

func (r Record) ActionByte() action.Byte {
	return action.Byte(r.Action)
}

// FromEvent copies ev into a Record.
func FromEvent(ev stream.FrameEvent) Record {
	payload := make([]byte, len(ev.Payload))
	copy(payload, ev.Payload)
	return Record{
		SessionID:    ev.SessionID,
		Seq:          ev.Seq,
		ReceivedAtUS: ev.ReceivedAt.UnixMicro(),
		Remote:       ev.Remote,
		Payload:      payload,
		Action:       uint8(ev.Action),
	}
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Recorder is a stream.Sink that appends a Record per frame.
type Recorder struct {
	path string

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *cbor.Encoder
	count  uint64
	closed bool
}

var _ stream.Sink = (*Recorder)(nil)

// Open creates path and any missing parent directories.
func Open(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("capture: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	buf := bufio.NewWriterSize(f, 256*1024)
	return &Recorder{
		path: path,
		file: f,
		buf:  buf,
		enc:  encMode.NewEncoder(buf),
	}, nil
}

func (r *Recorder) Name() string {
	return "capture"
}

func (r *Recorder) Path() string {
	return r.path
}

// Count reports records written since Open.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Publish writes and flushes one record so a crash loses at most the frame
// in flight.
func (r *Recorder) Publish(ev stream.FrameEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.enc.Encode(FromEvent(ev)); err != nil {
		return fmt.Errorf("capture: encode: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("capture: flush: %w", err)
	}
	r.count++
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	flushErr := r.buf.Flush()
	closeErr := r.file.Close()
	if flushErr != nil {
		return fmt.Errorf("capture: flush: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("capture: close: %w", closeErr)
	}
	return nil
}

// Reader decodes records in file order.
type Reader struct {
	dec *cbor.Decoder
	n   int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
}

// Next returns the next record, or io.EOF after the last complete one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: record %d: %w", ErrCorrupt, r.n, err)
	}
	r.n++
	return rec, nil
}

// ReadFile loads every record in path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	defer f.Close()

	rd := NewReader(f)
	out := make([]Record, 0)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
