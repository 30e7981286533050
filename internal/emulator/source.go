package emulator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/capture"
)

var ErrNoFrames = errors.New("emulator: no frames found")

// Source yields frame payloads in send order and io.EOF when exhausted.
// name identifies the frame in logs.
type Source interface {
	Next() (payload []byte, name string, err error)
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// DirSource sends the image files of one directory in lexical order.
type DirSource struct {
	files []string
	pos   int
	loop  bool
}

func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("emulator: read dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(files)
	return &DirSource{files: files, loop: loop}, nil
}

func (s *DirSource) Len() int {
	return len(s.files)
}

func (s *DirSource) Next() ([]byte, string, error) {
	if s.pos >= len(s.files) {
		if !s.loop {
			return nil, "", io.EOF
		}
		s.pos = 0
	}
	path := s.files[s.pos]
	s.pos++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("emulator: read frame: %w", err)
	}
	return data, filepath.Base(path), nil
}

// ReplaySource resends the payloads of a capture file.
type ReplaySource struct {
	records []capture.Record
	pos     int
	loop    bool
}

func NewReplaySource(path string, loop bool) (*ReplaySource, error) {
	records, err := capture.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, path)
	}
	return &ReplaySource{records: records, loop: loop}, nil
}

func (s *ReplaySource) Len() int {
	return len(s.records)
}

func (s *ReplaySource) Next() ([]byte, string, error) {
	if s.pos >= len(s.records) {
		if !s.loop {
			return nil, "", io.EOF
		}
		s.pos = 0
	}
	rec := s.records[s.pos]
	s.pos++
	return rec.Payload, fmt.Sprintf("s%d/%d", rec.SessionID, rec.Seq), nil
}
