package emulator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/capture"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/action"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/testutil/testlog"
)

func startStream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := stream.NewServer(stream.DefaultConfig(), stream.Pipeline{}, testlog.Start(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func writePNG(t *testing.T, path string, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return buf.Bytes()
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxAttempts = 2
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.Jitter = false
	return cfg
}

func TestPlayDirectory(t *testing.T) {
	addr := startStream(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), 4, 4)
	writePNG(t, filepath.Join(dir, "001.png"), 8, 8)
	writePNG(t, filepath.Join(dir, "003.PNG"), 2, 2)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	src, err := NewDirSource(dir, false)
	if err != nil {
		t.Fatalf("dir source: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("expected 3 image files, got %d", src.Len())
	}

	client, err := Dial(context.Background(), testConfig(addr), testlog.Start(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	stats, err := client.Play(context.Background(), src, 0)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if stats.Frames != 3 || stats.Actions[action.ButtonA.String()] != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDirSourceOrderAndLoop(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 1, 1)
	writePNG(t, filepath.Join(dir, "a.jpg"), 1, 1)

	src, err := NewDirSource(dir, true)
	if err != nil {
		t.Fatalf("dir source: %v", err)
	}
	want := []string{"a.jpg", "b.png", "a.jpg"}
	for i, name := range want {
		_, got, err := src.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if got != name {
			t.Fatalf("frame %d: got %s want %s", i, got, name)
		}
	}

	if _, err := NewDirSource(t.TempDir(), false); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}

func TestReplayCapture(t *testing.T) {
	addr := startStream(t)
	path := filepath.Join(t.TempDir(), "capture.cbor")
	rec, err := capture.Open(path)
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	payload := writePNG(t, filepath.Join(t.TempDir(), "f.png"), 6, 6)
	for seq := uint64(1); seq <= 2; seq++ {
		ev := stream.FrameEvent{SessionID: 7, Seq: seq, ReceivedAt: time.Now(), Payload: payload, Action: action.ButtonA}
		if err := rec.Publish(ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = rec.Close()

	src, err := NewReplaySource(path, false)
	if err != nil {
		t.Fatalf("replay source: %v", err)
	}
	client, err := Dial(context.Background(), testConfig(addr), testlog.Start(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	stats, err := client.Play(context.Background(), src, time.Millisecond)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if stats.Frames != 2 {
		t.Fatalf("expected 2 replayed frames, got %d", stats.Frames)
	}
	if _, _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after replay, got %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := Dial(context.Background(), testConfig(addr), testlog.Start(t)); err == nil {
		t.Fatalf("expected dial failure")
	}
	if _, err := Dial(context.Background(), Config{}, testlog.Start(t)); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}

	cfg := testConfig(addr)
	cfg.MaxAttempts = 0
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Dial(ctx, cfg, testlog.Start(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}
