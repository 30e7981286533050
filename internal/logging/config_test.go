package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:     "warning",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "1",
		EnvLogJSON:      "nope",
	}
	cfg := DefaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg, func(k string) string { return env[k] })
	if cfg.Level != zerolog.WarnLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if !cfg.NoColor {
		t.Fatalf("expected no color")
	}
	if cfg.JSON {
		t.Fatalf("invalid bool must not override json")
	}
}

func TestParseLevel(t *testing.T) {
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("empty level should not override")
	}
	if lvl, ok := ParseLevel(" OFF "); !ok || lvl != zerolog.Disabled {
		t.Fatalf("unexpected off level: %v %v", lvl, ok)
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("unknown level should not override")
	}
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream_log.log")
	var console bytes.Buffer
	cfg := DefaultConfig(ProfileTest)
	cfg.File = path
	logger, closer, err := New("kartctl", cfg, &console)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Str("remote", "127.0.0.1:5000").Msg("connection accepted")
	logger.Trace().Msg("below level")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "connection accepted") {
		t.Fatalf("console missing line: %q", console.String())
	}
	if strings.Contains(console.String(), "below level") {
		t.Fatalf("trace line should be filtered: %q", console.String())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"remote":"127.0.0.1:5000"`) || !strings.Contains(string(raw), `"app":"kartctl"`) {
		t.Fatalf("file missing structured fields: %s", raw)
	}
}

func TestNewMicrosecondTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream_log.log")
	var console bytes.Buffer
	cfg := Config{Level: zerolog.InfoLevel, Timestamp: true, NoColor: true, File: path}
	logger, closer, err := New("kartctl", cfg, &console)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	for i := 0; i < 5; i++ {
		logger.Info().Int("frame", i).Msg("frame answered")
		time.Sleep(time.Millisecond)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	fileLines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	consoleLines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(fileLines) != 5 || len(consoleLines) != 5 {
		t.Fatalf("expected 5 lines each, file=%d console=%d", len(fileLines), len(consoleLines))
	}

	clock := regexp.MustCompile(`\d{2}:\d{2}:\d{2}\.(\d{6})`)
	allZero := true
	for i, line := range fileLines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("file line %d is not json: %v", i, err)
		}
		stamp, _ := entry[zerolog.TimestampFieldName].(string)
		if _, err := time.Parse(time.RFC3339Nano, stamp); err != nil {
			t.Fatalf("file line %d: bad time %q: %v", i, stamp, err)
		}
		m := clock.FindStringSubmatch(stamp)
		if m == nil {
			t.Fatalf("file line %d: time %q lacks microseconds", i, stamp)
		}
		if m[1] != "000000" {
			allZero = false
		}
		if !strings.Contains(consoleLines[i], m[0]) {
			t.Fatalf("console line %d %q does not show %s", i, consoleLines[i], m[0])
		}
	}
	if allZero {
		t.Fatalf("sub-second digits are always zero: %v", fileLines)
	}
}

func TestNewBadFile(t *testing.T) {
	cfg := DefaultConfig(ProfileTest)
	cfg.File = filepath.Join(t.TempDir(), "missing", "x.log")
	if _, closer, err := New("kartctl", cfg, &bytes.Buffer{}); err == nil || closer == nil {
		t.Fatalf("expected open error with non-nil closer, err=%v", err)
	}
}
