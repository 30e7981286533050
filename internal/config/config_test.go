package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kartctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
addr = "0.0.0.0:23456"
max_payload = "2MiB"
read_timeout = "3s"
admin_addr = "127.0.0.1:7070"
cors_origins = [" http://localhost:3000 ", ""]
preview_enabled = true
capture_path = "runs/capture.cbor"
log_level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream.Addr != "0.0.0.0:23456" {
		t.Fatalf("unexpected addr: %q", cfg.Stream.Addr)
	}
	if cfg.Stream.Limits.MaxPayloadBytes != 2<<20 {
		t.Fatalf("unexpected max payload: %d", cfg.Stream.Limits.MaxPayloadBytes)
	}
	if cfg.Stream.ReadTimeout != 3*time.Second || cfg.Stream.WriteTimeout != 0 {
		t.Fatalf("unexpected timeouts: %v %v", cfg.Stream.ReadTimeout, cfg.Stream.WriteTimeout)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins: %+v", cfg.CORSOrigins)
	}
	if !cfg.Preview.Enabled || cfg.Preview.MaxViewers != DefaultConfig().Preview.MaxViewers {
		t.Fatalf("unexpected preview config: %+v", cfg.Preview)
	}
	if cfg.CapturePath != "runs/capture.cbor" {
		t.Fatalf("unexpected capture path: %q", cfg.CapturePath)
	}
	if cfg.Logging.Level != zerolog.DebugLevel {
		t.Fatalf("unexpected log level: %v", cfg.Logging.Level)
	}
	if cfg.Stream.HistoryLimit != DefaultConfig().Stream.HistoryLimit {
		t.Fatalf("undefined keys must keep defaults")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown key":       `colour = "red"`,
		"bad size":          `max_payload = "lots"`,
		"bad duration":      `read_timeout = "soon"`,
		"bad level":         `log_level = "loud"`,
		"missing port":      `addr = "localhost"`,
		"preview no admin":  `preview_enabled = true`,
		"same admin addr":   "addr = \"127.0.0.1:9000\"\nadmin_addr = \"127.0.0.1:9000\"",
		"oversized payload": `max_payload = "1GiB"`,
		"zero history":      `history_limit = 0`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Stream.ReadTimeout = -time.Second
	if err := Validate(cfg); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestTemplateRoundTripsThroughLoad(t *testing.T) {
	tpl, err := Template()
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	for _, key := range []string{"addr = ", "max_payload = ", "8MiB", "# TCP address"} {
		if !strings.Contains(tpl, key) {
			t.Fatalf("template missing %q:\n%s", key, tpl)
		}
	}

	path := filepath.Join(t.TempDir(), "kartctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := DefaultConfig()
	if cfg.Stream.Addr != def.Stream.Addr || cfg.Stream.Limits != def.Stream.Limits {
		t.Fatalf("template must load back to defaults: %+v", cfg.Stream)
	}
	if cfg.Logging.Level != def.Logging.Level {
		t.Fatalf("unexpected level: %v", cfg.Logging.Level)
	}
}
