package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/units"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/logging"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/preview"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/protocol/frame"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved kartctl configuration.
type Config struct {
	Stream      stream.Config
	AdminAddr   string
	CORSOrigins []string
	Preview     preview.Config
	CapturePath string
	MaxPixels   int
	Logging     logging.Config
}

func DefaultConfig() Config {
	return Config{
		Stream:      stream.DefaultConfig(),
		CORSOrigins: []string{},
		Preview:     preview.DefaultConfig(),
		MaxPixels:   0,
		Logging:     logging.DefaultConfig(logging.ProfileRuntime),
	}
}

// fileConfig is the on-disk shape. Sizes and durations stay strings so they
// can be written as "8MiB" and "2s".
type fileConfig struct {
	Addr              string   `toml:"addr" comment:"TCP address the emulator capture script connects to"`
	MaxPayload        string   `toml:"max_payload" comment:"largest accepted image payload"`
	ReadTimeout       string   `toml:"read_timeout" comment:"per-frame read timeout; 0s waits forever"`
	WriteTimeout      string   `toml:"write_timeout" comment:"per-response write timeout; 0s waits forever"`
	HistoryLimit      int      `toml:"history_limit" comment:"finished sessions kept for /sessions"`
	MaxPixels         int      `toml:"max_pixels" comment:"reject images above this many pixels; 0 disables the check"`
	AdminAddr         string   `toml:"admin_addr" comment:"admin HTTP address; empty disables it"`
	CORSOrigins       []string `toml:"cors_origins"`
	PreviewEnabled    bool     `toml:"preview_enabled" comment:"stream answered frames to /preview (needs admin_addr)"`
	PreviewMaxViewers int      `toml:"preview_max_viewers"`
	PreviewEvery      int      `toml:"preview_every" comment:"send one frame in N to viewers"`
	CapturePath       string   `toml:"capture_path" comment:"append answered frames to this CBOR file; empty disables capture"`
	LogLevel          string   `toml:"log_level"`
	LogFile           string   `toml:"log_file"`
	LogJSON           bool     `toml:"log_json"`
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		Addr:              cfg.Stream.Addr,
		MaxPayload:        units.Base2Bytes(cfg.Stream.Limits.MaxPayloadBytes).String(),
		ReadTimeout:       cfg.Stream.ReadTimeout.String(),
		WriteTimeout:      cfg.Stream.WriteTimeout.String(),
		HistoryLimit:      cfg.Stream.HistoryLimit,
		MaxPixels:         cfg.MaxPixels,
		AdminAddr:         cfg.AdminAddr,
		CORSOrigins:       append([]string{}, cfg.CORSOrigins...),
		PreviewEnabled:    cfg.Preview.Enabled,
		PreviewMaxViewers: cfg.Preview.MaxViewers,
		PreviewEvery:      cfg.Preview.Every,
		CapturePath:       cfg.CapturePath,
		LogLevel:          cfg.Logging.Level.String(),
		LogFile:           cfg.Logging.File,
		LogJSON:           cfg.Logging.JSON,
	}
}

// Load overlays the keys present in path onto DefaultConfig and validates
// the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load kartctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Stream.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("max_payload") {
		n, err := units.ParseStrictBytes(strings.TrimSpace(raw.MaxPayload))
		if err != nil {
			return Config{}, fmt.Errorf("parse max_payload: %w", err)
		}
		cfg.Stream.Limits.MaxPayloadBytes = int(n)
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.Stream.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Stream.WriteTimeout = d
	}
	if meta.IsDefined("history_limit") {
		cfg.Stream.HistoryLimit = raw.HistoryLimit
	}
	if meta.IsDefined("max_pixels") {
		cfg.MaxPixels = raw.MaxPixels
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("preview_enabled") {
		cfg.Preview.Enabled = raw.PreviewEnabled
	}
	if meta.IsDefined("preview_max_viewers") {
		cfg.Preview.MaxViewers = raw.PreviewMaxViewers
	}
	if meta.IsDefined("preview_every") {
		cfg.Preview.Every = raw.PreviewEvery
	}
	if meta.IsDefined("capture_path") {
		cfg.CapturePath = strings.TrimSpace(raw.CapturePath)
	}
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("%w: unknown log_level %q", ErrInvalid, raw.LogLevel)
		}
		cfg.Logging.Level = lvl
	}
	if meta.IsDefined("log_file") {
		cfg.Logging.File = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("log_json") {
		cfg.Logging.JSON = raw.LogJSON
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := validateAddr("addr", cfg.Stream.Addr); err != nil {
		return err
	}
	if n := cfg.Stream.Limits.MaxPayloadBytes; n <= 0 || n > frame.MaxDeclaredLen {
		return fmt.Errorf("%w: max_payload must be between 1B and %d bytes", ErrInvalid, frame.MaxDeclaredLen)
	}
	if cfg.Stream.ReadTimeout < 0 || cfg.Stream.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalid)
	}
	if cfg.Stream.HistoryLimit <= 0 {
		return fmt.Errorf("%w: history_limit must be positive", ErrInvalid)
	}
	if cfg.MaxPixels < 0 {
		return fmt.Errorf("%w: max_pixels must not be negative", ErrInvalid)
	}
	if cfg.Preview.MaxViewers <= 0 {
		return fmt.Errorf("%w: preview_max_viewers must be positive", ErrInvalid)
	}
	if cfg.Preview.Every < 0 {
		return fmt.Errorf("%w: preview_every must not be negative", ErrInvalid)
	}
	if cfg.AdminAddr != "" {
		if err := validateAddr("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
		if cfg.AdminAddr == cfg.Stream.Addr {
			return fmt.Errorf("%w: admin_addr must differ from addr", ErrInvalid)
		}
	}
	if cfg.Preview.Enabled && cfg.AdminAddr == "" {
		return fmt.Errorf("%w: preview_enabled requires admin_addr", ErrInvalid)
	}
	return nil
}

func validateAddr(key, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
