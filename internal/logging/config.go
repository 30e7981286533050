package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "KARTCTL_LOG_LEVEL"
	EnvLogTimestamp = "KARTCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "KARTCTL_LOG_NOCOLOR"
	EnvLogJSON      = "KARTCTL_LOG_JSON"

	// TimeFormat keeps microseconds, matching the capture script's log lines.
	TimeFormat = "2006-01-02 15:04:05.000000"
	// StampFormat is the RFC 3339 form written into the time field. It always
	// carries six fractional digits so the console can render TimeFormat.
	StampFormat = "2006-01-02T15:04:05.000000Z07:00"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects logger output. File, when set, receives a copy of every
// line as JSON in addition to the console.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	File      string
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// New builds a logger for app. The returned closer releases the log file and
// is never nil.
func New(app string, cfg Config, console io.Writer) (zerolog.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stdout
	}
	var out io.Writer = console
	if !cfg.JSON {
		cw := zerolog.ConsoleWriter{
			Out:        console,
			NoColor:    cfg.NoColor,
			TimeFormat: TimeFormat,
		}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}

	stamp := cfg.Timestamp || cfg.JSON
	closer := io.Closer(nopCloser{})
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("logging: open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
		stamp = true
	}

	logger := zerolog.New(out).Level(cfg.Level).With().Str("app", app).Logger()
	if stamp {
		logger = logger.Hook(microStamp)
	}
	return logger, closer, nil
}

// microStamp stamps each event itself rather than through
// zerolog.TimeFieldFormat, which is process-global and defaults to seconds.
var microStamp = zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str(zerolog.TimestampFieldName, time.Now().Format(StampFormat))
})

// ApplyEnv overlays KARTCTL_LOG_* variables onto cfg.
func ApplyEnv(cfg *Config) {
	applyEnvOverrides(cfg, os.Getenv)
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
