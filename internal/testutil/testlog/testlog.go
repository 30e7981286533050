package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Start returns a debug logger that writes through t, so output only shows
// for failing or verbose runs.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().Str("test", t.Name()).Logger()
	logger.Info().Msg("test start")
	return logger
}
