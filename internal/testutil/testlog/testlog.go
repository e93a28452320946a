package testlog

import (
	"testing"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}

// Logf writes a debug trace line for test narration.
func Logf(format string, args ...any) {
	log.Debug().Msgf(format, args...)
}
