package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel names the variable that overrides the configured level.
const EnvLevel = "SKUSCAN_LOG_LEVEL"

// Init initializes the global logger. level is used unless SKUSCAN_LOG_LEVEL is set:
// debug, info, warn, error (default: info). A nil w discards all output.
func Init(level string, w io.Writer) {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	zerolog.SetGlobalLevel(ParseLevel(level))

	if w == nil {
		log.Logger = zerolog.New(io.Discard)
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !isTerminal(w)}).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, falling back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
