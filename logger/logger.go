package logger

import (
	"io"
	"os"

	"github.com/fetchgate/gateway/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger.
func New(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	lvl := zerolog.InfoLevel
	if cfg.Env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Logger()
}
