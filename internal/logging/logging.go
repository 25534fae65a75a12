package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init builds the console logger used by the command line tools and makes
// it the global zerolog logger.
func Init(app string, debug bool) zerolog.Logger {
	return initWriter(os.Stderr, app, debug)
}

func initWriter(out io.Writer, app string, debug bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.TimeOnly,
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// MessageFunc adapts a logger to the adapter OnMessage callback.
func MessageFunc(l zerolog.Logger) func(string) {
	return func(msg string) {
		l.Debug().Msg(msg)
	}
}

// ErrorFunc adapts a logger to the adapter OnError callback.
func ErrorFunc(l zerolog.Logger) func(error) {
	return func(err error) {
		l.Warn().Err(err).Msg("adapter")
	}
}
