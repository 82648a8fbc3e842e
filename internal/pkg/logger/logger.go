package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	appCtx "github.com/slotbook/slotbook/internal/pkg/context"
)

// Logger is the process-wide logger. Init reconfigures it from the
// environment; the default keeps packages usable before Init runs
// (tests, tooling).
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init initializes the global logger from LOG_LEVEL / LOG_FORMAT.
func Init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	if os.Getenv("LOG_FORMAT") == "console" {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
			Timestamp().
			Logger().
			Level(logLevel)
	} else {
		Logger = zerolog.New(os.Stdout).With().
			Timestamp().
			Logger().
			Level(logLevel)
	}
}

// WithCtx returns the global logger enriched with the request id from
// ctx, when present.
func WithCtx(ctx context.Context) zerolog.Logger {
	if rid := appCtx.GetRequestID(ctx); rid != "" {
		return Logger.With().Str("request_id", rid).Logger()
	}
	return Logger
}
