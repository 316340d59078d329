// Package telemetry wires structured logging and the optional Sentry
// error-reporting integration.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"goauthentik.io/router/internal/config"
	"goauthentik.io/router/internal/constants"
)

const flushTimeout = 2 * time.Second

// Init builds the process logger (text in debug, JSON otherwise) and, when
// error reporting is enabled, initializes Sentry. The returned function
// flushes pending events and must run before exit.
func Init(cfg *config.Settings) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.Debug {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	flush := func() {}
	if cfg.ErrorReporting.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.ErrorReporting.SentryDSN,
			Release:          fmt.Sprintf("authentik@%s", constants.Version),
			Environment:      cfg.ErrorReporting.Environment,
			TracesSampleRate: cfg.ErrorReporting.SampleRate,
			SendDefaultPII:   cfg.ErrorReporting.SendPII,
			AttachStacktrace: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: init sentry: %w", err)
		}
		flush = func() {
			sentry.Flush(flushTimeout)
		}
	}

	return logger, flush, nil
}
