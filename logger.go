package appboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogSink is implemented by services that receive application log messages.
// Register a sink under this type, e.g. through its Hierarchy, to have Log
// forward to it.
type LogSink interface {
	Log(ts time.Time, level zerolog.Level, message string)
}

// Log formats message with args and forwards it to the registered LogSink.
// Messages are dropped when the application isn't running or no sink has
// been registered; logging never fails the caller.
//
// The sink is started on first use. Code running inside OnStart must pass its
// own ctx: when the sink depends on that service, a fresh context hides the
// cycle and Log blocks forever.
func (a *Application) Log(ctx context.Context, ts time.Time, level zerolog.Level, message string, args ...any) {
	if !a.IsRunning() {
		return
	}

	svc, err := a.Service(ctx, TypeOf[LogSink](), false)
	if err != nil {
		log := a.Logger()
		log.Debug().Err(err).Msg("log sink unavailable, dropped message")

		return
	}

	sink, ok := svc.(LogSink)
	if !ok {
		return
	}

	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}

	sink.Log(ts, level, message)
}

// newLogger returns a new zerolog logger.
//
// By default returns a production logger, to log on DEBUG level set env var LOG_DEBUG=true.
func newLogger() zerolog.Logger {
	// use env var instead of properties because none are loaded at startup
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	debug, ok := os.LookupEnv("LOG_DEBUG")

	if ok && (debug == "true" || debug == "1") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
