// Package logboot provides a LogSink service writing application log
// messages with zerolog.
package logboot

import (
	"context"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/nielskrijger/appboot"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	PropLevel = "log.level"
	PropHuman = "log.human"
)

// Console is registered as the application LogSink, e.g. from a BeforeStart
// hook:
//
//	app.Register(&logboot.Console{}, true)
//
// Set property "log.human" to write colored, human-friendly lines instead of
// JSON.
type Console struct {
	appboot.BaseService

	// Out defaults to stdout.
	Out io.Writer

	log zerolog.Logger
}

func (c *Console) Name() string {
	return "console log"
}

func (c *Console) Hierarchy() []reflect.Type {
	return []reflect.Type{appboot.TypeOf[appboot.LogSink]()}
}

func (c *Console) DefaultProperties() map[string]string {
	return map[string]string{
		PropLevel: "info",
		PropHuman: "false",
	}
}

func (c *Console) OnStart(context.Context) error {
	app := c.App()

	levelName, err := app.GetProperty(PropLevel, "info")
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return errors.Wrapf(err, "invalid property %q", PropLevel)
	}

	human, err := appboot.Property(app, PropHuman, false)
	if err != nil {
		return err
	}

	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	if human {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	c.log = zerolog.New(out).Level(level).With().
		Str("app", app.Name()).
		Str("run", app.RunID()).
		Logger()

	return nil
}

func (c *Console) OnStop() error {
	return nil
}

// Log implements appboot.LogSink.
func (c *Console) Log(ts time.Time, level zerolog.Level, message string) {
	c.log.WithLevel(level).Time(zerolog.TimestampFieldName, ts).Msg(message)
}
