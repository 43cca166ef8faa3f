package appboot

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Hooks are called by the application around its own start and stop phases.
// All hooks are optional.
type Hooks struct {
	// BeforeStart runs after the properties are loaded and before the
	// application is running. Register explicit service instances here.
	BeforeStart func(app *Application) error

	// OnStart runs once the application is running and published as the
	// current application.
	OnStart func(app *Application) error

	// OnStartError is called with any error that aborted Start.
	OnStartError func(app *Application, err error)

	BeforeStop func(app *Application) error
	OnStop     func(app *Application) error

	// AfterStop runs after all services have been stopped.
	AfterStop func(app *Application)

	// OnStopError is called when BeforeStop or OnStop failed.
	OnStopError func(app *Application, err error)
}

func (h Hooks) beforeStart(app *Application) error {
	if h.BeforeStart == nil {
		return nil
	}

	return errors.Wrap(h.BeforeStart(app), "before start")
}

func (h Hooks) onStart(app *Application) error {
	if h.OnStart == nil {
		return nil
	}

	return errors.Wrap(h.OnStart(app), "on start")
}

func (h Hooks) onStartError(app *Application, err error) {
	if h.OnStartError != nil {
		h.OnStartError(app, err)
	}
}

func (h Hooks) beforeStop(app *Application) error {
	if h.BeforeStop == nil {
		return nil
	}

	return errors.Wrap(h.BeforeStop(app), "before stop")
}

func (h Hooks) onStop(app *Application) error {
	if h.OnStop == nil {
		return nil
	}

	return errors.Wrap(h.OnStop(app), "on stop")
}

func (h Hooks) afterStop(app *Application) {
	if h.AfterStop != nil {
		h.AfterStop(app)
	}
}

func (h Hooks) onStopError(app *Application, err error) {
	if h.OnStopError != nil {
		h.OnStopError(app, err)
	}
}

type Option func(*Application)

// WithPropertiesFile loads the application properties from an ini file when
// it exists, or creates it with the default properties when it doesn't.
func WithPropertiesFile(path string) Option {
	return func(app *Application) {
		app.propertiesFile = path
	}
}

// WithEnvPrefix lets environment variables {PREFIX}_{GROUP}_{KEY} override
// properties loaded from the properties file.
func WithEnvPrefix(prefix string) Option {
	return func(app *Application) {
		app.envPrefix = prefix
	}
}

// WithDefaults adds application default properties. Defaults never override
// configured properties.
func WithDefaults(defaults map[string]string) Option {
	return func(app *Application) {
		for k, v := range defaults {
			app.defaults[k] = v
		}
	}
}

// WithLogger replaces the default stdout logger.
func WithLogger(log zerolog.Logger) Option {
	return func(app *Application) {
		app.baseLog = log
	}
}

// WithHooks sets the application hooks.
func WithHooks(hooks Hooks) Option {
	return func(app *Application) {
		app.hooks = hooks
	}
}
