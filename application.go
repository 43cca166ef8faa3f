// Package appboot manages the lifecycle of an application and its singleton
// services.
//
// Services are started lazily the first time they are requested and stopped
// in reverse start order when the application stops. Only one application
// can run per process at a time.
package appboot

import (
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/nielskrijger/appboot/props"
	"github.com/nielskrijger/appboot/singleton"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Application owns the properties and services of one application run.
type Application struct {
	name           string
	version        string
	propertiesFile string
	envPrefix      string
	defaults       map[string]string
	hooks          Hooks
	baseLog        zerolog.Logger

	// serializes Start, Stop and Restart; hooks run while it is held
	lifecycle sync.Mutex

	mu       sync.RWMutex
	running  bool
	runID    string
	log      zerolog.Logger
	props    *props.Store
	services *singleton.Registry[Service]
	started  []Service
	// set once stopServices took its snapshot; late starts are rolled back
	closing bool
}

// New creates a stopped application. The name must be an identifier and the
// version must not be empty, both are checked by Start.
func New(name string, version string, options ...Option) *Application {
	app := &Application{
		name:     name,
		version:  version,
		defaults: make(map[string]string),
		baseLog:  newLogger(),
		props:    props.NewStore(),
		services: singleton.New[Service](),
	}

	for _, option := range options {
		option(app)
	}

	app.log = app.baseLog.With().Str("app", name).Str("version", version).Logger()

	return app
}

func (a *Application) Name() string {
	return a.name
}

func (a *Application) Version() string {
	return a.version
}

// RunID identifies the current run; it changes on every start.
func (a *Application) RunID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.runID
}

// Logger returns the application logger.
func (a *Application) Logger() zerolog.Logger {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.log
}

// IsRunning reports whether the application has started and not stopped.
func (a *Application) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.running
}

// Start loads the properties, runs the start hooks and makes the application
// the current application of this process. Services are not started until
// they are requested.
//
// Returns ErrAlreadyRunning when this or another application is running.
func (a *Application) Start() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	return a.start()
}

func (a *Application) start() (err error) {
	if a.IsRunning() {
		return errors.Wrapf(ErrAlreadyRunning, "application %q", a.name)
	}

	if err := active.reserve(a); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			// services started by the OnStart hook; failures are logged
			_ = a.stopServices()

			active.release(a)

			a.mu.Lock()
			a.running = false
			a.started = nil
			a.mu.Unlock()

			a.services.Clear()

			log := a.Logger()
			log.Error().Err(err).Msg("failed to start application")
			a.hooks.onStartError(a, err)
		}
	}()

	if err := a.validate(); err != nil {
		return err
	}

	a.reset()

	log := a.Logger()
	log.Info().Msg("starting application")

	if err := a.loadProperties(); err != nil {
		return err
	}

	if err := a.hooks.beforeStart(a); err != nil {
		return err
	}

	a.setRunning(true)
	active.publish(a)

	if err := a.hooks.onStart(a); err != nil {
		return err
	}

	log.Info().Msg("application started")

	return nil
}

func (a *Application) validate() error {
	if !namePattern.MatchString(a.name) {
		return errors.Wrapf(ErrInvalidName, "%q", a.name)
	}

	if strings.TrimSpace(a.version) == "" {
		return errors.Wrapf(ErrMissingVersion, "application %q", a.name)
	}

	return nil
}

// reset drops all services and properties of a previous run.
func (a *Application) reset() {
	a.services.Clear()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.runID = uuid.NewString()
	a.log = a.baseLog.With().
		Str("app", a.name).
		Str("version", a.version).
		Str("run", a.runID).
		Logger()
	a.props = props.NewStore()
	a.started = nil
	a.closing = false
}

func (a *Application) loadProperties() error {
	log := a.Logger()
	store := props.NewStore()

	if a.propertiesFile != "" {
		if props.Exists(a.propertiesFile) {
			if err := store.Load(a.propertiesFile, props.WithEnvPrefix(a.envPrefix)); err != nil {
				return err
			}

			log.Info().Msgf("loaded properties %q", a.propertiesFile)
		} else {
			if err := store.Merge(a.defaults); err != nil {
				return err
			}

			if err := store.Save(a.propertiesFile); err != nil {
				return err
			}

			log.Warn().Msgf("properties file %q not found, created it with default properties", a.propertiesFile)
		}
	}

	if err := store.Merge(a.defaults); err != nil {
		return errors.Wrap(err, "merging application default properties")
	}

	a.mu.Lock()
	a.props = store
	a.mu.Unlock()

	return nil
}

func (a *Application) setRunning(running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.running = running
}

// Stop runs the stop hooks, stops every started service in reverse start
// order and clears all services.
//
// A failing service does not prevent other services from stopping; all
// service errors are returned together once the application has stopped.
func (a *Application) Stop() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	return a.stop()
}

func (a *Application) stop() error {
	if !a.IsRunning() {
		return errors.Wrapf(ErrNotRunning, "application %q", a.name)
	}

	log := a.Logger()
	log.Info().Msg("stopping application")

	hookErr := a.hooks.beforeStop(a)
	if hookErr == nil {
		hookErr = a.hooks.onStop(a)
	}

	servicesErr := a.stopServices()

	active.release(a)

	a.mu.Lock()
	a.running = false
	a.started = nil
	a.mu.Unlock()

	a.services.Clear()

	if hookErr != nil {
		log.Error().Err(hookErr).Msg("failed to stop application gracefully")
		a.hooks.onStopError(a, hookErr)

		if servicesErr != nil {
			return multierror.Append(hookErr, servicesErr)
		}

		return hookErr
	}

	a.hooks.afterStop(a)
	log.Info().Msg("application stopped")

	return servicesErr
}

func (a *Application) stopServices() error {
	a.mu.Lock()
	a.closing = true
	started := make([]Service, len(a.started))
	copy(started, a.started)
	a.mu.Unlock()

	log := a.Logger()

	var result *multierror.Error

	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if !svc.base().IsRunning() {
			continue
		}

		if err := StopService(svc); err != nil {
			log.Error().Err(err).Msgf("failed to gracefully stop service %s", serviceName(svc))
			result = multierror.Append(result, errors.Wrapf(err, "stopping service %s", serviceName(svc)))

			continue
		}

		log.Debug().Msgf("stopped service %s", serviceName(svc))
	}

	return result.ErrorOrNil()
}

// Restart stops and starts the application.
func (a *Application) Restart() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if !a.IsRunning() {
		return errors.Wrapf(ErrNotRunning, "application %q", a.name)
	}

	stopErr := a.stop()

	if err := a.start(); err != nil {
		if stopErr != nil {
			return multierror.Append(stopErr, err)
		}

		return err
	}

	return stopErr
}

// StartedServices returns the services in the order they were started.
func (a *Application) StartedServices() []Service {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]Service, len(a.started))
	copy(result, a.started)

	return result
}
