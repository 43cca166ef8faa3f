package appboot

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

type resolvingKey struct{}

// resolving is the chain of services being started in the current call tree.
type resolving struct {
	types    []reflect.Type
	services []Service
}

func resolvingFrom(ctx context.Context) *resolving {
	if r, ok := ctx.Value(resolvingKey{}).(*resolving); ok {
		return r
	}

	return &resolving{}
}

// with returns a copy of the chain with t appended; chains are never shared
// between branches of the call tree.
func (r *resolving) with(t reflect.Type, svc Service) *resolving {
	next := &resolving{
		types:    make([]reflect.Type, len(r.types), len(r.types)+1),
		services: make([]Service, len(r.services), len(r.services)+1),
	}

	copy(next.types, r.types)
	copy(next.services, r.services)

	next.types = append(next.types, t)
	next.services = append(next.services, svc)

	return next
}

func (r *resolving) contains(t reflect.Type, svc Service) bool {
	for i := range r.types {
		if r.types[i] == t || r.services[i] == svc {
			return true
		}
	}

	return false
}

// Register adds an explicit service instance, typically from the BeforeStart
// hook before a default instance can be auto-registered. With
// overrideHierarchy the instance is also registered under the types of its
// Hierarchy.
func (a *Application) Register(svc Service, overrideHierarchy bool) error {
	return a.services.RegisterInstance(svc, overrideHierarchy)
}

// Provide registers the factory used to create the service for T when it is
// first requested. Without a factory services are created as zero values,
// which only works for pointers to structs.
func Provide[T any](app *Application, factory func() (T, error)) {
	t := TypeOf[T]()

	app.services.RegisterFactory(t, func() (Service, error) {
		v, err := factory()
		if err != nil {
			return nil, err
		}

		svc, ok := any(v).(Service)
		if !ok {
			return nil, errors.Wrapf(ErrServiceWrongType, "%T is not a service", v)
		}

		return svc, nil
	})
}

// Service returns the running service registered for t, starting it if
// necessary. When nothing is registered for t a new instance is created if
// autoRegister is set; otherwise nil is returned without error.
//
// Pass the ctx received in OnStart when resolving dependencies of a service
// so circular references are detected. A cycle resolved with a fresh context
// is not detected and blocks forever on the service that is already starting.
func (a *Application) Service(ctx context.Context, t reflect.Type, autoRegister bool) (Service, error) {
	a.mu.RLock()
	running, runID := a.running, a.runID
	a.mu.RUnlock()

	if !running {
		return nil, errors.Wrapf(ErrNotRunning, "application %q cannot provide %s", a.name, t)
	}

	svc, ok, err := a.services.Instance(t, autoRegister, true)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	if svc.base().IsRunning() {
		return svc, nil
	}

	chain := resolvingFrom(ctx)
	if chain.contains(t, svc) {
		return nil, &CircularReferenceError{Chain: chain.with(t, svc).types}
	}

	if err := a.mergeDefaults(svc); err != nil {
		return nil, err
	}

	log := a.Logger()
	if d, ok := svc.(Dependent); ok {
		log.Debug().Msgf("starting service %s, depends on %v", serviceName(svc), d.Dependencies())
	}

	started, err := ensureStarted(context.WithValue(ctx, resolvingKey{}, chain.with(t, svc)), svc, a)
	if err != nil {
		log.Error().Err(err).Msgf("failed to start service %s", serviceName(svc))

		return nil, err
	}

	if started {
		if err := a.track(svc, runID); err != nil {
			return nil, err
		}

		log.Info().Msgf("started service %s", serviceName(svc))
	}

	return svc, nil
}

// track records svc as started by run runID. A service that finished
// starting after the application began stopping is stopped again, so every
// started service is stopped exactly once.
func (a *Application) track(svc Service, runID string) error {
	a.mu.Lock()

	if a.running && !a.closing && a.runID == runID {
		a.started = append(a.started, svc)
		a.mu.Unlock()

		return nil
	}

	a.mu.Unlock()

	if err := StopService(svc); err != nil {
		log := a.Logger()
		log.Error().Err(err).Msgf("failed to gracefully stop service %s", serviceName(svc))
	}

	return errors.Wrapf(ErrNotRunning, "application %q stopped while starting %s", a.name, serviceName(svc))
}

func (a *Application) mergeDefaults(svc Service) error {
	d, ok := svc.(Defaulter)
	if !ok {
		return nil
	}

	store, err := a.store()
	if err != nil {
		return err
	}

	if err := store.Merge(d.DefaultProperties()); err != nil {
		return errors.Wrapf(err, "merging default properties of %s", serviceName(svc))
	}

	return nil
}

// RegisteredService is like Service without auto-registration, but returns
// ErrNotFound when nothing is registered for t.
func (a *Application) RegisteredService(ctx context.Context, t reflect.Type) (Service, error) {
	svc, err := a.Service(ctx, t, false)
	if err != nil {
		return nil, err
	}

	if svc == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s", t)
	}

	return svc, nil
}

// Get returns the running service for T, creating and starting it when
// necessary.
func Get[T any](ctx context.Context, app *Application) (T, error) {
	svc, err := app.Service(ctx, TypeOf[T](), true)
	if err != nil {
		var zero T

		return zero, err
	}

	return as[T](svc)
}

// Registered returns the running service for T. Returns ErrNotFound when no
// service has been registered for T.
func Registered[T any](ctx context.Context, app *Application) (T, error) {
	svc, err := app.RegisteredService(ctx, TypeOf[T]())
	if err != nil {
		var zero T

		return zero, err
	}

	return as[T](svc)
}

// Find is like Registered but reports a missing service with false instead of
// an error.
func Find[T any](ctx context.Context, app *Application) (T, bool, error) {
	var zero T

	svc, err := app.Service(ctx, TypeOf[T](), false)
	if err != nil || svc == nil {
		return zero, false, err
	}

	v, err := as[T](svc)
	if err != nil {
		return zero, false, err
	}

	return v, true, nil
}

func as[T any](svc Service) (T, error) {
	v, ok := svc.(T)
	if !ok {
		var zero T

		return zero, errors.Wrapf(ErrServiceWrongType, "%T is not a %s", svc, TypeOf[T]())
	}

	return v, nil
}

// Dependencies returns the declared dependencies of all started services
// keyed by service name.
func (a *Application) Dependencies() map[string][]reflect.Type {
	result := make(map[string][]reflect.Type)

	for _, svc := range a.StartedServices() {
		if d, ok := svc.(Dependent); ok {
			result[serviceName(svc)] = d.Dependencies()
		} else {
			result[serviceName(svc)] = nil
		}
	}

	return result
}
