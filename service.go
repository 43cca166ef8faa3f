package appboot

import (
	"context"
	"reflect"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/nielskrijger/appboot/singleton"
	"github.com/pkg/errors"
)

// State is the lifecycle state of a service.
type State int

const (
	StateUnstarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Service is a singleton component owned by an Application. Implementations
// embed BaseService, which tracks the lifecycle state:
//
//	type Mailer struct {
//		appboot.BaseService
//	}
//
// OnStart is called the first time the service is requested. It may read
// properties and resolve other services through App(), passing ctx along so
// circular references are detected. A failing OnStart leaves the service
// unstarted.
//
// OnStop is called when the owning application stops. Its error is reported
// but the service is stopped regardless.
type Service interface {
	OnStart(ctx context.Context) error
	OnStop() error

	base() *BaseService
}

// Named services are logged by name instead of by type.
type Named interface {
	Name() string
}

// Defaulter services declare their default properties. These are merged into
// the application properties before OnStart without overriding values that
// are already configured.
type Defaulter interface {
	DefaultProperties() map[string]string
}

// Dependent services declare the services they resolve during OnStart. The
// list is informational only; dependencies are resolved dynamically.
type Dependent interface {
	Dependencies() []reflect.Type
}

// BaseService implements the lifecycle state machine of a Service.
type BaseService struct {
	// held during a whole transition, hooks included
	transition sync.Mutex

	mu    sync.RWMutex
	state State
	app   *Application
}

func (b *BaseService) base() *BaseService {
	return b
}

// App returns the owning application, or nil when not running.
func (b *BaseService) App() *Application {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.app
}

// State returns the current lifecycle state.
func (b *BaseService) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.state
}

// IsRunning reports whether the service has been started and not stopped.
func (b *BaseService) IsRunning() bool {
	return b.State() == StateRunning
}

func (b *BaseService) set(state State, app *Application) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = state
	b.app = app
}

// StartService starts svc on behalf of owner.
//
// Returns ErrAlreadyRunning when svc is running and ErrInvalidArgument when
// owner is nil.
func StartService(ctx context.Context, svc Service, owner *Application) error {
	b := svc.base()

	b.transition.Lock()
	defer b.transition.Unlock()

	if b.IsRunning() {
		return errors.Wrapf(ErrAlreadyRunning, "service %s", serviceName(svc))
	}

	return b.start(ctx, svc, owner)
}

// ensureStarted starts svc unless another caller started it first. Reports
// whether this call started it.
func ensureStarted(ctx context.Context, svc Service, owner *Application) (bool, error) {
	b := svc.base()

	b.transition.Lock()
	defer b.transition.Unlock()

	if b.IsRunning() {
		return false, nil
	}

	if err := b.start(ctx, svc, owner); err != nil {
		return false, err
	}

	return true, nil
}

func (b *BaseService) start(ctx context.Context, svc Service, owner *Application) error {
	if owner == nil {
		return errors.Wrap(ErrInvalidArgument, "owner is nil")
	}

	prev := b.State()
	b.set(prev, owner)

	if err := svc.OnStart(ctx); err != nil {
		b.set(prev, nil)

		return err
	}

	b.set(StateRunning, owner)

	return nil
}

// StopService stops svc. The service ends up stopped even if OnStop fails.
//
// Returns ErrNotRunning when svc is not running.
func StopService(svc Service) error {
	b := svc.base()

	b.transition.Lock()
	defer b.transition.Unlock()

	return b.stop(svc)
}

func (b *BaseService) stop(svc Service) error {
	if !b.IsRunning() {
		return errors.Wrapf(ErrNotRunning, "service %s", serviceName(svc))
	}

	defer b.set(StateStopped, nil)

	return svc.OnStop()
}

// RestartService stops svc and starts it again with the same owner.
func RestartService(ctx context.Context, svc Service) error {
	b := svc.base()

	b.transition.Lock()
	defer b.transition.Unlock()

	if !b.IsRunning() {
		return errors.Wrapf(ErrNotRunning, "service %s", serviceName(svc))
	}

	owner := b.App()
	stopErr := b.stop(svc)

	if err := b.start(ctx, svc, owner); err != nil {
		if stopErr != nil {
			return multierror.Append(stopErr, err)
		}

		return err
	}

	return stopErr
}

func serviceName(svc any) string {
	if n, ok := svc.(Named); ok {
		return n.Name()
	}

	return reflect.TypeOf(svc).String()
}

// TypeOf returns the lookup type for T, e.g. TypeOf[Mailer]().
func TypeOf[T any]() reflect.Type {
	return singleton.TypeOf[T]()
}
