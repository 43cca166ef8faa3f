package appboot_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/test"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}

var events = &recorder{}

// ServiceA depends on ServiceB which depends on ServiceC.
type ServiceA struct {
	appboot.BaseService
}

func (s *ServiceA) OnStart(ctx context.Context) error {
	if _, err := appboot.Get[*ServiceB](ctx, s.App()); err != nil {
		return err
	}

	events.add("start A")

	return nil
}

func (s *ServiceA) OnStop() error {
	events.add("stop A")

	return nil
}

type ServiceB struct {
	appboot.BaseService
}

func (s *ServiceB) OnStart(ctx context.Context) error {
	if _, err := appboot.Get[*ServiceC](ctx, s.App()); err != nil {
		return err
	}

	events.add("start B")

	return nil
}

func (s *ServiceB) OnStop() error {
	events.add("stop B")

	return nil
}

type ServiceC struct {
	appboot.BaseService
}

func (s *ServiceC) OnStart(context.Context) error {
	events.add("start C")

	return nil
}

func (s *ServiceC) OnStop() error {
	events.add("stop C")

	return nil
}

// CycleX, CycleY and CycleZ depend on each other in a circle.
type CycleX struct {
	appboot.BaseService
}

func (s *CycleX) OnStart(ctx context.Context) error {
	_, err := appboot.Get[*CycleY](ctx, s.App())

	return err
}

func (s *CycleX) OnStop() error { return nil }

type CycleY struct {
	appboot.BaseService
}

func (s *CycleY) OnStart(ctx context.Context) error {
	_, err := appboot.Get[*CycleZ](ctx, s.App())

	return err
}

func (s *CycleY) OnStop() error { return nil }

type CycleZ struct {
	appboot.BaseService
}

func (s *CycleZ) OnStart(ctx context.Context) error {
	_, err := appboot.Get[*CycleX](ctx, s.App())

	return err
}

func (s *CycleZ) OnStop() error { return nil }

// Counter counts its lifecycle calls and fails when told to.
type Counter struct {
	appboot.BaseService

	mu       sync.Mutex
	starts   int
	stops    int
	delay    time.Duration
	startErr error
	stopErr  error
}

func (c *Counter) OnStart(context.Context) error {
	time.Sleep(c.delay)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.starts++

	return c.startErr
}

func (c *Counter) OnStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stops++

	return c.stopErr
}

func (c *Counter) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.starts
}

func (c *Counter) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stops
}

// Gate blocks in OnStart until released.
type Gate struct {
	Counter

	entered chan struct{}
	release chan struct{}
}

func newGate() *Gate {
	return &Gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *Gate) OnStart(ctx context.Context) error {
	close(g.entered)
	<-g.release

	return g.Counter.OnStart(ctx)
}

// newApp returns an application logging into log that is stopped when the
// test ends.
func newApp(t *testing.T, log *test.Logger, options ...appboot.Option) *appboot.Application {
	t.Helper()

	events = &recorder{}

	if log == nil {
		log = &test.Logger{}
	}

	options = append([]appboot.Option{appboot.WithLogger(zerolog.New(log))}, options...)
	app := appboot.New("test", "1.0.0", options...)

	t.Cleanup(func() {
		if app.IsRunning() {
			_ = app.Stop()
		}
	})

	return app
}

func startApp(t *testing.T, options ...appboot.Option) *appboot.Application {
	t.Helper()

	app := newApp(t, nil, options...)
	require.NoError(t, app.Start())

	return app
}
