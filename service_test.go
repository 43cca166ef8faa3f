package appboot_test

import (
	"context"
	"testing"

	"github.com/nielskrijger/appboot"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func owner() *appboot.Application {
	return appboot.New("owner", "1.0.0", appboot.WithLogger(zerolog.Nop()))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unstarted", appboot.StateUnstarted.String())
	assert.Equal(t, "running", appboot.StateRunning.String())
	assert.Equal(t, "stopped", appboot.StateStopped.String())
	assert.Equal(t, "unknown", appboot.State(42).String())
}

func TestStartService_Success(t *testing.T) {
	app := owner()
	c := &Counter{}

	require.NoError(t, appboot.StartService(context.Background(), c, app))

	assert.Equal(t, appboot.StateRunning, c.State())
	assert.True(t, c.IsRunning())
	assert.Same(t, app, c.App())
	assert.Equal(t, 1, c.Starts())
}

func TestStartService_AlreadyRunning(t *testing.T) {
	c := &Counter{}
	require.NoError(t, appboot.StartService(context.Background(), c, owner()))

	err := appboot.StartService(context.Background(), c, owner())

	assert.True(t, errors.Is(err, appboot.ErrAlreadyRunning))
	assert.Equal(t, 1, c.Starts())
}

func TestStartService_NilOwner(t *testing.T) {
	c := &Counter{}

	err := appboot.StartService(context.Background(), c, nil)

	assert.True(t, errors.Is(err, appboot.ErrInvalidArgument))
	assert.Equal(t, appboot.StateUnstarted, c.State())
	assert.Equal(t, 0, c.Starts())
}

func TestStartService_FailureRollsBackOwner(t *testing.T) {
	c := &Counter{startErr: errBoom}

	err := appboot.StartService(context.Background(), c, owner())

	assert.Equal(t, errBoom, err)
	assert.Equal(t, appboot.StateUnstarted, c.State())
	assert.Nil(t, c.App())
}

func TestStartService_FailureAfterStopKeepsStopped(t *testing.T) {
	c := &Counter{}
	require.NoError(t, appboot.StartService(context.Background(), c, owner()))
	require.NoError(t, appboot.StopService(c))

	c.startErr = errBoom
	err := appboot.StartService(context.Background(), c, owner())

	assert.Equal(t, errBoom, err)
	assert.Equal(t, appboot.StateStopped, c.State())
	assert.Nil(t, c.App())
}

// appChecker records the owner it sees while starting.
type appChecker struct {
	appboot.BaseService

	seen *appboot.Application
}

func (s *appChecker) OnStart(context.Context) error {
	s.seen = s.App()

	return nil
}

func (s *appChecker) OnStop() error {
	return nil
}

func TestStartService_OwnerVisibleInOnStart(t *testing.T) {
	app := owner()
	s := &appChecker{}

	require.NoError(t, appboot.StartService(context.Background(), s, app))

	assert.Same(t, app, s.seen)
}

func TestStopService_NotRunning(t *testing.T) {
	c := &Counter{}

	err := appboot.StopService(c)

	assert.True(t, errors.Is(err, appboot.ErrNotRunning))
	assert.Equal(t, 0, c.Stops())
}

func TestStopService_FailureStillStops(t *testing.T) {
	c := &Counter{stopErr: errBoom}
	require.NoError(t, appboot.StartService(context.Background(), c, owner()))

	err := appboot.StopService(c)

	assert.Equal(t, errBoom, err)
	assert.Equal(t, appboot.StateStopped, c.State())
	assert.Nil(t, c.App())
	assert.True(t, errors.Is(appboot.StopService(c), appboot.ErrNotRunning))
	assert.Equal(t, 1, c.Stops())
}

func TestRestartService(t *testing.T) {
	app := owner()
	c := &Counter{}
	require.NoError(t, appboot.StartService(context.Background(), c, app))

	require.NoError(t, appboot.RestartService(context.Background(), c))

	assert.True(t, c.IsRunning())
	assert.Same(t, app, c.App())
	assert.Equal(t, 2, c.Starts())
	assert.Equal(t, 1, c.Stops())
}

func TestRestartService_NotRunning(t *testing.T) {
	err := appboot.RestartService(context.Background(), &Counter{})

	assert.True(t, errors.Is(err, appboot.ErrNotRunning))
}

func TestRestartService_StopFailureStillStarts(t *testing.T) {
	c := &Counter{stopErr: errBoom}
	require.NoError(t, appboot.StartService(context.Background(), c, owner()))

	err := appboot.RestartService(context.Background(), c)

	assert.Equal(t, errBoom, err)
	assert.True(t, c.IsRunning())
}

func TestRestartService_StopAndStartFailure(t *testing.T) {
	c := &Counter{stopErr: errBoom}
	require.NoError(t, appboot.StartService(context.Background(), c, owner()))

	errStart := errors.New("cannot start")
	c.startErr = errStart

	err := appboot.RestartService(context.Background(), c)

	assert.True(t, errors.Is(err, errBoom))
	assert.True(t, errors.Is(err, errStart))
	assert.Equal(t, appboot.StateStopped, c.State())
	assert.Nil(t, c.App())
}
