package appboot

import (
	"sync"

	"github.com/pkg/errors"
)

// activeSlot holds the single application that may run in this process.
//
// An application reserves the slot when it starts and is published once it
// is running, so Current never returns a half-started application.
type activeSlot struct {
	mu       sync.Mutex
	reserved *Application
	current  *Application
}

var active = &activeSlot{}

// Current returns the running application, or nil when none is running.
func Current() *Application {
	active.mu.Lock()
	defer active.mu.Unlock()

	return active.current
}

func (s *activeSlot) reserve(app *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved != nil && s.reserved != app {
		return errors.Wrapf(
			ErrAlreadyRunning,
			"cannot start %q, application %q is active in this process",
			app.name,
			s.reserved.name,
		)
	}

	s.reserved = app

	return nil
}

func (s *activeSlot) publish(app *Application) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved == app {
		s.current = app
	}
}

func (s *activeSlot) release(app *Application) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved == app {
		s.reserved = nil
		s.current = nil
	}
}
