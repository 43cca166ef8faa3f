package appboot

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

var (
	// Lifecycle precondition errors
	ErrAlreadyRunning  = errors.New("already running")
	ErrNotRunning      = errors.New("not running")
	ErrInvalidArgument = errors.New("invalid argument")

	// Application validation errors
	ErrInvalidName    = errors.New("application name is invalid")
	ErrMissingVersion = errors.New("application version is required")

	// Service resolution errors
	ErrNotFound          = errors.New("service not found")
	ErrCircularReference = errors.New("circular service reference")
	ErrServiceWrongType  = errors.New("service doesn't satisfy requested type")
)

// CircularReferenceError is returned when starting a service requires a
// service that is already being started higher up the same call chain.
type CircularReferenceError struct {
	Chain []reflect.Type
}

func (e *CircularReferenceError) Error() string {
	names := make([]string, len(e.Chain))
	for i, t := range e.Chain {
		names[i] = t.String()
	}

	return fmt.Sprintf("%s: %s", ErrCircularReference, strings.Join(names, " --> "))
}

func (e *CircularReferenceError) Is(target error) bool {
	return target == ErrCircularReference
}
