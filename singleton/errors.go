package singleton

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	ErrConstruction = errors.New("failed to construct singleton")
	ErrNilInstance  = errors.New("instance is nil")
	ErrNoFactory    = errors.New("no factory registered and type cannot be zero-value constructed")
	ErrNotManaged   = errors.New("constructed value is not of the managed type")
)

// ConstructionError is returned when a singleton could not be created during
// auto-registration. Err holds the original cause.
type ConstructionError struct {
	Type reflect.Type
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct singleton %s: %v", e.Type, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Cause implements the pkg/errors causer interface.
func (e *ConstructionError) Cause() error {
	return e.Err
}

func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}
