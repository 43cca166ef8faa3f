package props

import "github.com/pkg/errors"

var (
	ErrInvalidKey      = errors.New("invalid property key")
	ErrNotFound        = errors.New("property not found")
	ErrUnsupportedType = errors.New("unsupported property type")
	ErrInvalidValue    = errors.New("invalid property value")
)
