package props

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// converter parses and formats property values of a single type.
type converter struct {
	parse  func(string) (any, error)
	format func(any) (string, error)
}

var (
	convertersMu sync.RWMutex
	converters   = make(map[reflect.Type]converter)
)

func init() {
	RegisterConverter(func(s string) (string, error) { return s, nil }, func(v string) string { return v })
	RegisterConverter(parseInt[int], formatAny[int])
	RegisterConverter(parseInt[int64], formatAny[int64])
	RegisterConverter(parseUint, formatAny[uint])
	RegisterConverter(func(s string) (bool, error) { return cast.ToBoolE(s) }, formatAny[bool])
	RegisterConverter(func(s string) (float64, error) { return cast.ToFloat64E(s) }, formatAny[float64])
	RegisterConverter(func(s string) (time.Duration, error) { return cast.ToDurationE(s) }, formatAny[time.Duration])
	RegisterConverter(decimal.NewFromString, func(d decimal.Decimal) string { return d.String() })
	RegisterConverter(func(s string) (time.Time, error) { return cast.ToTimeE(s) },
		func(t time.Time) string { return t.Format(time.RFC3339) })
}

// integers are always decimal; cast would read "010" as octal
func parseInt[T int | int64](s string) (T, error) {
	i, err := strconv.ParseInt(s, 10, int(reflect.TypeOf(T(0)).Size())*8)

	return T(i), err
}

func parseUint(s string) (uint, error) {
	i, err := strconv.ParseUint(s, 10, 0)

	return uint(i), err
}

func formatAny[T any](v T) string {
	return cast.ToString(v)
}

// RegisterConverter adds or replaces the conversion functions for type T.
// Values are trimmed before they are parsed.
func RegisterConverter[T any](parse func(string) (T, error), format func(T) string) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	convertersMu.Lock()
	defer convertersMu.Unlock()

	converters[t] = converter{
		parse: func(s string) (any, error) {
			return parse(strings.TrimSpace(s))
		},
		format: func(v any) (string, error) {
			typed, ok := v.(T)
			if !ok {
				return "", errors.Errorf("cannot format %T as %s", v, t)
			}

			return format(typed), nil
		},
	}
}

func lookupConverter(t reflect.Type) (converter, error) {
	convertersMu.RLock()
	defer convertersMu.RUnlock()

	c, ok := converters[t]
	if !ok {
		return converter{}, errors.Wrapf(ErrUnsupportedType, "%s", t)
	}

	return c, nil
}

// Supports reports whether a converter has been registered for T.
func Supports[T any]() bool {
	_, err := lookupConverter(reflect.TypeOf((*T)(nil)).Elem())

	return err == nil
}

// Typed returns the property value of key converted to T, or def when the
// key is not set.
//
// The default is formatted to its string form before the lookup and parsed
// back afterwards, so a default can never produce a value of another type
// than requested.
func Typed[T any](s *Store, key string, def T) (T, error) {
	var zero T

	t := reflect.TypeOf((*T)(nil)).Elem()

	c, err := lookupConverter(t)
	if err != nil {
		return zero, err
	}

	defStr, err := c.format(def)
	if err != nil {
		return zero, errors.Wrap(ErrInvalidValue, err.Error())
	}

	raw := s.Get(key, defStr)

	v, err := c.parse(raw)
	if err != nil {
		return zero, errors.Wrapf(ErrInvalidValue, "%q cannot be parsed as %s: %s", key, t, err)
	}

	typed, ok := v.(T)
	if !ok {
		return zero, errors.Wrapf(ErrInvalidValue, "%q parsed to %T instead of %s", key, v, t)
	}

	return typed, nil
}

// SetTyped formats value with the converter of T and stores it under key.
func SetTyped[T any](s *Store, key string, value T, override bool) error {
	c, err := lookupConverter(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return err
	}

	str, err := c.format(value)
	if err != nil {
		return errors.Wrap(ErrInvalidValue, err.Error())
	}

	return s.Set(key, str, override)
}
