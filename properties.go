package appboot

import (
	"github.com/nielskrijger/appboot/props"
	"github.com/pkg/errors"
)

func (a *Application) store() (*props.Store, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return nil, errors.Wrapf(ErrNotRunning, "application %q has no properties", a.name)
	}

	return a.props, nil
}

// GetProperty returns the property value of key, or def when not set.
func (a *Application) GetProperty(key string, def string) (string, error) {
	store, err := a.store()
	if err != nil {
		return "", err
	}

	return store.Get(key, def), nil
}

// GetMandatoryProperty returns the property value of key. Returns
// props.ErrNotFound when the key is missing or blank.
func (a *Application) GetMandatoryProperty(key string) (string, error) {
	store, err := a.store()
	if err != nil {
		return "", err
	}

	return store.GetMandatory(key)
}

// SetProperty sets a property. Existing values are only replaced when
// override is set.
func (a *Application) SetProperty(key string, value string, override bool) error {
	store, err := a.store()
	if err != nil {
		return err
	}

	return store.Set(key, value, override)
}

// Property returns the property value of key converted to T, or def when not
// set.
func Property[T any](app *Application, key string, def T) (T, error) {
	store, err := app.store()
	if err != nil {
		var zero T

		return zero, err
	}

	return props.Typed(store, key, def)
}

// SaveProperties writes the current properties to the properties file.
func (a *Application) SaveProperties() error {
	store, err := a.store()
	if err != nil {
		return err
	}

	if a.propertiesFile == "" {
		return errors.Wrapf(ErrInvalidArgument, "application %q has no properties file", a.name)
	}

	return store.Save(a.propertiesFile)
}
