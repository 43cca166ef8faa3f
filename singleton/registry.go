// Package singleton maps requested types to exactly one instance.
package singleton

import (
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Factory creates a new instance for a requested type.
type Factory[S any] func() (S, error)

// Hierarchical is implemented by instances that should also be found by
// lookups for related types, e.g. an interface they fulfill. The returned
// types are walked in order when registering with overrideHierarchy.
type Hierarchical interface {
	Hierarchy() []reflect.Type
}

// TypeOf returns the lookup key for T. Use it for interface types, e.g.
// TypeOf[Mailer]().
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Registry holds one instance per type, all of them of managed type S.
type Registry[S any] struct {
	mu        sync.Mutex
	instances map[reflect.Type]S
	factories map[reflect.Type]Factory[S]
}

// New returns an empty Registry.
func New[S any]() *Registry[S] {
	return &Registry[S]{
		instances: make(map[reflect.Type]S),
		factories: make(map[reflect.Type]Factory[S]),
	}
}

// RegisterFactory sets the factory used to auto-register t. Factories are
// kept when the registry is cleared.
//
// Factories run while the registry is locked and must not look up other
// instances.
func (r *Registry[S]) RegisterFactory(t reflect.Type, f Factory[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[t] = f
}

// RegisterInstance stores instance under its concrete type, replacing any
// previous registration.
//
// With overrideHierarchy the instance is also stored under every type of its
// Hierarchy, stopping at the first type the instance does not satisfy.
func (r *Registry[S]) RegisterInstance(instance S, overrideHierarchy bool) error {
	if isNil(instance) {
		return ErrNilInstance
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.register(instance, nil, overrideHierarchy)

	return nil
}

func (r *Registry[S]) register(instance S, requested reflect.Type, overrideHierarchy bool) {
	concrete := reflect.TypeOf(instance)
	r.instances[concrete] = instance

	if requested != nil {
		r.instances[requested] = instance
	}

	if !overrideHierarchy {
		return
	}

	h, ok := any(instance).(Hierarchical)
	if !ok {
		return
	}

	for _, t := range h.Hierarchy() {
		if t == nil || !concrete.AssignableTo(t) {
			break
		}

		r.instances[t] = instance
	}
}

// Instance returns the instance registered for t.
//
// When nothing is registered and autoRegister is set a new instance is
// created with the factory of t, or as a zero value when t is a pointer to a
// struct, and registered under t, its concrete type and optionally its
// hierarchy. Otherwise the second return value is false.
func (r *Registry[S]) Instance(t reflect.Type, autoRegister bool, overrideHierarchy bool) (S, bool, error) {
	var zero S

	r.mu.Lock()
	defer r.mu.Unlock()

	if instance, ok := r.instances[t]; ok {
		return instance, true, nil
	}

	if !autoRegister {
		return zero, false, nil
	}

	instance, err := r.construct(t)
	if err != nil {
		return zero, false, &ConstructionError{Type: t, Err: err}
	}

	r.register(instance, t, overrideHierarchy)

	return instance, true, nil
}

// Lookup returns the instance registered for t without auto-registering.
func (r *Registry[S]) Lookup(t reflect.Type) (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.instances[t]

	return instance, ok
}

func (r *Registry[S]) construct(t reflect.Type) (instance S, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()

	if f, ok := r.factories[t]; ok {
		instance, err = f()
		if err != nil {
			return instance, err
		}

		if isNil(instance) {
			return instance, ErrNilInstance
		}

		if !reflect.TypeOf(instance).AssignableTo(t) {
			return instance, errors.Wrapf(ErrNotManaged, "factory returned %T", instance)
		}

		return instance, nil
	}

	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return instance, ErrNoFactory
	}

	v, ok := reflect.New(t.Elem()).Interface().(S)
	if !ok {
		return instance, errors.Wrapf(ErrNotManaged, "%s", t)
	}

	return v, nil
}

// Clear drops all instances and aliases.
func (r *Registry[S]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances = make(map[reflect.Type]S)
}

// Len returns the number of registered types, aliases included.
func (r *Registry[S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.instances)
}

// Types returns all registered types sorted by name.
func (r *Registry[S]) Types() []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]reflect.Type, 0, len(r.instances))
	for t := range r.instances {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool {
		return types[i].String() < types[j].String()
	})

	return types
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
