// Package props holds string-encoded configuration properties with typed
// access and layered defaults.
package props

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)

// Store is a concurrency-safe set of properties. Keys are case-insensitive,
// a "group.key" property maps to key "key" in section "[group]" of a
// properties file.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]string)}
}

// ValidKey reports whether key is a valid property key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

func normalize(key string) string {
	return strings.ToLower(key)
}

// Set stores value under key. When override is false and the key already
// exists the existing value is kept.
func (s *Store) Set(key string, value string, override bool) error {
	if !ValidKey(key) {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}

	k := normalize(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[k]; exists && !override {
		return nil
	}

	s.entries[k] = value

	return nil
}

// Get returns the value of key or def when the key has not been set.
func (s *Store) Get(key string, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.entries[normalize(key)]; ok {
		return v
	}

	return def
}

// Lookup returns the value of key and whether it was set.
func (s *Store) Lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[normalize(key)]

	return v, ok
}

// GetMandatory returns the value of key. Returns ErrNotFound when the key is
// missing or its value is blank.
func (s *Store) GetMandatory(key string) (string, error) {
	v, ok := s.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", errors.Wrapf(ErrNotFound, "%q", key)
	}

	return v, nil
}

// Merge adds all defaults without overriding existing values. Explicit
// configuration always wins over a default.
func (s *Store) Merge(defaults map[string]string) error {
	for k, v := range defaults {
		if err := s.Set(k, v, false); err != nil {
			return err
		}
	}

	return nil
}

// Delete removes key from the store.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, normalize(key))
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// All returns a copy of all properties.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		result[k] = v
	}

	return result
}

// Len returns the number of properties.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func (s *Store) replace(entries map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entries
}
