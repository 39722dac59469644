// pkg/params/store.go

// Package params holds deployment parameters with first-write-wins defaults.
// A value set explicitly, or filled by the first default, is never replaced
// by a later default.
package params

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

func New() *Store {
	return &Store{values: make(map[string]any)}
}

// Set records an explicit value. Later defaults do not overwrite it.
func (s *Store) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Has reports whether key holds a value.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// GetOrDefault returns the value stored under key. If none is stored it
// resolves def (calling it when it is a func() any or a
// func() (any, error)), stores the result and returns it.
// Factory errors are swallowed here; use GetOrDefaultE to see them.
func (s *Store) GetOrDefault(key string, def any) any {
	v, _ := s.GetOrDefaultE(key, def)
	return v
}

// GetOrDefaultE is GetOrDefault that surfaces factory errors. A failed
// factory leaves the key unset.
func (s *Store) GetOrDefaultE(key string, def any) (any, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	var err error
	switch f := def.(type) {
	case func() any:
		v = f()
	case func() string:
		v = f()
	case func() (any, error):
		v, err = f()
	case func() (string, error):
		v, err = f()
	default:
		v = def
	}
	if err != nil {
		return nil, fmt.Errorf("default for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another goroutine may have won the race; keep its value
	if existing, ok := s.values[key]; ok {
		return existing, nil
	}
	s.values[key] = v
	return v, nil
}

// String is GetOrDefault for string values.
func (s *Store) String(key string, def any) string {
	switch v := s.GetOrDefault(key, def).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool is GetOrDefault for boolean values.
func (s *Store) Bool(key string, def bool) bool {
	switch v := s.GetOrDefault(key, def).(type) {
	case bool:
		return v
	case string:
		return Truthy(v)
	default:
		return false
	}
}

// Strings is GetOrDefault for list values. A stored string is split on commas.
func (s *Store) Strings(key string, def []string) []string {
	switch v := s.GetOrDefault(key, def).(type) {
	case []string:
		return v
	case string:
		return SplitList(v)
	default:
		return nil
	}
}

// Snapshot copies the current values, for logging.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Truthy reports whether a flag value counts as set. Presence of the key is
// what matters, so anything except an explicit negative is true.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
