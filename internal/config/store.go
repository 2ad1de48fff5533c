package config

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Build assembles a validated Config: defaults, then the config file (when
// path is non-empty), then the command-line overrides.
func Build(path string, overrides map[string]string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	cfg.ConfigFile = path
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Store holds the current configuration snapshot. Readers get an immutable
// *Config; Reload swaps in a new snapshot atomically.
type Store struct {
	path      string
	overrides map[string]string

	current  atomic.Pointer[Config]
	reloadMu sync.Mutex
}

// NewStore builds the initial configuration and returns a Store for it.
func NewStore(path string, overrides map[string]string) (*Store, error) {
	cfg, err := Build(path, overrides)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, overrides: overrides}
	s.current.Store(cfg)
	return s, nil
}

// NewStaticStore wraps an already-built configuration. Reload is a no-op.
func NewStaticStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active snapshot. Callers must not modify it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Encoding returns a copy of the active encoder settings.
func (s *Store) Encoding() EncodingConfig {
	return s.current.Load().Encoding
}

// Reload re-reads the config file. On error the previous snapshot stays
// active. changed reports whether the new snapshot differs.
func (s *Store) Reload() (cfg *Config, changed bool, err error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	old := s.current.Load()
	if s.path == "" {
		return old, false, nil
	}

	cfg, err = Build(s.path, s.overrides)
	if err != nil {
		return old, false, err
	}
	if reflect.DeepEqual(old, cfg) {
		return old, false, nil
	}
	s.current.Store(cfg)
	return cfg, true, nil
}
