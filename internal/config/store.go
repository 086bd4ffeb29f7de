package config

import "sync/atomic"

// Store holds the active config and supports hot reload (SIGHUP in the
// binaries). Readers always see a complete config, never a partial one.
type Store struct {
	path string
	cur  atomic.Pointer[Config]
}

// Open loads the config at path and returns a reloadable store.
func Open(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s, nil
}

// NewStore wraps an already-built config, mainly for tests.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

// Current returns the active config. The returned value is read-only.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Reload re-reads the config file. On error the previous config stays
// active.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(cfg)
	return nil
}
