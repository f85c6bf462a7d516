// Package store persists the small amount of state that must survive a
// restart: the background monitoring flag, the debug flag and the opaque
// callback handles of the background client.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// NoCallback is the stored value of an unset callback handle
const NoCallback int64 = -1

// State is the persisted daemon state
type State struct {
	BackgroundMonitoringEnabled bool  `yaml:"background_monitoring_enabled"`
	Debug                       bool  `yaml:"debug"`
	BackgroundCallbackID        int64 `yaml:"background_callback_id"`
	MonitoringCallbackID        int64 `yaml:"monitoring_callback_id"`
}

// DefaultState is the state of a fresh install
func DefaultState() State {
	return State{
		BackgroundCallbackID: NoCallback,
		MonitoringCallbackID: NoCallback,
	}
}

// Store loads and saves State
type Store interface {
	Load() (State, error)
	Save(State) error
}

// Update applies fn to the stored state and saves the result
func Update(s Store, fn func(*State)) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	fn(&st)
	return s.Save(st)
}

// FileStore keeps State in a YAML file, replaced atomically on every save
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at path; a leading ~ is expanded
func NewFileStore(path string) (*FileStore, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand state path: %w", err)
	}
	return &FileStore{path: expanded}, nil
}

// Path returns the resolved file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields DefaultState.
func (s *FileStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := DefaultState()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return DefaultState(), fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return st, nil
}

// Save writes the state through a temp file and rename
func (s *FileStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}
	return nil
}

// MemoryStore keeps State in memory
type MemoryStore struct {
	mu    sync.Mutex
	state State

	// SaveErr, when set, makes Save fail without changing the state
	SaveErr error
}

// NewMemoryStore creates a store holding st
func NewMemoryStore(st State) *MemoryStore {
	return &MemoryStore{state: st}
}

func (s *MemoryStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.state = st
	return nil
}
