package statemanager

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/fileutils"
)

// ErrCorrupt is returned when the state file exists but cannot be decoded.
var ErrCorrupt = errors.New("state file is corrupt")

// Manager is a generic wrapper around a state object T which is serialized to the storage as JSON.
// Writes go to a sibling file that replaces the state file, readers never observe a torn write.
// Calls are serialized within the process, cross process exclusion is up to the caller.
type Manager[T any] struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// New creates a manager for the state file at path. Nothing is read or written.
func New[T any](fs afero.Fs, path string) *Manager[T] {
	return &Manager[T]{
		fs:   fs,
		path: path,
	}
}

// Load reads the state from disk.
// A missing or empty state file is reported through exists being false.
func (m *Manager[T]) Load() (state *T, exists bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Manager[T]) load() (*T, bool, error) {
	var state T
	exists, err := fileutils.SafeReadJSON(m.fs, m.path, &state)
	if err != nil {
		if exists {
			log.WithError(err).Debugf("failed to decode %q", m.path)
			return nil, true, fmt.Errorf("%w: %s: %w", ErrCorrupt, m.path, err)
		}
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	return &state, true, nil
}

// Commit replaces the state on disk with state.
func (m *Manager[T]) Commit(state *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fileutils.SafeWriteJSON(m.fs, m.path, state)
}

// Modify loads the current state and writes it back after cb changed it.
// The state passed to cb is nil if no state exists on disk.
// Nothing is written if cb returns an error or a nil state.
func (m *Manager[T]) Modify(cb func(state *T) (*T, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, _, err := m.load()
	if err != nil {
		return err
	}
	next, err := cb(state)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return fileutils.SafeWriteJSON(m.fs, m.path, next)
}

// Clear removes the state file.
func (m *Manager[T]) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fileutils.RemoveIfExists(m.fs, m.path)
}
