package backupmanager

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/bundle-ota/pkg/client/updater/storage"
)

// ErrNoBackup is returned by RestoreBackup when the backup slot is empty.
var ErrNoBackup = errors.New("no backup available")

// BackupManager handles keeping the replaced bundle around so it can be restored.
type BackupManager interface {
	// CreateBackup moves the current bundle out of the way.
	// It reports false if there was nothing to back up.
	CreateBackup() (bool, error)
	// RestoreBackup replaces the current bundle with the backup.
	RestoreBackup() error
	// HasBackup reports whether a backup can be restored.
	HasBackup() (bool, error)
}

type singleSlot struct {
	store *storage.Manager
}

// NewSingleSlot creates a BackupManager that keeps exactly one generation in the previous directory.
// Creating a backup discards the one that existed before.
func NewSingleSlot(store *storage.Manager) BackupManager {
	return &singleSlot{store: store}
}

func (s *singleSlot) CreateBackup() (bool, error) {
	l := s.store.Layout()
	exists, err := s.store.Exists(l.Current())
	if err != nil {
		return false, err
	}
	if !exists {
		log.Debug("no current bundle, skipping backup")
		return false, nil
	}
	if err := s.store.MoveReplace(l.Current(), l.Previous()); err != nil {
		return false, fmt.Errorf("failed to move current bundle to backup slot: %w", err)
	}
	return true, nil
}

func (s *singleSlot) HasBackup() (bool, error) {
	return s.store.Exists(s.store.Layout().Previous())
}

func (s *singleSlot) RestoreBackup() error {
	l := s.store.Layout()
	ok, err := s.HasBackup()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoBackup
	}
	log.Info("restoring backup")
	if err := s.store.MoveReplace(l.Previous(), l.Current()); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	return nil
}
