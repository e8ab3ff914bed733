package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/mod/sumdb/dirhash"

	"github.com/unbasical/bundle-ota/internal/pkg/core/metrics"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/bundle-ota/pkg/client/updater/backupmanager"
	"github.com/unbasical/bundle-ota/pkg/client/updater/fetcher"
	"github.com/unbasical/bundle-ota/pkg/client/updater/healthchecker"
	"github.com/unbasical/bundle-ota/pkg/client/updater/statemanager"
	"github.com/unbasical/bundle-ota/pkg/client/updater/storage"
	"github.com/unbasical/bundle-ota/pkg/client/updater/updatefinder"
	"github.com/unbasical/bundle-ota/pkg/client/updater/updaterstate"
	"github.com/unbasical/bundle-ota/pkg/client/updater/validator"
	"github.com/unbasical/bundle-ota/pkg/client/updater/verifier"
)

// HTTPDoer is the HTTP port of the client, *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client manages the OTA bundle directories of one application.
// It is not safe for concurrent use and callers have to ensure only one process operates on a storage root.
type Client struct {
	opts       clientOpts
	fs         afero.Fs
	httpClient HTTPDoer
	store      *storage.Manager
	state      *statemanager.Manager[updaterstate.State]
	finder     updatefinder.UpdateFinder
	fetcher    *fetcher.Fetcher
	backup     backupmanager.BackupManager
	verifier   verifier.ArchiveVerifier
	health     healthchecker.HealthChecker
}

// RollbackResult describes what RollbackIfNeeded did.
type RollbackResult string

const (
	// RollbackNotNeeded means there was no record or the applied update is confirmed.
	RollbackNotNeeded RollbackResult = "not-needed"
	// RollbackDeferred means the update is unconfirmed but still within its boot attempt allowance.
	RollbackDeferred RollbackResult = "deferred"
	// RollbackPerformed means the backup was restored.
	RollbackPerformed RollbackResult = "performed"
	// RollbackSkipped means the update is unconfirmed but there is no backup to restore.
	RollbackSkipped RollbackResult = "skipped"
	// RollbackIncomplete means the backup was restored but the record could not be updated.
	// It is always returned together with an error, the next reconciliation finishes the rollback.
	RollbackIncomplete RollbackResult = "incomplete"
)

// Status summarizes the OTA state on disk.
type Status struct {
	// InstalledVersion is empty if no update is installed.
	InstalledVersion string `json:"installed_version,omitempty"`
	// Record is nil if no update was ever applied.
	Record               *updaterstate.State `json:"record,omitempty"`
	CurrentHasBundle     bool                `json:"current_has_bundle"`
	PreviousHasBundle    bool                `json:"previous_has_bundle"`
	CurrentDirectoryHash string              `json:"current_directory_hash,omitempty"`
}

// Layout returns the on-disk layout the client operates on.
func (c *Client) Layout() storage.Layout {
	return c.store.Layout()
}

// EnsureOTADirs creates the OTA root and its current and previous directories.
func (c *Client) EnsureOTADirs() error {
	return c.store.EnsureDirs()
}

// GetInstalledVersion returns the version of the applied update.
// It reports false if no update is installed or the record cannot be read.
func (c *Client) GetInstalledVersion() (string, bool) {
	s, err := c.loadRecord()
	if err != nil {
		log.WithError(err).Warn("failed to read installed version")
		return "", false
	}
	if s == nil || s.Version == "" {
		return "", false
	}
	return s.Version, true
}

// CheckForUpdate returns the latest release if its version differs from currentVersion.
// Any failure results in nil.
func (c *Client) CheckForUpdate(ctx context.Context, currentVersion string) *updatefinder.UpdateInfo {
	return c.finder.FindUpdate(ctx, currentVersion)
}

// DownloadUpdate downloads the archive at url and returns the path it was written to.
func (c *Client) DownloadUpdate(ctx context.Context, url string) (string, error) {
	d, err := c.fetcher.Download(ctx, url)
	if err != nil {
		return "", NewUpdaterError(ErrDownloadFailed, err)
	}
	return d.Path, nil
}

// ApplyUpdate stages the archive and promotes it to the current bundle.
// The replaced bundle is kept as the single backup and the update is recorded as pending.
// If staging fails the current bundle and the record are left untouched.
func (c *Client) ApplyUpdate(archivePath, version string) (err error) {
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
		}
		metrics.Applies.WithLabelValues(result).Inc()
	}()
	if err := c.store.EnsureDirs(); err != nil {
		return NewUpdaterError(ErrFailedToApplyUpdate, err)
	}
	replaced, err := c.loadRecord()
	if err != nil {
		return c.stateError(ErrFailedToApplyUpdate, err)
	}
	staged, err := c.fetcher.Stage(archivePath)
	if err != nil {
		switch {
		case errors.Is(err, validator.ErrEntryPointMissing):
			return NewUpdaterError(ErrBundleMissing, err)
		case errors.Is(err, fetcher.ErrInvalidArchive):
			return NewUpdaterError(ErrExtractFailed, err)
		default:
			return NewUpdaterError(ErrFailedChecks, err)
		}
	}
	bundleHash, err := c.hashDirectory(staged)
	if err != nil {
		return NewUpdaterError(ErrFailedToApplyUpdate, err)
	}
	if _, err := c.backup.CreateBackup(); err != nil {
		return NewUpdaterError(ErrFailedToCreateBackup, err)
	}
	l := c.store.Layout()
	if err := c.store.MoveReplace(staged, l.Current()); err != nil {
		return NewUpdaterError(ErrFailedToApplyUpdate, errors.Join(err, c.backup.RestoreBackup()))
	}
	record := updaterstate.NewPending(version, replaced)
	record.BundleHash = bundleHash
	if err := c.state.Commit(&record); err != nil {
		// without a pending record the new bundle would never be rolled back
		return NewUpdaterError(ErrFailedToApplyUpdate, errors.Join(err, c.backup.RestoreBackup()))
	}
	log.Infof("applied update %q, pending confirmation", version)
	return nil
}

// RollbackIfNeeded restores the backup if the applied update was not confirmed in time.
// It has to run once per boot before the running bundle is confirmed.
// A rollback whose record update was interrupted is finished without moving any directory.
func (c *Client) RollbackIfNeeded() (RollbackResult, error) {
	result := RollbackNotNeeded
	err := c.modifyRecord(func(s *updaterstate.State) (*updaterstate.State, error) {
		if s == nil || !s.IsPending() {
			return nil, nil
		}
		if s.BootAttempts < c.opts.BootAttempts {
			s.BootAttempts++
			result = RollbackDeferred
			log.Infof("update %q is unconfirmed, boot attempt %d/%d", s.Version, s.BootAttempts, c.opts.BootAttempts)
			return s, nil
		}
		action, err := c.decideRollback(s)
		if err != nil {
			return nil, err
		}
		switch action {
		case restoreBackup:
			log.Warnf("update %q was not confirmed, rolling back", s.Version)
			if err := c.backup.RestoreBackup(); err != nil {
				return nil, err
			}
		case finishRollback:
			log.Warnf("backup for update %q was already restored, finishing rollback", s.Version)
		default:
			result = RollbackSkipped
			log.Warnf("update %q is unconfirmed but there is no backup to restore", s.Version)
			return nil, nil
		}
		s.MarkRolledBack()
		result = RollbackPerformed
		return s, nil
	})
	if err != nil {
		if result == RollbackPerformed {
			result = RollbackIncomplete
		}
		return result, c.stateError(ErrRollbackFailed, err)
	}
	if result == RollbackPerformed {
		metrics.Rollbacks.Inc()
	}
	return result, nil
}

// isReplaced reports whether current no longer holds the bundle the pending record was written for.
// Records without a bundle hash are never considered replaced.
func (c *Client) isReplaced(s *updaterstate.State) (bool, error) {
	if s.BundleHash == "" {
		return false, nil
	}
	current := c.store.Layout().Current()
	exists, isDir, err := fileutils.ExistsAndIsDirectory(c.fs, current)
	if err != nil || !exists || !isDir {
		return false, err
	}
	h, err := c.hashDirectory(current)
	if err != nil {
		return false, err
	}
	return h != s.BundleHash, nil
}

type rollbackAction int

const (
	skipRollback rollbackAction = iota
	restoreBackup
	finishRollback
)

// decideRollback decides how the pending record s is rolled back.
// A backup holding an entry point is always restored. An empty previous only stands for the
// built-in bundle when the record has no previous version, and is only restored if current
// still holds the bundle the record was written for.
func (c *Client) decideRollback(s *updaterstate.State) (rollbackAction, error) {
	l := c.store.Layout()
	hasBundle, err := c.store.HasEntryPoint(l.Previous())
	if err != nil || hasBundle {
		return restoreBackup, err
	}
	replaced, err := c.isReplaced(s)
	if err != nil || replaced {
		return finishRollback, err
	}
	if s.PreviousVersion != "" {
		return skipRollback, nil
	}
	hasBackup, err := c.backup.HasBackup()
	if err != nil || !hasBackup {
		return skipRollback, err
	}
	return restoreBackup, nil
}

// MarkSuccess confirms the applied update.
// Without an applied update this is a no-op and no record is created.
func (c *Client) MarkSuccess() error {
	err := c.modifyRecord(func(s *updaterstate.State) (*updaterstate.State, error) {
		if s == nil {
			log.Debug("no update applied, nothing to confirm")
			return nil, nil
		}
		if !s.IsPending() {
			return nil, nil
		}
		s.MarkSuccess()
		metrics.Confirmations.Inc()
		log.Infof("confirmed update %q", s.Version)
		return s, nil
	})
	if err != nil {
		return c.stateError(ErrConfirmFailed, err)
	}
	return nil
}

// Confirm runs the health check and confirms the applied update if it passes.
func (c *Client) Confirm(ctx context.Context) error {
	if err := c.health.HealthCheck(ctx); err != nil {
		return NewUpdaterError(ErrFailedHealthChecks, err)
	}
	return c.MarkSuccess()
}

// ClearOTA deletes all OTA state, the built-in bundle is used until the next update.
// The record goes first so an interrupted wipe never leaves a record for a partially deleted bundle.
func (c *Client) ClearOTA() error {
	if err := c.state.Clear(); err != nil {
		return err
	}
	return c.store.Wipe()
}

// Status reads the OTA state without modifying it.
func (c *Client) Status() (Status, error) {
	var st Status
	l := c.store.Layout()
	record, err := c.loadRecord()
	if err != nil {
		return st, c.stateError(ErrCorruptState, err)
	}
	st.Record = record
	if record != nil {
		st.InstalledVersion = record.Version
	}
	if st.CurrentHasBundle, err = c.store.HasEntryPoint(l.Current()); err != nil {
		return st, err
	}
	if st.PreviousHasBundle, err = c.store.HasEntryPoint(l.Previous()); err != nil {
		return st, err
	}
	exists, isDir, err := fileutils.ExistsAndIsDirectory(c.fs, l.Current())
	if err != nil {
		return st, err
	}
	if exists && isDir {
		if st.CurrentDirectoryHash, err = c.hashDirectory(l.Current()); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (c *Client) hashDirectory(dir string) (string, error) {
	files, err := fileutils.ListFiles(c.fs, dir)
	if err != nil {
		return "", err
	}
	return dirhash.Hash1(files, func(name string) (io.ReadCloser, error) {
		return c.fs.Open(filepath.Join(dir, filepath.FromSlash(name)))
	})
}

// loadRecord reads the record and rejects records with an unknown status.
func (c *Client) loadRecord() (*updaterstate.State, error) {
	s, _, err := c.state.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRecord(s); err != nil {
		return nil, err
	}
	return s, nil
}

// modifyRecord is statemanager.Manager.Modify with the validation of loadRecord.
func (c *Client) modifyRecord(cb func(s *updaterstate.State) (*updaterstate.State, error)) error {
	return c.state.Modify(func(s *updaterstate.State) (*updaterstate.State, error) {
		if err := validateRecord(s); err != nil {
			return nil, err
		}
		return cb(s)
	})
}

func validateRecord(s *updaterstate.State) error {
	if s == nil {
		return nil
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", statemanager.ErrCorrupt, err)
	}
	return nil
}

// stateError maps errors of the record store to an UpdaterError.
func (c *Client) stateError(kind, err error) error {
	var updaterErr UpdaterError
	if errors.As(err, &updaterErr) {
		return err
	}
	if errors.Is(err, statemanager.ErrCorrupt) {
		return NewUpdaterError(ErrCorruptState, err)
	}
	return NewUpdaterError(kind, err)
}
