package updater

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/bundle-ota/pkg/client/updater/updatefinder"
)

// BootResult describes what Boot did.
type BootResult struct {
	Rollback RollbackResult
	// RunningVersion is the installed update version or the application version if none is installed.
	RunningVersion string
	// Update is the release that was found, nil if there was none.
	Update *updatefinder.UpdateInfo
	// SkippedFailed is set when the found release was rolled back before and therefore ignored.
	SkippedFailed bool
	// RestartRequired is set when an update was applied and the application has to restart to use it.
	RestartRequired bool
	// Confirmed is set when the running bundle was confirmed.
	Confirmed bool
	// Err holds the failure of the update attempt, it never prevents booting the running bundle.
	Err error
}

// Boot runs the startup sequence of the application.
// It reconciles the last update, looks for a new release and applies it.
// If nothing was applied the running bundle gets confirmed after passing the health check.
// The returned error is only set if the OTA state could not be reconciled.
func (c *Client) Boot(ctx context.Context, appVersion string) (BootResult, error) {
	res := BootResult{RunningVersion: appVersion}
	if err := c.EnsureOTADirs(); err != nil {
		return res, err
	}
	rollback, err := c.RollbackIfNeeded()
	res.Rollback = rollback
	if err != nil {
		return res, err
	}
	installedVersion, isInstalled := c.GetInstalledVersion()
	if isInstalled {
		res.RunningVersion = installedVersion
	}
	log.Debugf("app version: %q, installed version: %q", appVersion, installedVersion)

	update := c.CheckForUpdate(ctx, res.RunningVersion)
	if update != nil && c.hasFailed(update.Version) {
		log.Infof("skipping update %q, it was rolled back before", update.Version)
		res.SkippedFailed = true
		update = nil
	}
	res.Update = update
	if update != nil {
		err := c.update(ctx, update)
		if err == nil {
			res.RestartRequired = true
			return res, nil
		}
		log.WithError(err).Warn("update failed, continuing with the running bundle")
		res.Err = err
	}
	if err := c.Confirm(ctx); err != nil {
		log.WithError(err).Warn("running bundle was not confirmed")
		if res.Err == nil {
			res.Err = err
		}
		return res, nil
	}
	res.Confirmed = true
	return res, nil
}

// update downloads, verifies and applies the release.
func (c *Client) update(ctx context.Context, info *updatefinder.UpdateInfo) error {
	archivePath, err := c.DownloadUpdate(ctx, info.BundleURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Remove(archivePath); err != nil {
			log.WithError(err).Debug("failed to remove archive")
		}
	}()
	if err := c.verifier.VerifyArchive(archivePath, info.Digest); err != nil {
		return NewUpdaterError(ErrVerificationFailed, err)
	}
	return c.ApplyUpdate(archivePath, info.Version)
}

func (c *Client) hasFailed(version string) bool {
	s, err := c.loadRecord()
	if err != nil || s == nil {
		return false
	}
	return s.HasFailed(version)
}
