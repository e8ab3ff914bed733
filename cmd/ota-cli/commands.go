package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/configs"
	"github.com/unbasical/bundle-ota/internal/pkg/core/metrics"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/ziputils"
	"github.com/unbasical/bundle-ota/pkg/client/updater"
	"github.com/unbasical/bundle-ota/pkg/client/updater/healthchecker"
	"github.com/unbasical/bundle-ota/pkg/constants"
)

const lockFileSuffix = ".lock"

type cliArgs struct {
	ConfigPath string
	// Flags holds the values set on the command line, they override the config file.
	Flags    configs.OTAConfig
	Download struct {
		URL string
	}
	Apply struct {
		Archive string
		Version string
	}
	Confirm struct {
		SkipHealthCheck bool
	}
	Pack struct {
		Dir string
		Out string
	}

	fs  afero.Fs
	out io.Writer
	cfg configs.OTAConfig
}

// bootReport is the machine readable result of the boot command.
type bootReport struct {
	Rollback        updater.RollbackResult `json:"rollback"`
	RunningVersion  string                 `json:"running_version"`
	UpdateVersion   string                 `json:"update_version,omitempty"`
	SkippedFailed   bool                   `json:"skipped_failed"`
	RestartRequired bool                   `json:"restart_required"`
	Confirmed       bool                   `json:"confirmed"`
	Error           string                 `json:"error,omitempty"`
}

func (args *cliArgs) filesystem() afero.Fs {
	if args.fs == nil {
		args.fs = afero.NewOsFs()
	}
	return args.fs
}

// loadConfig merges the config file with the command line flags.
func (args *cliArgs) loadConfig() error {
	cfg, err := configs.LoadOTAConfig(args.filesystem(), args.ConfigPath)
	if err != nil {
		return err
	}
	args.cfg = cfg.Override(args.Flags)
	return args.cfg.Validate()
}

// run executes f with a client for the configured root.
// Commands that modify the OTA state hold the lock of the root while running.
func (args *cliArgs) run(ctx context.Context, exclusive bool, f func(context.Context, *updater.Client) error) error {
	if err := args.loadConfig(); err != nil {
		return err
	}
	if exclusive {
		lock, err := fileutils.TryLock(filepath.Clean(args.cfg.Root) + lockFileSuffix)
		if err != nil {
			return err
		}
		defer func() {
			if err := fileutils.Unlock(lock); err != nil {
				log.WithError(err).Warn("failed to release lock")
			}
		}()
	}
	client, err := args.newClient()
	if err != nil {
		return err
	}
	err = f(ctx, client)
	if args.cfg.MetricsFile != "" {
		if metricsErr := metrics.WriteTextfile(args.cfg.MetricsFile); metricsErr != nil {
			log.WithError(metricsErr).Warn("failed to write metrics")
		}
	}
	return err
}

func (args *cliArgs) newClient() (*updater.Client, error) {
	cfg := args.cfg
	options := []func(*updater.Client){
		updater.WithFs(args.filesystem()),
		updater.WithStorageRoot(cfg.Root),
		updater.WithHTTPClient(&http.Client{}),
		updater.WithDownloadRetries(cfg.DownloadRetries),
		updater.WithMaxArchiveSize(cfg.MaxArchiveSize),
		updater.WithHealthChecker(withTimeout(healthchecker.NewShellHealthChecker(cfg.HealthCommand), cfg.HealthTimeout)),
	}
	releaseURL, err := cfg.LatestReleaseURL()
	if err != nil {
		return nil, err
	}
	if releaseURL != "" {
		options = append(options, updater.WithReleaseURL(releaseURL))
	}
	if cfg.EntryPoint != "" {
		options = append(options, updater.WithEntryPoint(cfg.EntryPoint))
	}
	if cfg.ArchiveExtension != "" {
		options = append(options, updater.WithArchiveExtension(cfg.ArchiveExtension))
	}
	if cfg.BootAttempts != nil {
		options = append(options, updater.WithBootAttempts(*cfg.BootAttempts))
	}
	return updater.NewClient(options...)
}

func withTimeout(h healthchecker.HealthChecker, timeout time.Duration) healthchecker.HealthChecker {
	if timeout <= 0 {
		return h
	}
	return healthchecker.Func(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return h.HealthCheck(ctx)
	})
}

func (args *cliArgs) printJSON(v any) error {
	enc := json.NewEncoder(args.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (args *cliArgs) boot(ctx context.Context, client *updater.Client) error {
	res, err := client.Boot(ctx, args.cfg.AppVersion)
	if errors.Is(err, updater.ErrCorruptState) {
		// the built-in bundle is always bootable, start over from it
		log.WithError(err).Error("OTA state is corrupt, clearing it")
		if err := client.ClearOTA(); err != nil {
			return err
		}
		res, err = client.Boot(ctx, args.cfg.AppVersion)
	}
	if err != nil {
		return err
	}
	report := bootReport{
		Rollback:        res.Rollback,
		RunningVersion:  res.RunningVersion,
		SkippedFailed:   res.SkippedFailed,
		RestartRequired: res.RestartRequired,
		Confirmed:       res.Confirmed,
	}
	if res.Update != nil {
		report.UpdateVersion = res.Update.Version
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	return args.printJSON(report)
}

func (args *cliArgs) check(ctx context.Context, client *updater.Client) error {
	running := args.cfg.AppVersion
	if installed, ok := client.GetInstalledVersion(); ok {
		running = installed
	}
	return args.printJSON(client.CheckForUpdate(ctx, running))
}

func (args *cliArgs) download(ctx context.Context, client *updater.Client) error {
	archivePath, err := client.DownloadUpdate(ctx, args.Download.URL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(args.out, archivePath)
	return err
}

func (args *cliArgs) apply(_ context.Context, client *updater.Client) error {
	if err := client.ApplyUpdate(args.Apply.Archive, args.Apply.Version); err != nil {
		return err
	}
	log.Info("restart the application to use the new bundle")
	return nil
}

func (args *cliArgs) confirm(ctx context.Context, client *updater.Client) error {
	if args.Confirm.SkipHealthCheck {
		return client.MarkSuccess()
	}
	return client.Confirm(ctx)
}

func (args *cliArgs) rollback(_ context.Context, client *updater.Client) error {
	res, err := client.RollbackIfNeeded()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(args.out, res)
	return err
}

func (args *cliArgs) clear(_ context.Context, client *updater.Client) error {
	return client.ClearOTA()
}

func (args *cliArgs) status(_ context.Context, client *updater.Client) error {
	st, err := client.Status()
	if err != nil {
		return err
	}
	return args.printJSON(st)
}

// pack creates an archive that can be published as a release asset.
func (args *cliArgs) pack() error {
	fsys := args.filesystem()
	entryPoint := args.Flags.EntryPoint
	if entryPoint == "" {
		entryPoint = constants.DefaultEntryPoint
	}
	if ok, err := afero.Exists(fsys, filepath.Join(args.Pack.Dir, entryPoint)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%q does not contain %q", args.Pack.Dir, entryPoint)
	}
	if err := ziputils.CreateFromDirectory(fsys, args.Pack.Dir, args.Pack.Out); err != nil {
		return err
	}
	log.Infof("bundle archive written to %s", args.Pack.Out)
	return nil
}
