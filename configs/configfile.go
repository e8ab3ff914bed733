package configs

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/buildurl"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/bundle-ota/pkg/constants"
)

// OTAConfig is the YAML configuration of the ota-cli.
// Unset fields fall back to the defaults of the updater client.
type OTAConfig struct {
	Root       string `yaml:"root"`
	ReleaseURL string `yaml:"release_url"`
	// Repository is used to derive ReleaseURL if that is not set, in the form "owner/name".
	Repository       string `yaml:"repository"`
	ArchiveExtension string `yaml:"archive_extension"`
	EntryPoint       string `yaml:"entry_point"`
	// AppVersion is the version of the bundle shipped with the application.
	AppVersion string `yaml:"app_version"`
	// BootAttempts is a pointer so an explicit 0 (strict mode) can be told apart from an unset value.
	BootAttempts    *uint         `yaml:"boot_attempts"`
	DownloadRetries uint          `yaml:"download_retries"`
	MaxArchiveSize  uint64        `yaml:"max_archive_size"`
	HealthCommand   []string      `yaml:"health_command"`
	HealthTimeout   time.Duration `yaml:"health_timeout"`
	MetricsFile     string        `yaml:"metrics_file"`
}

// LoadOTAConfig reads the config file at path.
// A missing or empty file results in an empty config.
func LoadOTAConfig(fsys afero.Fs, path string) (OTAConfig, error) {
	var cfg OTAConfig
	if path == "" {
		return cfg, nil
	}
	exists, err := afero.Exists(fsys, path)
	if err != nil {
		return cfg, err
	}
	if !exists {
		return cfg, fmt.Errorf("config file %q: %w", path, os.ErrNotExist)
	}
	if _, err := fileutils.SafeReadYAML(fsys, path, &cfg); err != nil {
		return OTAConfig{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// Override replaces every field of c that is set in other.
func (c OTAConfig) Override(other OTAConfig) OTAConfig {
	if other.Root != "" {
		c.Root = other.Root
	}
	if other.ReleaseURL != "" {
		c.ReleaseURL = other.ReleaseURL
	}
	if other.Repository != "" {
		c.Repository = other.Repository
	}
	if other.ArchiveExtension != "" {
		c.ArchiveExtension = other.ArchiveExtension
	}
	if other.EntryPoint != "" {
		c.EntryPoint = other.EntryPoint
	}
	if other.AppVersion != "" {
		c.AppVersion = other.AppVersion
	}
	if other.BootAttempts != nil {
		c.BootAttempts = other.BootAttempts
	}
	if other.DownloadRetries != 0 {
		c.DownloadRetries = other.DownloadRetries
	}
	if other.MaxArchiveSize != 0 {
		c.MaxArchiveSize = other.MaxArchiveSize
	}
	if len(other.HealthCommand) > 0 {
		c.HealthCommand = other.HealthCommand
	}
	if other.HealthTimeout != 0 {
		c.HealthTimeout = other.HealthTimeout
	}
	if other.MetricsFile != "" {
		c.MetricsFile = other.MetricsFile
	}
	return c
}

// Validate checks that the config can be used to create a client.
func (c OTAConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.ReleaseURL == "" && c.Repository != "" {
		if _, err := c.LatestReleaseURL(); err != nil {
			return err
		}
	}
	return nil
}

// LatestReleaseURL returns the configured release endpoint.
// It is derived from Repository if no URL is set and empty if neither is set.
func (c OTAConfig) LatestReleaseURL() (string, error) {
	if c.ReleaseURL != "" || c.Repository == "" {
		return c.ReleaseURL, nil
	}
	return buildurl.LatestReleaseURL(constants.GitHubAPIBase, c.Repository)
}
