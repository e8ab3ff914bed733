package updater

import (
	"errors"
	"net/http"

	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/pkg/client/updater/backupmanager"
	"github.com/unbasical/bundle-ota/pkg/client/updater/fetcher"
	"github.com/unbasical/bundle-ota/pkg/client/updater/healthchecker"
	"github.com/unbasical/bundle-ota/pkg/client/updater/statemanager"
	"github.com/unbasical/bundle-ota/pkg/client/updater/storage"
	"github.com/unbasical/bundle-ota/pkg/client/updater/updatefinder"
	"github.com/unbasical/bundle-ota/pkg/client/updater/updaterstate"
	"github.com/unbasical/bundle-ota/pkg/client/updater/verifier"
	"github.com/unbasical/bundle-ota/pkg/constants"
)

// ErrMissingStorageRoot is returned by NewClient when no storage root was configured.
var ErrMissingStorageRoot = errors.New("storage root is required")

type clientOpts struct {
	StorageRoot      string
	ReleaseURL       string
	EntryPoint       string
	ArchiveExtension string
	BootAttempts     uint
	DownloadRetries  uint
	MaxArchiveSize   uint64
	FetcherOptions   []func(*fetcher.Fetcher)
}

// NewClient creates a new OTA update client with the provided options.
func NewClient(options ...func(*Client)) (*Client, error) {
	client := &Client{
		opts: clientOpts{
			ReleaseURL:       constants.DefaultReleaseURL(),
			EntryPoint:       constants.DefaultEntryPoint,
			ArchiveExtension: constants.DefaultArchiveExtension,
			BootAttempts:     constants.DefaultBootAttempts,
		},
		fs:         afero.NewOsFs(),
		httpClient: &http.Client{},
		health:     healthchecker.NewShellHealthChecker(nil),
	}

	for _, option := range options {
		option(client)
	}
	if client.opts.StorageRoot == "" {
		return nil, ErrMissingStorageRoot
	}
	client.store = storage.New(client.fs, storage.NewLayout(client.opts.StorageRoot, client.opts.EntryPoint))
	client.state = statemanager.New[updaterstate.State](client.fs, client.store.Layout().Metadata())
	client.backup = backupmanager.NewSingleSlot(client.store)
	client.verifier = verifier.NewDigestVerifier(client.fs)
	if client.finder == nil {
		client.finder = updatefinder.NewReleaseFinder(client.httpClient, client.opts.ReleaseURL, client.opts.ArchiveExtension)
	}
	fetcherOpts := append([]func(*fetcher.Fetcher){
		fetcher.WithRetries(client.opts.DownloadRetries),
		fetcher.WithMaxArchiveSize(client.opts.MaxArchiveSize),
	}, client.opts.FetcherOptions...)
	client.fetcher = fetcher.New(client.httpClient, client.store, fetcherOpts...)
	return client, nil
}

// WithFs sets the filesystem all OTA state is kept on.
func WithFs(fs afero.Fs) func(*Client) {
	return func(c *Client) {
		c.fs = fs
	}
}

// WithHTTPClient sets the client used to query releases and download archives.
func WithHTTPClient(client HTTPDoer) func(*Client) {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithStorageRoot sets the application storage root the OTA directory is created in.
func WithStorageRoot(root string) func(*Client) {
	return func(c *Client) {
		c.opts.StorageRoot = root
	}
}

// WithReleaseURL sets the endpoint that describes the latest release.
func WithReleaseURL(releaseURL string) func(*Client) {
	return func(c *Client) {
		c.opts.ReleaseURL = releaseURL
	}
}

// WithEntryPoint sets the name of the file every bundle has to contain at its root.
func WithEntryPoint(entryPoint string) func(*Client) {
	return func(c *Client) {
		c.opts.EntryPoint = entryPoint
	}
}

// WithArchiveExtension sets the suffix used to select the release asset.
func WithArchiveExtension(ext string) func(*Client) {
	return func(c *Client) {
		c.opts.ArchiveExtension = ext
	}
}

// WithBootAttempts sets how many reconciliations may observe an unconfirmed update before it is rolled back.
// 0 rolls back on the first reconciliation that finds the update unconfirmed.
func WithBootAttempts(attempts uint) func(*Client) {
	return func(c *Client) {
		c.opts.BootAttempts = attempts
	}
}

// WithDownloadRetries sets how often a failed download is retried.
func WithDownloadRetries(retries uint) func(*Client) {
	return func(c *Client) {
		c.opts.DownloadRetries = retries
	}
}

// WithMaxArchiveSize limits the archive and the extracted bundle size in bytes, 0 means unlimited.
func WithMaxArchiveSize(limit uint64) func(*Client) {
	return func(c *Client) {
		c.opts.MaxArchiveSize = limit
	}
}

// WithHealthChecker sets the check that has to pass before a bundle is confirmed.
func WithHealthChecker(h healthchecker.HealthChecker) func(*Client) {
	return func(c *Client) {
		c.health = h
	}
}

// WithUpdateFinder replaces the release endpoint lookup.
func WithUpdateFinder(finder updatefinder.UpdateFinder) func(*Client) {
	return func(c *Client) {
		c.finder = finder
	}
}

// WithFetcherOptions passes additional options to the archive fetcher.
func WithFetcherOptions(options ...func(*fetcher.Fetcher)) func(*Client) {
	return func(c *Client) {
		c.opts.FetcherOptions = append(c.opts.FetcherOptions, options...)
	}
}
