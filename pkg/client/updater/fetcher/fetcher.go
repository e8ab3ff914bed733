package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/bundle-ota/common"
	"github.com/unbasical/bundle-ota/internal/pkg/core/metrics"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/readerutils"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/writerutils"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/ziputils"
	"github.com/unbasical/bundle-ota/pkg/backoff"
	"github.com/unbasical/bundle-ota/pkg/client/updater/inspector"
	"github.com/unbasical/bundle-ota/pkg/client/updater/storage"
	"github.com/unbasical/bundle-ota/pkg/client/updater/validator"
)

var (
	// ErrUnexpectedStatus is returned when the archive download does not respond with 200.
	ErrUnexpectedStatus = errors.New("unexpected download status")
	// ErrInvalidArchive is returned when the downloaded archive cannot be extracted.
	ErrInvalidArchive = errors.New("invalid bundle archive")
)

// HTTPDoer is the HTTP port used to download archives, *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Download is an archive that was written to disk.
type Download struct {
	Path   string
	Digest digest.Digest
	Size   int64
}

// Fetcher downloads bundle archives to the scratch path and stages them.
type Fetcher struct {
	client     HTTPDoer
	store      *storage.Manager
	sizeLimit  validator.SizeLimitedValidator
	validators []validator.BundleValidator
	newBackoff func() backoff.Strategy
	inspector  inspector.DownloadInspector
}

// New creates a Fetcher that writes into the layout of store.
// The staged bundle is always checked for its entry point.
func New(client HTTPDoer, store *storage.Manager, options ...func(*Fetcher)) *Fetcher {
	f := &Fetcher{
		client:     client,
		store:      store,
		newBackoff: backoff.NoRetry,
		inspector:  inspector.NewDownloadProgressObserver(inspector.DefaultInterval),
	}
	for _, option := range options {
		option(f)
	}
	f.validators = append(
		[]validator.BundleValidator{validator.EntryPointValidator{EntryPoint: store.Layout().EntryPointName()}},
		f.validators...,
	)
	return f
}

// WithMaxArchiveSize limits the size of downloaded archives and of the extracted bundle, 0 means unlimited.
func WithMaxArchiveSize(limit uint64) func(*Fetcher) {
	return func(f *Fetcher) {
		f.sizeLimit = validator.SizeLimitedValidator{Limit: limit}
		f.validators = append(f.validators, f.sizeLimit)
	}
}

// WithRetries retries failed transfers up to retries times with exponential backoff.
func WithRetries(retries uint) func(*Fetcher) {
	return func(f *Fetcher) {
		f.newBackoff = func() backoff.Strategy {
			return backoff.DefaultBackoff(retries)
		}
	}
}

// WithBackoff sets the strategy used between attempts, a new strategy is created per download.
func WithBackoff(newBackoff func() backoff.Strategy) func(*Fetcher) {
	return func(f *Fetcher) {
		f.newBackoff = newBackoff
	}
}

// WithValidators adds validators that are run on every staged bundle.
func WithValidators(validators ...validator.BundleValidator) func(*Fetcher) {
	return func(f *Fetcher) {
		f.validators = append(f.validators, validators...)
	}
}

// WithInspector replaces the inspector every download body is passed through.
func WithInspector(i inspector.DownloadInspector) func(*Fetcher) {
	return func(f *Fetcher) {
		f.inspector = i
	}
}

// transientError marks failures that may succeed when attempted again.
type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }

func (t transientError) Unwrap() error { return t.err }

// Download streams the archive at url to the fixed archive path of the layout.
// The archive is overwritten by every call, concurrent downloads are not supported.
func (f *Fetcher) Download(ctx context.Context, url string) (Download, error) {
	if err := f.store.EnsureDir(f.store.Layout().Root()); err != nil {
		return Download{}, err
	}
	b := f.newBackoff()
	for {
		d, err := f.download(ctx, url)
		if err == nil {
			metrics.Downloads.WithLabelValues(metrics.ResultSuccess).Inc()
			log.Infof("downloaded %d bytes (%s) to %q", d.Size, d.Digest, d.Path)
			return d, nil
		}
		var transient transientError
		if !errors.As(err, &transient) || ctx.Err() != nil {
			metrics.Downloads.WithLabelValues(metrics.ResultFailure).Inc()
			return Download{}, err
		}
		if waitErr := b.Wait(ctx); waitErr != nil {
			metrics.Downloads.WithLabelValues(metrics.ResultFailure).Inc()
			if errors.Is(waitErr, backoff.ErrRetriesExceeded) {
				return Download{}, err
			}
			return Download{}, errors.Join(err, waitErr)
		}
		log.WithError(err).Warn("download failed, retrying")
	}
}

func (f *Fetcher) download(ctx context.Context, url string) (Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Download{}, err
	}
	req.Header.Set("User-Agent", common.UserAgent())
	res, err := f.client.Do(req)
	if err != nil {
		return Download{}, transientError{err: err}
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %q responded with %d", ErrUnexpectedStatus, url, res.StatusCode)
		if res.StatusCode >= http.StatusInternalServerError {
			return Download{}, transientError{err: err}
		}
		return Download{}, err
	}
	if res.ContentLength > 0 {
		if err := f.sizeLimit.CheckSize(uint64(res.ContentLength)); err != nil {
			return Download{}, err
		}
	}

	archivePath := f.store.Layout().Archive()
	fp, err := f.store.Fs().OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return Download{}, err
	}
	w := writerutils.NewSafeFileWriter(fp)
	digester := digest.Canonical.Digester()
	var n atomic.Uint64
	inspected, stop := f.inspector.InspectContents(res.Body, res.ContentLength)
	defer stop()
	body := readerutils.NewCountingReader(readerutils.NewLimitedReader(inspected, f.sizeLimit.Limit), &n)
	_, copyErr := io.Copy(w, io.TeeReader(body, digester.Hash()))
	if err := errors.Join(copyErr, w.Close()); err != nil {
		if rmErr := fileutils.RemoveIfExists(f.store.Fs(), archivePath); rmErr != nil {
			log.WithError(rmErr).Warn("failed to remove partial archive")
		}
		if copyErr != nil && !errors.Is(copyErr, readerutils.ErrLimitExceeded) {
			return Download{}, transientError{err: err}
		}
		return Download{}, err
	}
	metrics.DownloadedBytes.Add(float64(n.Load()))
	return Download{
		Path:   archivePath,
		Digest: digester.Digest(),
		Size:   int64(n.Load()),
	}, nil
}

// Stage extracts the archive into the emptied staging directory and validates the result.
// It returns the staging directory. On failure the staging directory is removed.
func (f *Fetcher) Stage(archivePath string) (string, error) {
	tempDir := f.store.Layout().Temp()
	if err := f.store.EnsureDir(tempDir); err != nil {
		return "", err
	}
	if err := fileutils.CleanDirectory(f.store.Fs(), tempDir); err != nil {
		return "", err
	}
	if err := ziputils.Extract(f.store.Fs(), archivePath, tempDir, f.sizeLimit.Limit); err != nil {
		f.discard(tempDir)
		if errors.Is(err, readerutils.ErrLimitExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	for _, v := range f.validators {
		if err := v.Validate(f.store.Fs(), tempDir); err != nil {
			f.discard(tempDir)
			return "", err
		}
	}
	log.Debugf("staged %q in %q", archivePath, tempDir)
	return tempDir, nil
}

func (f *Fetcher) discard(dir string) {
	if err := f.store.Remove(dir); err != nil {
		log.WithError(err).Warnf("failed to remove %q", dir)
	}
}
