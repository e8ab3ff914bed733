package updatefinder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/bundle-ota/common"
	"github.com/unbasical/bundle-ota/internal/pkg/core/metrics"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/readerutils"
	"github.com/unbasical/bundle-ota/pkg/constants"
)

// maxDescriptorSize bounds the release descriptor that is read from the remote.
const maxDescriptorSize = 4 << 20

// HTTPDoer is the HTTP port used to reach the release source, *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpdateInfo describes a bundle that is newer than the installed one.
type UpdateInfo struct {
	Version   string `json:"version"`
	BundleURL string `json:"bundle_url"`
	// Digest of the archive if the release source publishes one.
	Digest digest.Digest `json:"digest,omitempty"`
}

// UpdateFinder resolves the latest release.
type UpdateFinder interface {
	// FindUpdate returns nil if there is no update for installedVersion.
	// Failures to reach or understand the release source are logged and also result in nil.
	FindUpdate(ctx context.Context, installedVersion string) *UpdateInfo
}

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Digest             string `json:"digest"`
}

type release struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

type releaseFinder struct {
	client           HTTPDoer
	releaseURL       string
	archiveExtension string
}

// NewReleaseFinder creates an UpdateFinder that queries a latest-release endpoint.
// The endpoint has to respond with a JSON object that has a tag_name and a list of assets.
func NewReleaseFinder(client HTTPDoer, releaseURL, archiveExtension string) UpdateFinder {
	if archiveExtension == "" {
		archiveExtension = constants.DefaultArchiveExtension
	}
	return &releaseFinder{
		client:           client,
		releaseURL:       releaseURL,
		archiveExtension: archiveExtension,
	}
}

func (r *releaseFinder) FindUpdate(ctx context.Context, installedVersion string) *UpdateInfo {
	rel, err := r.latestRelease(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch latest release")
		metrics.UpdateChecks.WithLabelValues(metrics.ResultFailure).Inc()
		return nil
	}
	info := r.selectUpdate(rel, installedVersion)
	if info == nil {
		metrics.UpdateChecks.WithLabelValues(metrics.ResultNone).Inc()
		return nil
	}
	metrics.UpdateChecks.WithLabelValues(metrics.ResultAvailable).Inc()
	log.Infof("found update %q (installed: %q)", info.Version, installedVersion)
	return info
}

func (r *releaseFinder) latestRelease(ctx context.Context) (*release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.releaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", constants.ReleaseMediaType)
	req.Header.Set("User-Agent", common.UserAgent())
	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("release endpoint %q responded with status %d", r.releaseURL, res.StatusCode)
	}
	var rel release
	if err := json.NewDecoder(readerutils.NewLimitedReader(res.Body, maxDescriptorSize)).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}
	return &rel, nil
}

func (r *releaseFinder) selectUpdate(rel *release, installedVersion string) *UpdateInfo {
	if rel.TagName == "" {
		log.Warn("release has no tag")
		return nil
	}
	latestVersion := strings.TrimPrefix(rel.TagName, "v")
	if latestVersion == installedVersion {
		log.Debugf("already on latest version %q", installedVersion)
		return nil
	}
	asset, ok := lo.Find(rel.Assets, func(a releaseAsset) bool {
		return strings.HasSuffix(a.Name, r.archiveExtension)
	})
	if !ok {
		log.Warnf("release %q has no %s asset", rel.TagName, r.archiveExtension)
		return nil
	}
	return &UpdateInfo{
		Version:   latestVersion,
		BundleURL: asset.BrowserDownloadURL,
		Digest:    digest.Digest(asset.Digest),
	}
}
