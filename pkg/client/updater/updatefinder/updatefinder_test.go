package updatefinder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/unbasical/bundle-ota/common"
	"github.com/unbasical/bundle-ota/internal/pkg/core/metrics"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/testutils"
	"github.com/unbasical/bundle-ota/pkg/constants"
)

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestReleaseFinder_FindUpdate(t *testing.T) {
	tests := []struct {
		name      string
		release   testutils.Release
		installed string
		want      *UpdateInfo
		wantAsset string
	}{
		{
			name:      "same version with prefix",
			release:   testutils.Release{TagName: "v2.3.0", Assets: []testutils.Asset{{Name: "bundle.zip"}}},
			installed: "2.3.0",
			want:      nil,
		},
		{
			name:      "newer version strips prefix",
			release:   testutils.Release{TagName: "v2.4.0", Assets: []testutils.Asset{{Name: "bundle.zip"}}},
			installed: "2.3.0",
			want:      &UpdateInfo{Version: "2.4.0"},
			wantAsset: "bundle.zip",
		},
		{
			name:      "tag without prefix",
			release:   testutils.Release{TagName: "2.4.0", Assets: []testutils.Asset{{Name: "bundle.zip"}}},
			installed: "2.3.0",
			want:      &UpdateInfo{Version: "2.4.0"},
			wantAsset: "bundle.zip",
		},
		{
			name:      "no semantic comparison",
			release:   testutils.Release{TagName: "v1.0", Assets: []testutils.Asset{{Name: "bundle.zip"}}},
			installed: "1.0.0",
			want:      &UpdateInfo{Version: "1.0"},
			wantAsset: "bundle.zip",
		},
		{
			name:      "older remote is still an update",
			release:   testutils.Release{TagName: "v1.0.0", Assets: []testutils.Asset{{Name: "bundle.zip"}}},
			installed: "2.0.0",
			want:      &UpdateInfo{Version: "1.0.0"},
			wantAsset: "bundle.zip",
		},
		{
			name:      "no archive asset",
			release:   testutils.Release{TagName: "v2.4.0", Assets: []testutils.Asset{{Name: "notes.txt"}}},
			installed: "2.3.0",
			want:      nil,
		},
		{
			name:      "first archive asset wins",
			release:   testutils.Release{TagName: "v2.4.0", Assets: []testutils.Asset{{Name: "notes.txt"}, {Name: "a.zip"}, {Name: "b.zip"}}},
			installed: "2.3.0",
			want:      &UpdateInfo{Version: "2.4.0"},
			wantAsset: "a.zip",
		},
		{
			name:      "missing tag",
			release:   testutils.Release{Assets: []testutils.Asset{{Name: "bundle.zip"}}},
			installed: "2.3.0",
			want:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutils.NewReleaseServer(t, tt.release)
			f := NewReleaseFinder(srv.Client(), srv.ReleaseURL(), "")
			got := f.FindUpdate(context.Background(), tt.installed)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want.Version, got.Version)
				assert.Equal(t, srv.AssetURL(tt.wantAsset), got.BundleURL)
			}
		})
	}
}

func TestReleaseFinder_Digest(t *testing.T) {
	srv := testutils.NewReleaseServer(t, testutils.Release{
		TagName: "v2.0.0",
		Assets:  []testutils.Asset{{Name: "bundle.zip", Digest: "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"}},
	})
	got := NewReleaseFinder(srv.Client(), srv.ReleaseURL(), "").FindUpdate(context.Background(), "1.0.0")
	if assert.NotNil(t, got) {
		assert.Equal(t, "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", got.Digest.String())
	}
}

func TestReleaseFinder_Headers(t *testing.T) {
	srv := testutils.NewReleaseServer(t, testutils.Release{TagName: "v1.0.0"})
	f := NewReleaseFinder(srv.Client(), srv.ReleaseURL(), constants.DefaultArchiveExtension)
	_ = f.FindUpdate(context.Background(), "1.0.0")
	h := srv.LastHeaders.Load()
	if assert.NotNil(t, h) {
		assert.Equal(t, constants.ReleaseMediaType, h.Get("Accept"))
		assert.Equal(t, common.UserAgent(), h.Get("User-Agent"))
	}
}

func TestReleaseFinder_CustomExtension(t *testing.T) {
	srv := testutils.NewReleaseServer(t, testutils.Release{
		TagName: "v3.0.0",
		Assets:  []testutils.Asset{{Name: "bundle.zip"}, {Name: "bundle.ota"}},
	})
	f := NewReleaseFinder(srv.Client(), srv.ReleaseURL(), ".ota")
	got := f.FindUpdate(context.Background(), "2.0.0")
	if assert.NotNil(t, got) {
		assert.Equal(t, srv.AssetURL("bundle.ota"), got.BundleURL)
	}
}

func TestReleaseFinder_FailsSoft(t *testing.T) {
	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name": `))
	}))
	defer malformed.Close()
	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"tag_name":"v9.9.9"}`, http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()

	tests := []struct {
		name   string
		client HTTPDoer
		url    string
	}{
		{name: "transport error", client: failingDoer{}, url: "http://release.invalid/latest"},
		{name: "malformed json", client: malformed.Client(), url: malformed.URL},
		{name: "non 2xx status", client: unavailable.Client(), url: unavailable.URL},
		{name: "invalid url", client: http.DefaultClient, url: "://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.UpdateChecks.WithLabelValues(metrics.ResultFailure))
			f := NewReleaseFinder(tt.client, tt.url, "")
			assert.Nil(t, f.FindUpdate(context.Background(), "1.0.0"))
			after := testutil.ToFloat64(metrics.UpdateChecks.WithLabelValues(metrics.ResultFailure))
			assert.Equal(t, before+1, after)
		})
	}
}
