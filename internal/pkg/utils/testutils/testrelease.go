package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/buildurl"
)

// FileDescription represents a file that is stored in a bundle archive.
type FileDescription struct {
	// Name of the file, slash separated and relative to the archive root.
	Name string
	// Data of the file.
	Data []byte
}

// BundleArchive creates a ZIP archive that contains the given files.
func BundleArchive(files []FileDescription) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to add file to archive: %w", err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustBundleArchive is BundleArchive that fails the test on error.
func MustBundleArchive(t testing.TB, files []FileDescription) []byte {
	t.Helper()
	data, err := BundleArchive(files)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// WriteBundle writes files into dir so that dir looks like an extracted bundle.
func WriteBundle(t testing.TB, fs afero.Fs, dir string, files []FileDescription) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, p, f.Data, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// Asset is a downloadable file of a test release.
type Asset struct {
	Name string
	Data []byte
	// Status overrides the status code of the download, defaults to 200.
	Status int
	// Digest is published with the asset if set.
	Digest string
}

// Release is served by a ReleaseServer.
type Release struct {
	TagName string
	Assets  []Asset
}

// ReleaseServer serves a latest-release endpoint and the downloads of its assets.
type ReleaseServer struct {
	*httptest.Server
	release   atomic.Pointer[Release]
	Requests  atomic.Int64
	Downloads atomic.Int64
	// LastHeaders holds the headers of the last request to the release endpoint.
	LastHeaders atomic.Pointer[http.Header]
}

// NewReleaseServer starts a server that serves rel. It is closed when the test ends.
func NewReleaseServer(t testing.TB, rel Release) *ReleaseServer {
	t.Helper()
	s := &ReleaseServer{}
	s.SetRelease(rel)
	mux := http.NewServeMux()
	mux.HandleFunc("/releases/latest", s.serveRelease)
	mux.HandleFunc("/assets/", s.serveAsset)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetRelease replaces the served release.
func (s *ReleaseServer) SetRelease(rel Release) {
	s.release.Store(&rel)
}

// ReleaseURL is the URL of the latest-release endpoint.
func (s *ReleaseServer) ReleaseURL() string {
	return buildurl.New(buildurl.WithBasePath(s.URL), buildurl.WithPathElement("releases"), buildurl.WithPathElement("latest"))
}

// AssetURL is the download URL of the asset with the given name.
func (s *ReleaseServer) AssetURL(name string) string {
	return buildurl.New(buildurl.WithBasePath(s.URL), buildurl.WithPathElement("assets"), buildurl.WithPathElement(name))
}

func (s *ReleaseServer) serveRelease(w http.ResponseWriter, r *http.Request) {
	s.Requests.Add(1)
	h := r.Header.Clone()
	s.LastHeaders.Store(&h)
	rel := s.release.Load()
	type asset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Digest             string `json:"digest,omitempty"`
	}
	body := struct {
		TagName string  `json:"tag_name,omitempty"`
		Assets  []asset `json:"assets"`
	}{TagName: rel.TagName, Assets: []asset{}}
	for _, a := range rel.Assets {
		body.Assets = append(body.Assets, asset{Name: a.Name, BrowserDownloadURL: s.AssetURL(a.Name), Digest: a.Digest})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *ReleaseServer) serveAsset(w http.ResponseWriter, r *http.Request) {
	s.Downloads.Add(1)
	name := r.URL.Path[len("/assets/"):]
	for _, a := range s.release.Load().Assets {
		if a.Name != name {
			continue
		}
		if a.Status != 0 && a.Status != http.StatusOK {
			w.WriteHeader(a.Status)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(a.Data)
		return
	}
	http.NotFound(w, r)
}
