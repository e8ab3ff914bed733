package ziputils

import (
	"bytes"
	"hash/crc32"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/readerutils"
)

func writeArchive(t *testing.T, fsys afero.Fs, p string, members map[string]string) {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, p, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		members map[string]string
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "flat bundle",
			members: map[string]string{"index.bundle": "console.log(1)"},
			want:    map[string]string{"index.bundle": "console.log(1)"},
		},
		{
			name: "nested assets",
			members: map[string]string{
				"index.bundle":          "bundle",
				"assets/":               "",
				"assets/img/logo.png":   "png",
				"assets/fonts/font.ttf": "ttf",
			},
			want: map[string]string{
				"index.bundle":          "bundle",
				"assets/img/logo.png":   "png",
				"assets/fonts/font.ttf": "ttf",
			},
		},
		{
			name:    "path traversal",
			members: map[string]string{"../meta.json": "{}"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeArchive(t, fsys, "/ota/update.zip", tt.members)
			assert.NoError(t, fsys.MkdirAll("/ota/temp", 0755))

			err := Extract(fsys, "/ota/update.zip", "/ota/temp", 0)
			if tt.wantErr {
				assert.Error(t, err)
				exists, _ := afero.Exists(fsys, "/ota/meta.json")
				assert.False(t, exists, "archive member escaped the extraction directory")
				return
			}
			assert.NoError(t, err)
			for name, content := range tt.want {
				got, err := afero.ReadFile(fsys, "/ota/temp/"+name)
				assert.NoError(t, err)
				assert.Equal(t, content, string(got))
			}
		})
	}
}

func TestExtract_Corrupt(t *testing.T) {
	fsys := afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fsys, "/update.zip", []byte("this is not a zip archive"), 0644))
	assert.NoError(t, fsys.MkdirAll("/temp", 0755))
	assert.Error(t, Extract(fsys, "/update.zip", "/temp", 0))
}

func TestCreateFromDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	assert.NoError(t, fsys.MkdirAll("/bundle/assets", 0755))
	assert.NoError(t, afero.WriteFile(fsys, "/bundle/index.bundle", []byte("bundle"), 0644))
	assert.NoError(t, afero.WriteFile(fsys, "/bundle/assets/a.png", []byte("png"), 0644))

	assert.NoError(t, CreateFromDirectory(fsys, "/bundle", "/bundle.zip"))
	assert.NoError(t, fsys.MkdirAll("/out", 0755))
	assert.NoError(t, Extract(fsys, "/bundle.zip", "/out", 0))

	got, err := afero.ReadFile(fsys, "/out/index.bundle")
	assert.NoError(t, err)
	assert.Equal(t, "bundle", string(got))
	got, err = afero.ReadFile(fsys, "/out/assets/a.png")
	assert.NoError(t, err)
	assert.Equal(t, "png", string(got))
}

func TestExtract_Limit(t *testing.T) {
	tests := []struct {
		name    string
		members map[string]string
		limit   uint64
		wantErr bool
	}{
		{name: "disabled", members: map[string]string{"index.bundle": strings.Repeat("a", 4096)}, limit: 0},
		{name: "exact", members: map[string]string{"index.bundle": strings.Repeat("a", 4096)}, limit: 4096},
		{name: "single member too large", members: map[string]string{"index.bundle": strings.Repeat("a", 4096)}, limit: 4095, wantErr: true},
		{
			name: "members add up",
			members: map[string]string{
				"index.bundle": strings.Repeat("a", 3000),
				"assets/a.png": strings.Repeat("b", 3000),
			},
			limit:   4096,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeArchive(t, fsys, "/update.zip", tt.members)
			assert.NoError(t, fsys.MkdirAll("/temp", 0755))
			err := Extract(fsys, "/update.zip", "/temp", tt.limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, readerutils.ErrLimitExceeded)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExtract_UnderstatedSize(t *testing.T) {
	content := bytes.Repeat([]byte{0}, 64*1024)
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "index.bundle",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(content),
		CompressedSize64:   uint64(len(content)),
		UncompressedSize64: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	fsys := afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fsys, "/update.zip", buf.Bytes(), 0644))
	assert.NoError(t, fsys.MkdirAll("/temp", 0755))

	assert.Error(t, Extract(fsys, "/update.zip", "/temp", 1024))
	info, err := fsys.Stat("/temp/index.bundle")
	if err == nil {
		assert.LessOrEqual(t, info.Size(), int64(1025), "extraction must stop at the byte budget")
	}
}

func TestCreateFromDirectory_OutputInsideDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fsys, "/bundle/index.bundle", []byte("bundle"), 0644))

	assert.NoError(t, CreateFromDirectory(fsys, "/bundle", "/bundle/out.zip"))
	raw, err := afero.ReadFile(fsys, "/bundle/out.zip")
	assert.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	assert.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"index.bundle"}, names)
}
