package ziputils

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/pathsanitize"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/readerutils"
)

// Extract extracts the zip archive at archivePath into dir.
// dir has to exist. Members escaping dir and anything but regular files and directories are rejected.
// At most limit bytes are written, more fails with readerutils.ErrLimitExceeded. A limit of 0 disables the check.
func Extract(fsys afero.Fs, archivePath, dir string, limit uint64) (err error) {
	fp, err := fsys.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := fp.Close()
		if err == nil {
			err = closeErr
		}
	}()
	info, err := fp.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(fp, info.Size())
	if err != nil {
		return fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}
	var written atomic.Uint64
	for _, member := range zr.File {
		if err := extractMember(fsys, dir, member, limit, &written); err != nil {
			return err
		}
	}
	log.Debugf("extracted %d archive members (%d bytes) to %q", len(zr.File), written.Load(), dir)
	return nil
}

func extractMember(fsys afero.Fs, dir string, member *zip.File, limit uint64, written *atomic.Uint64) error {
	target, err := pathsanitize.SafeJoin(dir, member.Name)
	if err != nil {
		return err
	}
	mode := member.Mode()
	switch {
	case mode.IsDir():
		return fsys.MkdirAll(target, 0755)
	case mode.IsRegular():
		if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		var remaining uint64
		if limit != 0 {
			remaining = limit - written.Load()
			if member.UncompressedSize64 > remaining {
				return fmt.Errorf("%w: %q declares %d bytes, %d bytes left", readerutils.ErrLimitExceeded, member.Name, member.UncompressedSize64, remaining)
			}
		}
		rc, err := member.Open()
		if err != nil {
			return err
		}
		var r io.Reader = rc
		if limit != 0 {
			// one byte past the budget is enough to detect the overflow
			r = io.LimitReader(rc, int64(remaining)+1)
		}
		err = errors.Join(writeFile(fsys, target, readerutils.NewCountingReader(r, written), mode.Perm()|0600), rc.Close())
		if err != nil {
			return err
		}
		if limit != 0 && written.Load() > limit {
			return fmt.Errorf("%w: %q expands beyond %d bytes", readerutils.ErrLimitExceeded, member.Name, limit)
		}
		return nil
	default:
		return fmt.Errorf("unsupported file type %v for %q", mode.Type(), member.Name)
	}
}

// writeFile writes content to the file specified by the `path` parameter.
func writeFile(fsys afero.Fs, path string, r io.Reader, perm os.FileMode) (err error) {
	file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := file.Close()
		if err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(file, r)
	// call Sync to make sure file is written to the disk
	return errors.Join(err, file.Sync())
}

// CreateFromDirectory writes the contents of dir into a new zip archive at archivePath.
// Member names are relative to dir, so the archive root equals the directory root.
// If archivePath lies inside dir the archive is not added to itself.
func CreateFromDirectory(fsys afero.Fs, dir, archivePath string) (err error) {
	archiveAbs, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}
	out, err := fsys.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
	}()
	zw := zip.NewWriter(out)
	err = afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if abs == archiveAbs {
			log.Debugf("skipping output archive %q", path)
			return nil
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name = strings.TrimSuffix(header.Name, "/") + "/"
			_, err = zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := fsys.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		return errors.Join(err, src.Close())
	})
	return errors.Join(err, zw.Close())
}
