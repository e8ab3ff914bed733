package fileutils

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/funcutils"
	"github.com/unbasical/bundle-ota/internal/pkg/utils/writerutils"
)

// SafeReadJSON reads the JSON file at the path into the targetPointer.
// Returns false without an error if the file does not exist or is empty.
func SafeReadJSON(fsys afero.Fs, filePath string, targetPointer any) (jsonAvailable bool, err error) {
	fileBytes, err := SafeReadFile(fsys, filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(fileBytes) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(fileBytes, targetPointer)
}

// SafeReadYAML reads the YAML file at the path into the targetPointer.
// Returns true if the file exists or an error if an error occurred.
func SafeReadYAML(fsys afero.Fs, filePath string, targetPointer any) (yamlAvailable bool, err error) {
	fileBytes, err := SafeReadFile(fsys, filePath)
	if err != nil {
		return false, err
	}
	if len(fileBytes) == 0 {
		return false, nil
	}
	return true, yaml.Unmarshal(fileBytes, targetPointer)
}

// SafeReadFile reads the file at the provided path into a byte slice.
func SafeReadFile(fsys afero.Fs, filePath string) ([]byte, error) {
	file, err := fsys.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %s, %w", filePath, err)
	}
	bytes, readErr := io.ReadAll(file)
	if err = file.Close(); err != nil {
		log.Errorf("Failed to close file: %s", filePath)
	}
	return bytes, readErr
}

// SafeWriteJSON writes the provided object to a JSON file at the provided path.
// The object is written to a sibling file first which then replaces the target,
// so readers never observe a partially written file.
func SafeWriteJSON[T any](fsys afero.Fs, filePath string, targetPointer *T) error {
	tmpPath := filePath + ".tmp"
	fp, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w := writerutils.NewSafeFileWriter(fp)
	err = json.NewEncoder(w).Encode(*targetPointer)
	if err != nil {
		funcutils.PanicOrLogOnErr(w.Close, false, "failed to close writer")
		_ = fsys.Remove(tmpPath)
		return err
	}
	if err := w.Close(); err != nil {
		_ = fsys.Remove(tmpPath)
		return err
	}
	return fsys.Rename(tmpPath, filePath)
}

// ExistsAndIsDirectory reports whether path exists and if it is a directory.
func ExistsAndIsDirectory(fsys afero.Fs, path string) (exists, isDir bool, err error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// RemoveIfExists removes path and everything below it.
// A path that does not exist is not an error.
func RemoveIfExists(fsys afero.Fs, path string) error {
	err := fsys.RemoveAll(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReplacePath replaces targetPath with currentPath.
// It removes anything that exists at targetPath before renaming,
// a crash between both steps leaves targetPath absent and currentPath intact.
func ReplacePath(fsys afero.Fs, currentPath, targetPath string) error {
	exists, _, err := ExistsAndIsDirectory(fsys, targetPath)
	if err != nil {
		return err
	}
	if exists {
		log.Debugf("removing %q", targetPath)
		if err := fsys.RemoveAll(targetPath); err != nil {
			log.WithError(err).Debug("failed to remove old path")
			return err
		}
	}
	return fsys.Rename(currentPath, targetPath)
}

// CompareDirectories checks if two directories have the same structure and content.
// Walks both folders and ensures the contents are identical (compares file hashes).
//
//nolint:revive // Disable complexity warning, this function should be understandable enough to people familiar with navigating trees.
func CompareDirectories(fsys afero.Fs, dir1, dir2 string) (bool, error) {
	files1, err := hashTree(fsys, dir1)
	if err != nil {
		return false, err
	}
	files2, err := hashTree(fsys, dir2)
	if err != nil {
		return false, err
	}
	if len(files1) != len(files2) {
		return false, nil
	}
	for relPath, hash1 := range files1 {
		if hash2, exists := files2[relPath]; !exists || hash1 != hash2 {
			return false, nil
		}
	}
	return true, nil
}

func hashTree(fsys afero.Fs, dir string) (map[string][32]byte, error) {
	files := make(map[string][32]byte)
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hash, err := hashFile(fsys, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(relPath)] = hash
		return nil
	})
	return files, err
}

// hashFile computes a SHA-256 hash of the file content
func hashFile(fsys afero.Fs, path string) ([32]byte, error) {
	var hash [32]byte
	file, err := fsys.Open(path)
	if err != nil {
		return hash, err
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	_, err = io.Copy(hasher, file)
	if err != nil {
		return hash, err
	}

	copy(hash[:], hasher.Sum(nil))
	return hash, nil
}

// ListFiles returns the slash separated paths of all regular files below dir, relative to dir.
func ListFiles(fsys afero.Fs, dir string) ([]string, error) {
	var files []string
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	return files, err
}

// CleanDirectory removes all files and subdirectories within dirPath,
// leaving the directory itself intact.
func CleanDirectory(fsys afero.Fs, dirPath string) error {
	entries, err := afero.ReadDir(fsys, dirPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		entryPath := filepath.Join(dirPath, entry.Name())
		if err := fsys.RemoveAll(entryPath); err != nil {
			return err
		}
	}
	return nil
}
