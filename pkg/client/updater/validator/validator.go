package validator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrEntryPointMissing is returned when a staged bundle has no usable entry point.
var ErrEntryPointMissing = errors.New("bundle entry point missing")

// BundleValidator defines an interface for validating a staged bundle directory.
type BundleValidator interface {
	Validate(fsys afero.Fs, dir string) error
}

// EntryPointValidator ensures that the bundle contains a non-empty entry point file at its root.
type EntryPointValidator struct {
	EntryPoint string
}

// Validate checks that dir contains the entry point the native loader executes.
func (e EntryPointValidator) Validate(fsys afero.Fs, dir string) error {
	p := filepath.Join(dir, e.EntryPoint)
	info, err := fsys.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrEntryPointMissing, e.EntryPoint)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", ErrEntryPointMissing, e.EntryPoint)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %q is empty", ErrEntryPointMissing, e.EntryPoint)
	}
	return nil
}

// SizeLimitedValidator ensures that the size of a bundle does not exceed a specified limit.
// Limit specifies the maximum allowed size in bytes, 0 disables the check.
type SizeLimitedValidator struct {
	Limit uint64
}

// CheckSize returns an error if size exceeds the configured limit.
func (s SizeLimitedValidator) CheckSize(size uint64) error {
	return checkSizeLimit(size, s.Limit)
}

// Validate checks if the extracted bundle in dir exceeds the configured size limit.
func (s SizeLimitedValidator) Validate(fsys afero.Fs, dir string) error {
	if s.Limit == 0 {
		return nil
	}
	var total uint64
	err := afero.Walk(fsys, dir, func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return err
	}
	return checkSizeLimit(total, s.Limit)
}

func checkSizeLimit(size, limit uint64) error {
	if limit != 0 && size > limit {
		return fmt.Errorf("bundle size (%d bytes) surpasses limit (%d bytes)", size, limit)
	}
	return nil
}
