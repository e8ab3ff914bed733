package writerutils

import (
	"errors"
	"io"

	"github.com/spf13/afero"
)

// SafeFile flushes the file to stable storage when it is closed.
type SafeFile struct {
	f afero.File
}

// NewSafeFileWriter wraps f so that Close syncs before closing.
func NewSafeFileWriter(f afero.File) io.WriteCloser {
	return &SafeFile{f: f}
}

func (s SafeFile) Write(p []byte) (n int, err error) {
	return s.f.Write(p)
}

func (s SafeFile) Close() error {
	return errors.Join(
		s.f.Sync(),
		s.f.Close(),
	)
}
