package verifier

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrDigestMismatch is returned when the archive does not match the expected digest.
var ErrDigestMismatch = errors.New("archive digest mismatch")

// ArchiveVerifier ensures update integrity before applying.
type ArchiveVerifier interface {
	VerifyArchive(archivePath string, expected digest.Digest) error
}

type digestVerifier struct {
	fs afero.Fs
}

// NewDigestVerifier creates an ArchiveVerifier that hashes the archive with the algorithm of the expected digest.
// An empty expected digest is accepted without reading the archive.
func NewDigestVerifier(fs afero.Fs) ArchiveVerifier {
	return &digestVerifier{fs: fs}
}

func (d *digestVerifier) VerifyArchive(archivePath string, expected digest.Digest) error {
	if expected == "" {
		log.Debug("no digest published for archive, skipping verification")
		return nil
	}
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("invalid expected digest %q: %w", expected, err)
	}
	fp, err := d.fs.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = fp.Close()
	}()
	v := expected.Verifier()
	if _, err := io.Copy(v, fp); err != nil {
		return err
	}
	if !v.Verified() {
		return fmt.Errorf("%w: expected %s", ErrDigestMismatch, expected)
	}
	return nil
}
