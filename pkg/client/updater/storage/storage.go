package storage

import (
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/unbasical/bundle-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/bundle-ota/pkg/constants"
)

// Layout describes where the OTA state lives on disk.
type Layout struct {
	root       string
	entryPoint string
}

// NewLayout creates a layout rooted at the OTA directory below storageRoot.
func NewLayout(storageRoot, entryPoint string) Layout {
	if entryPoint == "" {
		entryPoint = constants.DefaultEntryPoint
	}
	return Layout{
		root:       filepath.Join(storageRoot, constants.OTADirName),
		entryPoint: entryPoint,
	}
}

// Root is the OTA root directory.
func (l Layout) Root() string { return l.root }

// Current is the directory the native loader executes the bundle from.
func (l Layout) Current() string { return filepath.Join(l.root, constants.CurrentDirName) }

// Previous is the single backup slot.
func (l Layout) Previous() string { return filepath.Join(l.root, constants.PreviousDirName) }

// Temp is the staging directory.
func (l Layout) Temp() string { return filepath.Join(l.root, constants.TempDirName) }

// Archive is the fixed scratch path for downloads.
func (l Layout) Archive() string { return filepath.Join(l.root, constants.ArchiveFileName) }

// Metadata is the path of the persisted metadata record.
func (l Layout) Metadata() string { return filepath.Join(l.root, constants.MetadataFileName) }

// EntryPointName is the file name of the bundle entry point.
func (l Layout) EntryPointName() string { return l.entryPoint }

// EntryPoint returns the entry point path inside of dir.
func (l Layout) EntryPoint(dir string) string { return filepath.Join(dir, l.entryPoint) }

// Manager owns the OTA directory tree.
// It keeps no state besides the layout, every call goes to the filesystem.
type Manager struct {
	fs     afero.Fs
	layout Layout
}

// New creates a Manager that operates on fs.
func New(fs afero.Fs, layout Layout) *Manager {
	return &Manager{fs: fs, layout: layout}
}

// Fs returns the filesystem the manager operates on.
func (m *Manager) Fs() afero.Fs { return m.fs }

// Layout returns the managed layout.
func (m *Manager) Layout() Layout { return m.layout }

// EnsureDirs creates the OTA root with its current and previous directories.
// Directories that already exist are left untouched.
func (m *Manager) EnsureDirs() error {
	for _, dir := range []string{m.layout.Root(), m.layout.Current(), m.layout.Previous()} {
		if err := m.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDir creates dir and its parents if missing.
func (m *Manager) EnsureDir(dir string) error {
	return m.fs.MkdirAll(dir, 0755)
}

// MoveReplace removes dest if present and moves src to dest.
// The two steps are not atomic, a crash in between leaves dest absent while src still exists.
func (m *Manager) MoveReplace(src, dest string) error {
	log.Debugf("moving %q to %q", src, dest)
	return fileutils.ReplacePath(m.fs, src, dest)
}

// Exists reports whether path exists.
func (m *Manager) Exists(path string) (bool, error) {
	return afero.Exists(m.fs, path)
}

// Remove deletes path recursively. Removing a missing path succeeds.
func (m *Manager) Remove(path string) error {
	return fileutils.RemoveIfExists(m.fs, path)
}

// HasEntryPoint reports whether dir contains a non-empty entry point,
// which is what the native loader requires to pick the bundle up.
func (m *Manager) HasEntryPoint(dir string) (bool, error) {
	info, err := m.fs.Stat(m.layout.EntryPoint(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir() && info.Size() > 0, nil
}

// Wipe deletes the whole OTA root.
func (m *Manager) Wipe() error {
	log.Infof("removing OTA root %q", m.layout.Root())
	return m.Remove(m.layout.Root())
}
