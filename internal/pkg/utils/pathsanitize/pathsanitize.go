package pathsanitize

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SafeJoin joins the slash separated archive member name onto root.
// It rejects absolute names and names that would resolve outside of root.
func SafeJoin(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty path")
	}
	slashed := filepath.ToSlash(name)
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%q is an absolute path", name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q is outside of %q", name, root)
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}
