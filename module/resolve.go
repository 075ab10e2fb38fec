package module

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Resolve finds rel in the first directory of searchPath that contains it.
func Resolve(searchPath []string, rel string) (string, error) {
	if rel == "" {
		return "", errors.New("resolve: empty path")
	}
	if filepath.IsAbs(rel) {
		if _, err := os.Stat(rel); err != nil {
			return "", errors.Wrapf(err, "resolve %s", rel)
		}
		return rel, nil
	}
	for _, dir := range searchPath {
		candidate := filepath.Join(dir, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(os.ErrNotExist, "resolve %s in %v", rel, searchPath)
}
