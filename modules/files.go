package modules

import (
	"os"

	"github.com/pkg/errors"

	"pipeworker/module"
)

// filesFactory resolves paths against the search path as it was when the
// module was loaded.
func filesFactory(lc *module.LoadContext) (module.Exports, error) {
	searchPath := lc.SearchPath
	lc.Logger.Debug("files module loaded")

	return module.Exports{
		"read": func(rel string) (string, error) {
			path, err := module.Resolve(searchPath, rel)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", errors.Wrapf(err, "read %s", rel)
			}
			return string(data), nil
		},
		"exists": func(rel string) bool {
			_, err := module.Resolve(searchPath, rel)
			return err == nil
		},
	}, nil
}
