package modules

import (
	"strings"

	"github.com/pkg/errors"

	"pipeworker/module"
)

type textConfig struct {
	Separator string `toml:"separator"`
}

func textFactory(lc *module.LoadContext) (module.Exports, error) {
	cfg := textConfig{Separator: " "}
	if err := lc.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	return module.Exports{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(parts []string) string {
			return strings.Join(parts, cfg.Separator)
		},
		"split": func(s, sep string) []string {
			if sep == "" {
				sep = cfg.Separator
			}
			return strings.Split(s, sep)
		},
		"repeat": func(s string, n int) (string, error) {
			if n < 0 {
				return "", errors.Errorf("negative repeat count %d", n)
			}
			return strings.Repeat(s, n), nil
		},
	}, nil
}
