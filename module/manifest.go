package module

import (
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// identRe matches a bare module identifier.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_./-]*$`)

// Manifest is the decoded source text of a load message.
//
// The text is either a bare module identifier:
//
//	arith
//
// or a TOML document naming the module, with an optional config table that is
// handed to the factory:
//
//	module = "text"
//
//	[config]
//	separator = ", "
type Manifest struct {
	Module string         `toml:"module"`
	Config toml.Primitive `toml:"config"`

	meta toml.MetaData
}

// ParseSource parses decoded source text. Syntax errors are reported as
// compile failures of the source.
func ParseSource(text string) (*Manifest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty module source")
	}
	if identRe.MatchString(text) {
		return &Manifest{Module: text}, nil
	}

	var m Manifest
	meta, err := toml.Decode(text, &m)
	if err != nil {
		return nil, errors.Wrap(err, "compile module manifest")
	}
	if m.Module == "" {
		return nil, errors.New("module manifest has no module key")
	}
	if !identRe.MatchString(m.Module) {
		return nil, errors.Errorf("module manifest names invalid module %q", m.Module)
	}
	m.meta = meta
	return &m, nil
}

// HasConfig reports whether the manifest carries a config table.
func (m *Manifest) HasConfig() bool {
	return m.meta.IsDefined("config")
}

// DecodeConfig decodes the config table into v.
func (m *Manifest) DecodeConfig(v any) error {
	if !m.HasConfig() {
		return nil
	}
	if err := m.meta.PrimitiveDecode(m.Config, v); err != nil {
		return errors.Wrapf(err, "module %s: config", m.Module)
	}
	return nil
}
