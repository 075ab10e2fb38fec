package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory(*LoadContext) (Exports, error) {
	return Exports{}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{ID: "arith", Factory: noopFactory}))
	require.NoError(t, reg.Register(Definition{ID: "text", Factory: noopFactory}))

	assert.Error(t, reg.Register(Definition{ID: "arith", Factory: noopFactory}))
	assert.Error(t, reg.Register(Definition{ID: "", Factory: noopFactory}))
	assert.Error(t, reg.Register(Definition{ID: "has space", Factory: noopFactory}))
	assert.Error(t, reg.Register(Definition{ID: "nofactory"}))

	def, ok := reg.Lookup("arith")
	require.True(t, ok)
	assert.Equal(t, "arith", def.ID)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"arith", "text"}, reg.IDs())
}

func TestParseSourceBareIdentifier(t *testing.T) {
	m, err := ParseSource("  arith\n")
	require.NoError(t, err)
	assert.Equal(t, "arith", m.Module)
	assert.False(t, m.HasConfig())

	var cfg struct{ Separator string }
	require.NoError(t, m.DecodeConfig(&cfg))
	assert.Empty(t, cfg.Separator)
}

func TestParseSourceManifest(t *testing.T) {
	m, err := ParseSource("module = \"text\"\n\n[config]\nseparator = \", \"\n")
	require.NoError(t, err)
	assert.Equal(t, "text", m.Module)
	assert.True(t, m.HasConfig())

	var cfg struct {
		Separator string `toml:"separator"`
	}
	require.NoError(t, m.DecodeConfig(&cfg))
	assert.Equal(t, ", ", cfg.Separator)
}

func TestParseSourceErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"function add(a, b) { return a + b }",
		"name = \"x\"",
		"module = \"bad id\"",
	} {
		_, err := ParseSource(src)
		assert.Error(t, err, src)
	}
}

func TestResolveAlongSearchPath(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "data.txt"), []byte("x"), 0o644))

	lc := NewLoadContext(context.Background(), &Manifest{Module: "files"}, []string{first, second}, nil)
	got, err := lc.Resolve("data.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "data.txt"), got)

	got, err = lc.Resolve(filepath.Join(second, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "data.txt"), got)

	_, err = lc.Resolve("missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadContextCopiesSearchPath(t *testing.T) {
	path := []string{"/a"}
	lc := NewLoadContext(context.Background(), &Manifest{Module: "m"}, path, nil)
	path[0] = "/changed"
	assert.Equal(t, []string{"/a"}, lc.SearchPath)
	assert.NotNil(t, lc.Logger)
}
