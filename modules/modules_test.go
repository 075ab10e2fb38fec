package modules

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeworker/binding"
	"pipeworker/codec"
	"pipeworker/invoker"
	"pipeworker/loader"
	"pipeworker/message"
	"pipeworker/module"
)

type harness struct {
	loader  *loader.Loader
	invoker *invoker.Invoker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := module.NewRegistry()
	require.NoError(t, Register(reg))
	table := binding.NewTable()
	return &harness{loader: loader.New(reg, table), invoker: invoker.New(table)}
}

func (h *harness) load(t *testing.T, source string, names []string, paths ...string) {
	t.Helper()
	_, err := h.loader.Load(context.Background(), &message.Load{
		Code:        base64.StdEncoding.EncodeToString([]byte(source)),
		ExportNames: names,
		ModulePaths: paths,
	})
	require.NoError(t, err)
}

func (h *harness) call(target string, args ...any) (any, error) {
	raw := make([]codec.Raw, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		raw[i] = b
	}
	return h.invoker.Invoke(context.Background(), codec.GetCodec(codec.CodecTypeJSON), &message.Call{Target: target, Args: raw})
}

func TestRegisterTwice(t *testing.T) {
	reg := module.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{"arith", "counter", "files", "text"}, reg.IDs())
	assert.Error(t, Register(reg))
}

func TestArith(t *testing.T) {
	h := newHarness(t)
	h.load(t, "arith", []string{"add", "sub", "mul", "div", "sum"})

	tests := []struct {
		target string
		args   []any
		want   float64
	}{
		{"add", []any{2, 3}, 5},
		{"sub", []any{2, 3}, -1},
		{"mul", []any{4, 2.5}, 10},
		{"div", []any{9, 2}, 4.5},
		{"sum", []any{1, 2, 3, 4}, 10},
		{"sum", nil, 0},
	}
	for _, tt := range tests {
		got, err := h.call(tt.target, tt.args...)
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, got, tt.target)
	}

	_, err := h.call("div", 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionByZero)
	assert.Equal(t, message.KindInvoke, message.KindOf(err))
}

func TestTextSeparatorConfig(t *testing.T) {
	h := newHarness(t)
	h.load(t, "text", []string{"join", "upper"})

	got, err := h.call("join", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a b", got)

	h.load(t, "module = \"text\"\n[config]\nseparator = \"-\"\n", []string{"join", "split", "repeat"})
	got, err = h.call("join", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", got)

	got, err = h.call("split", "x-y", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got)

	// upper from the first load is still bound
	got, err = h.call("upper", "go")
	require.NoError(t, err)
	assert.Equal(t, "GO", got)

	_, err = h.call("repeat", "a", -1)
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	h := newHarness(t)
	h.load(t, "counter", []string{"counter"})

	for i := 1; i <= 3; i++ {
		got, err := h.call("counter.Incr", 2)
		require.NoError(t, err)
		assert.Equal(t, 2*i, got)
	}
	got, err := h.call("counter.Get")
	require.NoError(t, err)
	assert.Equal(t, 6, got)

	_, err = h.call("counter.Reset")
	require.NoError(t, err)
	got, err = h.call("counter.Get")
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = h.call("counter.Decr")
	assert.ErrorIs(t, err, invoker.ErrUnresolved)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte("hello"), 0o644))

	h := newHarness(t)
	h.load(t, "files", []string{"read", "exists"}, dir)

	got, err := h.call("read", "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = h.call("exists", "missing.txt")
	require.NoError(t, err)
	assert.Equal(t, false, got)

	_, err = h.call("read", "missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
