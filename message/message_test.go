package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeworker/codec"
)

var jsonCodec = codec.GetCodec(codec.CodecTypeJSON)

func TestDecodeLoad(t *testing.T) {
	raw := []byte(`{"Type":"init","Script":"YXJpdGg=","Names":["add","sub"],"ModulePath":["/tmp/a"]}`)

	req, err := Decode(raw, jsonCodec, false)
	require.NoError(t, err)
	assert.Equal(t, TypeLoad, req.Type)
	require.NotNil(t, req.Load)
	assert.Equal(t, "YXJpdGg=", req.Load.Code)
	assert.Equal(t, []string{"add", "sub"}, req.Load.ExportNames)
	assert.Equal(t, []string{"/tmp/a"}, req.Load.ModulePaths)
	assert.Nil(t, req.Call)
}

func TestDecodeLoadAliases(t *testing.T) {
	raw := []byte(`{"type":"load","code":"YXJpdGg=","exportNames":["add"],"modulePaths":["lib"]}`)

	req, err := Decode(raw, jsonCodec, false)
	require.NoError(t, err)
	assert.Equal(t, "YXJpdGg=", req.Load.Code)
	assert.Equal(t, []string{"add"}, req.Load.ExportNames)
	assert.Equal(t, []string{"lib"}, req.Load.ModulePaths)
}

func TestDecodeCall(t *testing.T) {
	req, err := Decode([]byte(`{"Type":"call","Func":"add","Args":[2,3]}`), jsonCodec, false)
	require.NoError(t, err)
	assert.Equal(t, TypeCall, req.Type)
	require.NotNil(t, req.Call)
	assert.Equal(t, "add", req.Call.Target)
	require.Len(t, req.Call.Args, 2)
	assert.JSONEq(t, "2", string(req.Call.Args[0]))
	assert.JSONEq(t, "3", string(req.Call.Args[1]))
}

func TestDecodeCallWithoutArgs(t *testing.T) {
	for _, raw := range []string{
		`{"type":"call","target":"counter.Get"}`,
		`{"type":"CALL","target":"counter.Get","args":null}`,
	} {
		req, err := Decode([]byte(raw), jsonCodec, false)
		require.NoError(t, err, raw)
		assert.Equal(t, "counter.Get", req.Call.Target)
		assert.Empty(t, req.Call.Args)
	}
}

func TestDecodeInfersTypeWhenUnframed(t *testing.T) {
	req, err := Decode([]byte(`{"Script":"YXJpdGg=","Names":["add"]}`), jsonCodec, true)
	require.NoError(t, err)
	assert.Equal(t, TypeLoad, req.Type)

	req, err = Decode([]byte(`{"Func":"add","Args":[1,2]}`), jsonCodec, true)
	require.NoError(t, err)
	assert.Equal(t, TypeCall, req.Type)

	_, err = Decode([]byte(`{"Func":"add"}`), jsonCodec, false)
	assert.Equal(t, KindUnknownType, KindOf(err))
}

func TestDecodeUnknownType(t *testing.T) {
	for _, raw := range []string{
		`{"Type":"exec","Func":"add"}`,
		`{"Type":42}`,
		`{}`,
		`null`,
	} {
		req, err := Decode([]byte(raw), jsonCodec, true)
		require.Error(t, err, raw)
		assert.Equal(t, KindUnknownType, KindOf(err), raw)
		assert.Equal(t, "unrecognized message type", err.Error())
		assert.Equal(t, raw, req.Echo())
	}
}

func TestDecodeMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no code", `{"Type":"init","Names":["add"]}`},
		{"no names", `{"Type":"init","Script":"YQ=="}`},
		{"empty names", `{"Type":"init","Script":"YQ==","Names":[]}`},
		{"blank name", `{"Type":"init","Script":"YQ==","Names":["add",""]}`},
		{"no target", `{"Type":"call","Args":[1]}`},
		{"args not array", `{"Type":"call","Func":"add","Args":{"a":1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw), jsonCodec, false)
			require.Error(t, err)
			assert.Equal(t, KindDecode, KindOf(err))
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	raw := []byte(`{"Type":"call","Func":`)
	req, err := Decode(raw, jsonCodec, false)
	require.Error(t, err)
	assert.Equal(t, KindDecode, KindOf(err))

	resp := req.Fail(err)
	assert.Equal(t, string(raw), resp.Result)
	assert.Contains(t, resp.Error, "malformed json message")
}

func TestDecodeCBOR(t *testing.T) {
	cbor := codec.GetCodec(codec.CodecTypeCBOR)
	raw, err := cbor.Encode(map[string]any{"Type": "call", "Func": "add", "Args": []int{2, 3}})
	require.NoError(t, err)

	req, err := Decode(raw, cbor, false)
	require.NoError(t, err)
	require.Len(t, req.Call.Args, 2)

	var a int
	require.NoError(t, cbor.Decode(req.Call.Args[0], &a))
	assert.Equal(t, 2, a)

	resp := req.Fail(ErrUnknownType)
	assert.Equal(t, raw, resp.Result)
}

func TestDiagnosticAppendsStack(t *testing.T) {
	err := &Error{Kind: KindInvoke, Op: "call boom", Err: ErrUnknownType, Stack: []byte("goroutine 1 [running]:")}
	assert.Equal(t, "call boom: unrecognized message type\ngoroutine 1 [running]:", Diagnostic(err))
	assert.Equal(t, "call boom: unrecognized message type", err.Error())
}
