package codec

import (
	"bytes"
	"encoding/json"
)

// JSONCodec is the protocol's native codec: the parent and the worker
// exchange JSON documents in the unframed and sentinel framings.
//
// Encode leaves <, > and & unescaped, so strings carrying markup reach the
// parent as written.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder terminates every document with a newline; frames carry none
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
