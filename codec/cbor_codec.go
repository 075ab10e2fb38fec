package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode encodes deterministically so identical results produce
// identical frames.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// CBORCodec serializes with github.com/fxamacker/cbor. Struct fields use
// their json tags, so message types need no separate cbor tags.
type CBORCodec struct{}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
