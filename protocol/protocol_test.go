package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeworker/codec"
)

// chunkedReader returns one queued chunk per Read, like a pipe the parent
// writes to one message at a time.
type chunkedReader struct {
	chunks []string
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: codec.CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		BodyLen:   11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	decodedHeader, decodedBody, err := Decode(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, header, *decodedHeader)
	assert.Equal(t, body, decodedBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, Version, 0, byte(MsgTypeRequest), 0x00, 0x00, 0x00, 0x0B})
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF,
		0,
		byte(MsgTypeRequest),
		0, 0, 0, 0,
	})

	_, _, err := Decode(buf, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{BodyLen: 64}, make([]byte, 64)))

	h, _, err := Decode(&buf, 16)
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, uint32(64), tooLarge.Size)
	assert.Equal(t, uint32(64), h.BodyLen)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{BodyLen: 8}, []byte("abcdefgh")))
	buf.Truncate(HeaderSize + 3)

	_, _, err := Decode(&buf, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChunkReaderOneMessagePerRead(t *testing.T) {
	r := NewReader(&chunkedReader{chunks: []string{
		`{"Func":"a"}`,
		"  \n",
		`{"Func":"b"}` + "\n",
	}}, ReaderConfig{Framing: Unframed, Input: Chunk})

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"Func":"a"}`, string(f.Body))

	// bodies are kept as read so failures echo them exactly
	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"Func":"b"}`+"\n", string(f.Body))

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestLineReader(t *testing.T) {
	in := strings.NewReader("{\"Func\":\"a\"}\n\n{\"Func\":\"b\"}")
	r := NewReader(in, ReaderConfig{Framing: Sentinel, Input: Line})

	var got []string
	for {
		f, err := r.ReadFrame()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(f.Body))
	}
	assert.Equal(t, []string{`{"Func":"a"}`, `{"Func":"b"}`}, got)
}

func TestLineReaderTooLong(t *testing.T) {
	in := strings.Repeat("x", 128) + "\n" + strings.Repeat("y", 32) + "\n" + strings.Repeat("z", 33)
	r := NewReader(strings.NewReader(in), ReaderConfig{Input: Line, MaxBytes: 32})

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.Truncated)
	assert.Equal(t, strings.Repeat("x", 32), string(f.Body))

	// the rest of the long line was skipped
	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.False(t, f.Truncated)
	assert.Equal(t, strings.Repeat("y", 32), string(f.Body))

	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.Truncated)

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestLineReaderKeepsCarriageReturn(t *testing.T) {
	r := NewReader(strings.NewReader(" {\"Func\":\"a\"}\r\n"), ReaderConfig{Input: Line})
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, " {\"Func\":\"a\"}\r", string(f.Body))
}

func TestLengthReaderSkipsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Length)
	require.NoError(t, w.WriteFrame(Frame{Body: make([]byte, 64)}))
	require.NoError(t, w.WriteFrame(Frame{Body: []byte(`{}`)}))

	r := NewReader(&buf, ReaderConfig{Framing: Length, MaxBytes: 16})
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.Truncated)
	assert.Empty(t, f.Body)

	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(f.Body))
}

func TestSentinelWriteAndScan(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out, Sentinel)
	require.NoError(t, w.WriteFrame(Frame{Body: []byte(`{"Result":5}`)}))
	out.WriteString("stray print from a module\n")
	require.NoError(t, w.WriteFrame(Frame{Body: []byte(`{"Result":"ok"}`)}))

	assert.True(t, strings.HasPrefix(out.String(), StartMarker+`{"Result":5}`+EndMarker))

	scan := NewSentinelScanner(&out, 0)
	var got []string
	for scan.Scan() {
		got = append(got, scan.Text())
	}
	require.NoError(t, scan.Err())
	assert.Equal(t, []string{`{"Result":5}`, `{"Result":"ok"}`}, got)
}

func TestSentinelScanSplitMarkers(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		stream := "noise" + StartMarker + `{"a":1}` + EndMarker + "tail"
		for i := 0; i < len(stream); i += 5 {
			end := min(i+5, len(stream))
			pw.Write([]byte(stream[i:end]))
		}
		pw.Close()
	}()

	scan := NewSentinelScanner(pr, 0)
	require.True(t, scan.Scan())
	assert.Equal(t, `{"a":1}`, scan.Text())
	assert.False(t, scan.Scan())
	assert.NoError(t, scan.Err())
}

func TestLengthReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Length)
	require.NoError(t, w.WriteFrame(Frame{Codec: codec.CodecTypeCBOR, Type: MsgTypeResponse, Body: []byte{0xa0}}))

	r := NewReader(&buf, ReaderConfig{Framing: Length})
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, codec.CodecTypeCBOR, f.Codec)
	assert.Equal(t, MsgTypeResponse, f.Type)
	assert.Equal(t, []byte{0xa0}, f.Body)

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, Unframed).WriteFrame(Frame{Body: []byte(`{"Result":1}`)}))
	assert.Equal(t, `{"Result":1}`, buf.String())
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("sentinel")
	require.NoError(t, err)
	assert.Equal(t, Sentinel, f)

	f, err = ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, Unframed, f)

	_, err = ParseFraming("xml")
	assert.Error(t, err)

	m, err := ParseInputMode("")
	require.NoError(t, err)
	assert.Equal(t, Chunk, m)
}
