// Package protocol frames worker messages on a byte stream.
//
// Three framings exist, chosen once at startup:
//
//   - unframed: a message is a bare JSON document. Input is split by read
//     event or by line (see InputMode); output is written as-is.
//   - sentinel: output is wrapped as StartMarker + payload + EndMarker in a
//     single write, so the parent can locate it in noisy stdout. Input is
//     split like unframed.
//   - length: both directions use a fixed 10-byte header followed by the body:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ pwk  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// The protocol carries no request identifiers: responses pair with requests
// by order alone.
package protocol

import (
	"fmt"
	"io"

	"pipeworker/codec"
)

// Framing selects how messages are delimited on the wire.
type Framing string

const (
	Unframed Framing = "unframed"
	Sentinel Framing = "sentinel"
	Length   Framing = "length"
)

// Sentinel markers. They are part of the wire contract with existing parents.
const (
	StartMarker = "##gospider@start##"
	EndMarker   = "##gospider@end##"
)

// InputMode selects how unframed and sentinel input is split into messages.
type InputMode string

const (
	// Chunk treats each read event as one message. The parent must write a
	// message in a single write and wait for its response before sending the
	// next; messages split across reads are not reassembled. A single read
	// from an OS pipe returns at most the pipe's capacity (64 KiB on Linux),
	// so larger messages arrive as several broken ones: use Line for them.
	Chunk InputMode = "chunk"
	// Line treats each newline-terminated line as one message, of any size
	// up to the configured maximum.
	Line InputMode = "line"
)

// DefaultMaxMessageBytes bounds a single inbound message.
const DefaultMaxMessageBytes = 1 << 20

func ParseFraming(s string) (Framing, error) {
	switch f := Framing(s); f {
	case Unframed, Sentinel, Length:
		return f, nil
	case "":
		return Unframed, nil
	}
	return "", fmt.Errorf("unknown framing %q", s)
}

func ParseInputMode(s string) (InputMode, error) {
	switch m := InputMode(s); m {
	case Chunk, Line:
		return m, nil
	case "":
		return Chunk, nil
	}
	return "", fmt.Errorf("unknown input mode %q", s)
}

// MsgType distinguishes request and response frames.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 0 // Parent → worker
	MsgTypeResponse MsgType = 1 // Worker → parent
)

// Frame is one message payload. Codec is meaningful for length framing,
// where it travels in the header; other framings report the configured codec.
//
// Truncated marks an inbound message that exceeded the size limit. The rest
// of it was skipped and Body holds at most its first bytes, so the reader
// stays in step with the stream and the message can still be answered.
type Frame struct {
	Codec     codec.CodecType
	Type      MsgType
	Body      []byte
	Truncated bool
}

// Reader yields complete inbound frames. It returns io.EOF once the stream
// is closed and is not restartable.
type Reader interface {
	ReadFrame() (Frame, error)
}

// Writer emits one frame per call, in a single write to the stream.
type Writer interface {
	WriteFrame(f Frame) error
}

// ReaderConfig configures NewReader.
type ReaderConfig struct {
	Framing  Framing
	Input    InputMode
	Codec    codec.CodecType // codec of unframed and sentinel input
	MaxBytes int
}

// NewReader returns the Reader for cfg over r.
func NewReader(r io.Reader, cfg ReaderConfig) Reader {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxMessageBytes
	}
	if cfg.Framing == Length {
		return &lengthReader{r: r, max: cfg.MaxBytes}
	}
	if cfg.Input == Line {
		return newLineReader(r, cfg.Codec, cfg.MaxBytes)
	}
	return &chunkReader{r: r, codec: cfg.Codec, buf: make([]byte, cfg.MaxBytes)}
}

// NewWriter returns the Writer for framing over w.
func NewWriter(w io.Writer, framing Framing) Writer {
	switch framing {
	case Sentinel:
		return &sentinelWriter{w: w}
	case Length:
		return &lengthWriter{w: w}
	}
	return &plainWriter{w: w}
}
