package protocol

import (
	"bufio"
	"bytes"
	"io"

	"pipeworker/codec"
)

// chunkReader returns one frame per Read on the underlying stream. Bodies
// are passed on as read, so a failure can echo them byte for byte.
type chunkReader struct {
	r     io.Reader
	codec codec.CodecType
	buf   []byte
	err   error // deferred error, reported after the data that came with it
}

func (c *chunkReader) ReadFrame() (Frame, error) {
	for {
		if c.err != nil {
			return Frame{}, c.err
		}
		n, err := c.r.Read(c.buf)
		c.err = err
		if len(bytes.TrimSpace(c.buf[:n])) == 0 {
			continue
		}
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return Frame{Codec: c.codec, Type: MsgTypeRequest, Body: out}, nil
	}
}

// lineReader returns one frame per newline-terminated line; the newline is
// the delimiter and is not part of the body. A final line without a newline
// is returned at EOF.
//
// A line longer than max is not an error of the stream: the rest of it is
// discarded up to the next newline and a Truncated frame carrying its first
// max bytes is returned, so the line can still be answered.
type lineReader struct {
	r     *bufio.Reader
	codec codec.CodecType
	max   int
	err   error
}

func newLineReader(r io.Reader, ct codec.CodecType, max int) *lineReader {
	return &lineReader{
		r:     bufio.NewReaderSize(r, min(64*1024, max)),
		codec: ct,
		max:   max,
	}
}

func (l *lineReader) ReadFrame() (Frame, error) {
	for {
		if l.err != nil {
			return Frame{}, l.err
		}
		line, truncated, err := l.readLine()
		l.err = err
		if !truncated && len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return Frame{Codec: l.codec, Type: MsgTypeRequest, Body: line, Truncated: truncated}, nil
	}
}

// readLine reads through the next newline, keeping at most max bytes of the
// line.
func (l *lineReader) readLine() (line []byte, truncated bool, err error) {
	for {
		chunk, err := l.r.ReadSlice('\n')
		// one byte of room for the delimiter
		if room := l.max + 1 - len(line); room > 0 {
			line = append(line, chunk[:min(room, len(chunk))]...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		if len(line) > l.max {
			line, truncated = line[:l.max], true
		}
		return line, truncated, err
	}
}

// plainWriter writes bare payloads.
type plainWriter struct {
	w io.Writer
}

func (p *plainWriter) WriteFrame(f Frame) error {
	_, err := p.w.Write(f.Body)
	return err
}
