package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"pipeworker/codec"
)

// Magic number bytes: "pwk" (pipe worker).
// Lets the reader reject a stream that is not length-framed, such as a parent
// configured for another framing.
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x77 // 'w'
	MagicByte3  byte = 0x6b // 'k'
	Version     byte = 0x01
	HeaderSize  int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)
)

// Header is the fixed 10-byte length frame header.
type Header struct {
	CodecType codec.CodecType
	MsgType   MsgType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w in a single write.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and the
// body length against max (0 means no limit); see TooLargeError.
func Decode(r io.Reader, max int) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	ct := codec.CodecType(headerBuf[4])
	if !ct.Valid() {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := MsgType(headerBuf[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	h := &Header{
		CodecType: ct,
		MsgType:   msgType,
		BodyLen:   binary.BigEndian.Uint32(headerBuf[6:10]),
	}
	if max > 0 && uint64(h.BodyLen) > uint64(max) {
		return h, nil, &TooLargeError{Size: h.BodyLen, Limit: max}
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}

	return h, body, nil
}

// TooLargeError is returned by Decode, along with the header, when a body
// exceeds the limit. The body has not been read.
type TooLargeError struct {
	Size  uint32
	Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("frame body of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

type lengthReader struct {
	r   io.Reader
	max int
}

func (l *lengthReader) ReadFrame() (Frame, error) {
	h, body, err := Decode(l.r, l.max)
	if tooLarge, ok := err.(*TooLargeError); ok {
		// skip the body so the next header is read in step
		if _, err := io.CopyN(io.Discard, l.r, int64(tooLarge.Size)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		return Frame{Codec: h.CodecType, Type: h.MsgType, Truncated: true}, nil
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{Codec: h.CodecType, Type: h.MsgType, Body: body}, nil
}

type lengthWriter struct {
	w io.Writer
}

func (l *lengthWriter) WriteFrame(f Frame) error {
	return Encode(l.w, &Header{
		CodecType: f.Codec,
		MsgType:   f.Type,
		BodyLen:   uint32(len(f.Body)),
	}, f.Body)
}
