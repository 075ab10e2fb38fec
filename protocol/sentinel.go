package protocol

import (
	"bufio"
	"bytes"
	"io"
)

var (
	startMarker = []byte(StartMarker)
	endMarker   = []byte(EndMarker)
)

// sentinelWriter wraps each payload in the start and end markers.
type sentinelWriter struct {
	w io.Writer
}

func (s *sentinelWriter) WriteFrame(f Frame) error {
	buf := make([]byte, 0, len(startMarker)+len(f.Body)+len(endMarker))
	buf = append(buf, startMarker...)
	buf = append(buf, f.Body...)
	buf = append(buf, endMarker...)
	_, err := s.w.Write(buf)
	return err
}

// ScanSentinel is a bufio.SplitFunc that yields the payloads found between
// start and end markers. Bytes outside a marker pair are discarded.
func ScanSentinel(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, startMarker)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a tail that could be the beginning of a split marker.
		if keep := len(startMarker) - 1; len(data) > keep {
			return len(data) - keep, nil, nil
		}
		return 0, nil, nil
	}
	body := start + len(startMarker)
	end := bytes.Index(data[body:], endMarker)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Drop the noise before the start marker while waiting for the rest.
		return start, nil, nil
	}
	return body + end + len(endMarker), data[body : body+end], nil
}

// NewSentinelScanner scans sentinel-framed payloads from r, as a parent
// reading a worker's stdout does.
func NewSentinelScanner(r io.Reader, max int) *bufio.Scanner {
	if max <= 0 {
		max = DefaultMaxMessageBytes
	}
	scan := bufio.NewScanner(r)
	limit := max + len(startMarker) + len(endMarker)
	scan.Buffer(make([]byte, 0, min(64*1024, limit)), limit)
	scan.Split(ScanSentinel)
	return scan
}
