// Package transport carries host-side messages to and from a worker process.
//
// A worker answers strictly in order and its responses carry no identifiers,
// so a Transport allows exactly one message in flight:
//
//	goroutine-1 ──RoundTrip──┐ (sending lock held until the answer arrives)
//	goroutine-2 ──RoundTrip──┼──→ worker stdin
//	goroutine-3 ──RoundTrip──┘
//
//	recvLoop: ←── worker stdout → next response → the goroutine holding the lock
//
// A response that arrives while no request is waiting means the stream is out
// of step (a worker answering twice, or a message the worker split in two).
// With no identifiers to resynchronize on, the transport fails with
// ErrUnsolicited instead of handing that response to the next caller.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"

	"pipeworker/codec"
	"pipeworker/protocol"
)

var (
	// ErrClosed is returned once the worker's output has ended.
	ErrClosed = errors.New("transport closed")
	// ErrUnsolicited is returned once a response arrived for no request.
	ErrUnsolicited = errors.New("unsolicited response")
)

type Config struct {
	Framing  protocol.Framing
	Codec    codec.CodecType // length framing only; other framings speak JSON
	MaxBytes int
}

// Transport frames requests onto w and reads responses from r.
type Transport struct {
	w   io.Writer
	cfg Config

	sending   sync.Mutex
	responses chan protocol.Frame

	mu      sync.Mutex
	waiting bool // a request is written and its response not yet delivered

	done chan struct{}
	err  error // set before done is closed
}

// New starts the receive loop over r.
func New(w io.Writer, r io.Reader, cfg Config) *Transport {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = protocol.DefaultMaxMessageBytes
	}
	if cfg.Framing == "" {
		cfg.Framing = protocol.Unframed
	}
	if cfg.Framing != protocol.Length {
		cfg.Codec = codec.CodecTypeJSON
	}
	t := &Transport{
		w:         w,
		cfg:       cfg,
		responses: make(chan protocol.Frame, 1),
		done:      make(chan struct{}),
	}
	go t.recvLoop(r)
	return t
}

func (t *Transport) Codec() codec.Codec {
	return codec.GetCodec(t.cfg.Codec)
}

// RoundTrip sends v and waits for the response body. When ctx ends first the
// response is still owed by the worker and the stream cannot be trusted any
// more: callers should discard the transport.
func (t *Transport) RoundTrip(ctx context.Context, v any) ([]byte, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	select {
	case <-t.done:
		return nil, t.err
	default:
	}

	body, err := t.Codec().Encode(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	// a response delivered to an abandoned earlier call is stale
	select {
	case <-t.responses:
	default:
	}
	t.setWaiting(true)
	defer t.setWaiting(false)

	if err := t.write(body); err != nil {
		return nil, errors.Wrap(err, "write request")
	}

	select {
	case f := <-t.responses:
		return f.Body, nil
	case <-t.done:
		// a response may have raced the end of the stream
		select {
		case f := <-t.responses:
			return f.Body, nil
		default:
		}
		return nil, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// write emits one message in a single write. Unframed and sentinel messages
// are newline terminated for line input workers; a chunk worker only sees
// them whole below the pipe capacity.
func (t *Transport) write(body []byte) error {
	if t.cfg.Framing == protocol.Length {
		return protocol.Encode(t.w, &protocol.Header{
			CodecType: t.cfg.Codec,
			MsgType:   protocol.MsgTypeRequest,
			BodyLen:   uint32(len(body)),
		}, body)
	}
	buf := make([]byte, len(body)+1)
	copy(buf, body)
	buf[len(body)] = '\n'
	_, err := t.w.Write(buf)
	return err
}

// Done is closed when the response stream ends.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err reports why the stream ended, once Done is closed.
func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Transport) setWaiting(waiting bool) {
	t.mu.Lock()
	t.waiting = waiting
	t.mu.Unlock()
}

// deliver hands f to the waiting request. It never blocks: at most one
// response is delivered per request, and RoundTrip drains a stale one before
// it waits again.
func (t *Transport) deliver(f protocol.Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.waiting {
		return false
	}
	t.waiting = false
	select {
	case t.responses <- f:
		return true
	default:
		return false
	}
}

// recvLoop is the only reader of the worker's output.
func (t *Transport) recvLoop(r io.Reader) {
	next := t.frames(r)
	for {
		f, err := next()
		if err == nil && !t.deliver(f) {
			err = errors.Wrapf(ErrUnsolicited, "%.64q", f.Body)
		}
		if err != nil {
			if err == io.EOF {
				err = ErrClosed
			}
			t.err = err
			close(t.done)
			// keep the worker from blocking on a full pipe
			io.Copy(io.Discard, r)
			return
		}
	}
}

// frames returns the response iterator for the configured framing.
func (t *Transport) frames(r io.Reader) func() (protocol.Frame, error) {
	switch t.cfg.Framing {
	case protocol.Length:
		return func() (protocol.Frame, error) {
			h, body, err := protocol.Decode(r, t.cfg.MaxBytes)
			if err != nil {
				return protocol.Frame{}, err
			}
			return protocol.Frame{Codec: h.CodecType, Type: h.MsgType, Body: body}, nil
		}
	case protocol.Sentinel:
		sc := protocol.NewSentinelScanner(r, t.cfg.MaxBytes)
		return func() (protocol.Frame, error) {
			return scanned(sc)
		}
	}
	// unframed responses are concatenated JSON documents
	dec := json.NewDecoder(bufio.NewReader(r))
	return func() (protocol.Frame, error) {
		var body json.RawMessage
		if err := dec.Decode(&body); err != nil {
			return protocol.Frame{}, err
		}
		return protocol.Frame{Codec: codec.CodecTypeJSON, Type: protocol.MsgTypeResponse, Body: body}, nil
	}
}

func scanned(sc *bufio.Scanner) (protocol.Frame, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return protocol.Frame{}, err
		}
		return protocol.Frame{}, io.EOF
	}
	body := append([]byte(nil), sc.Bytes()...)
	return protocol.Frame{Codec: codec.CodecTypeJSON, Type: protocol.MsgTypeResponse, Body: body}, nil
}
