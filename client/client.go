// Package client spawns worker processes and talks to them over stdio.
//
// A Client owns one worker subprocess:
//
//	Start → Load (bind exports) → Call, Call, ... → Close
//
// Calls on one Client are serialized, as the worker handles one message at a
// time. A Pool spreads calls over several workers.
package client

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pipeworker/codec"
	"pipeworker/message"
	"pipeworker/protocol"
	"pipeworker/transport"
)

const (
	// closeGrace is how long Close waits for a worker to exit on end of
	// input before killing it.
	closeGrace = 2 * time.Second
	// drainGrace bounds how long the worker's output is read after it
	// exited; a leftover child holding the pipe must not keep Close waiting.
	drainGrace = 500 * time.Millisecond
)

// Options describe the worker process. Framing and Codec must match the
// worker's configuration.
//
// Every unframed or sentinel message is written newline terminated, so the
// worker should run with -input line. Chunk input reads one pipe buffer
// (64 KiB on Linux) per message and splits anything larger.
type Options struct {
	Path            string
	Args            []string
	Dir             string   // working directory; also appended to every load's module paths
	Env             []string // nil inherits the environment
	Framing         protocol.Framing
	Codec           codec.CodecType // honored with length framing
	MaxMessageBytes int
	Stderr          io.Writer // worker logs; default os.Stderr
	Logger          *zap.Logger
}

// LoadOptions describe a load. Source is the module source before base64
// encoding: a module id or a TOML manifest.
type LoadOptions struct {
	Source      string
	Names       []string
	ModulePaths []string
}

// RemoteError is a failure reported by the worker. Input is the worker's
// echo of the request, still encoded.
type RemoteError struct {
	Message string
	Input   codec.Raw
}

func (e *RemoteError) Error() string {
	return "worker: " + e.Message
}

type Client struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	tr     *transport.Transport
	dir    string
	logger *zap.Logger

	exited  chan struct{}
	waitErr error // set before exited is closed

	closeOnce sync.Once
}

type loadRequest struct {
	Type       string   `json:"Type"`
	Script     string   `json:"Script"`
	Names      []string `json:"Names"`
	ModulePath []string `json:"ModulePath,omitempty"`
}

type callRequest struct {
	Type string `json:"Type"`
	Func string `json:"Func"`
	Args []any  `json:"Args"`
}

type response struct {
	Result codec.Raw `json:"Result"`
	Error  string    `json:"Error"`
}

// Start spawns the worker. The worker is killed when ctx is done.
func Start(ctx context.Context, opts Options) (*Client, error) {
	if opts.Path == "" {
		return nil, errors.New("client: worker path is required")
	}
	if opts.Framing == "" {
		opts.Framing = protocol.Unframed
	}
	if opts.Codec != codec.CodecTypeJSON && opts.Framing != protocol.Length {
		return nil, errors.Errorf("client: codec %s requires length framing", opts.Codec)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "client: working directory")
		}
		dir = wd
	}

	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Dir = dir
	cmd.Env = opts.Env
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "client: stdin pipe")
	}
	// a plain pipe instead of StdoutPipe: Wait must not close the read end
	// while the transport is still draining it
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "client: stdout pipe")
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.Wrapf(err, "client: start %s", opts.Path)
	}
	stdoutW.Close()

	c := &Client{
		id:     uuid.NewString(),
		cmd:    cmd,
		stdin:  stdin,
		dir:    dir,
		exited: make(chan struct{}),
	}
	c.logger = logger.With(zap.String("client_id", c.id), zap.Int("pid", cmd.Process.Pid))
	c.tr = transport.New(stdin, stdoutR, transport.Config{
		Framing:  opts.Framing,
		Codec:    opts.Codec,
		MaxBytes: opts.MaxMessageBytes,
	})

	go func() {
		c.waitErr = cmd.Wait()
		select {
		case <-c.tr.Done():
		case <-time.After(drainGrace):
		}
		stdoutR.Close()
		c.logger.Debug("worker exited", zap.Error(c.waitErr))
		close(c.exited)
	}()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.tr.Done():
			if err := c.tr.Err(); !errors.Is(err, transport.ErrClosed) {
				c.logger.Warn("worker output out of step, closing", zap.Error(err))
			}
			c.Close()
		case <-c.exited:
		}
	}()

	c.logger.Debug("worker started", zap.String("path", opts.Path), zap.String("framing", string(opts.Framing)))
	return c, nil
}

// Open starts a worker and performs its first load.
func Open(ctx context.Context, opts Options, lo LoadOptions) (*Client, error) {
	c, err := Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Load(ctx, lo); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Key identifies the client for load balancing.
func (c *Client) Key() string {
	return c.id
}

// Load binds lo.Names from lo.Source in the worker.
func (c *Client) Load(ctx context.Context, lo LoadOptions) error {
	if lo.Source == "" {
		return errors.New("client: load source is required")
	}
	if len(lo.Names) == 0 {
		return errors.New("client: load needs at least one export name")
	}
	paths := append(append([]string(nil), lo.ModulePaths...), c.dir)

	resp, err := c.roundTrip(ctx, loadRequest{
		Type:       message.TypeLoad,
		Script:     base64.StdEncoding.EncodeToString([]byte(lo.Source)),
		Names:      lo.Names,
		ModulePath: paths,
	})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return &RemoteError{Message: resp.Error, Input: resp.Result}
	}
	c.logger.Debug("loaded", zap.Strings("names", lo.Names))
	return nil
}

// Call invokes target and returns its result, encoded with the client's
// codec.
func (c *Client) Call(ctx context.Context, target string, args ...any) (codec.Raw, error) {
	if args == nil {
		args = []any{}
	}
	resp, err := c.roundTrip(ctx, callRequest{Type: message.TypeCall, Func: target, Args: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &RemoteError{Message: resp.Error, Input: resp.Result}
	}
	return resp.Result, nil
}

// CallInto invokes target and decodes its result into out.
func (c *Client) CallInto(ctx context.Context, out any, target string, args ...any) error {
	raw, err := c.Call(ctx, target, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(c.tr.Codec().Decode(raw, out), "decode result of %s", target)
}

// roundTrip sends one message. If ctx ends while waiting, the worker still
// owes an answer that can no longer be matched, so the client is closed.
func (c *Client) roundTrip(ctx context.Context, req any) (*response, error) {
	body, err := c.tr.RoundTrip(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Warn("abandoning worker after cancelled request", zap.Error(err))
			c.Close()
		}
		return nil, errors.Wrap(err, "client")
	}
	var resp response
	if err := c.tr.Codec().Decode(body, &resp); err != nil {
		return nil, errors.Wrap(err, "client: decode response")
	}
	return &resp, nil
}

// Done is closed once the worker process has exited.
func (c *Client) Done() <-chan struct{} {
	return c.exited
}

// Err reports the worker's exit status once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.exited:
		return c.waitErr
	default:
		return nil
	}
}

// Close ends the worker's input and waits for it to exit, killing it after
// a grace period.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		select {
		case <-c.exited:
		case <-time.After(closeGrace):
			c.logger.Warn("worker did not exit, killing")
			killProcess(c.cmd)
			<-c.exited
		}
	})
	return nil
}
