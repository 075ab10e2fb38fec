// Package worker runs the message loop of a worker process.
//
// Processing pipeline, strictly one message at a time:
//
//	ReadFrame → message.Decode → middleware chain → dispatch (load | call)
//	  → codec.Encode → WriteFrame → next ReadFrame
//
// The name table and the search path are the only state carried from one
// message to the next.
package worker

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pipeworker/binding"
	"pipeworker/codec"
	"pipeworker/invoker"
	"pipeworker/loader"
	"pipeworker/message"
	"pipeworker/middleware"
	"pipeworker/module"
	"pipeworker/protocol"
	"pipeworker/registry"
)

type Worker struct {
	id      string
	started time.Time
	cfg     protocol.ReaderConfig
	logger  *zap.Logger

	table   *binding.Table
	loader  *loader.Loader
	invoker *invoker.Invoker

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	searchPath []string

	registry        registry.Registry // nil unless announcing
	service         string
	ttl             int64
	announceTimeout time.Duration
}

// DefaultAnnounceTimeout bounds each registry update. Announcing happens
// between a load and its response, so an unreachable registry must not stall
// the parent.
const DefaultAnnounceTimeout = 3 * time.Second

type Option func(*Worker)

// WithReaderConfig sets the framing of both directions. The default is
// unframed JSON split by read event.
func WithReaderConfig(cfg protocol.ReaderConfig) Option {
	return func(w *Worker) {
		w.cfg = cfg
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithSearchPath seeds the module search path.
func WithSearchPath(dirs ...string) Option {
	return func(w *Worker) {
		w.searchPath = append(w.searchPath, dirs...)
	}
}

// WithRegistry announces the worker under service while it serves.
func WithRegistry(reg registry.Registry, service string, ttl int64) Option {
	return func(w *Worker) {
		w.registry = reg
		w.service = service
		w.ttl = ttl
	}
}

// WithAnnounceTimeout overrides DefaultAnnounceTimeout.
func WithAnnounceTimeout(d time.Duration) Option {
	return func(w *Worker) {
		w.announceTimeout = d
	}
}

// New creates a worker that loads modules from modules. The name table is
// created here and lives as long as the worker.
func New(modules *module.Registry, opts ...Option) *Worker {
	w := &Worker{
		id:      uuid.NewString(),
		started: time.Now(),
		cfg: protocol.ReaderConfig{
			Framing: protocol.Unframed,
			Input:   protocol.Chunk,
			Codec:   codec.CodecTypeJSON,
		},
		logger:          zap.NewNop(),
		table:           binding.NewTable(),
		announceTimeout: DefaultAnnounceTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg.MaxBytes <= 0 {
		w.cfg.MaxBytes = protocol.DefaultMaxMessageBytes
	}
	w.logger = w.logger.With(zap.String("worker_id", w.id))
	w.loader = loader.New(modules, w.table,
		loader.WithSearchPath(w.searchPath...),
		loader.WithLogger(w.logger))
	w.invoker = invoker.New(w.table)
	return w
}

func (w *Worker) ID() string {
	return w.id
}

// Names lists the currently bound names.
func (w *Worker) Names() []string {
	return w.table.Names()
}

func (w *Worker) SearchPath() []string {
	return w.loader.SearchPath()
}

// Use registers a middleware. Middlewares apply in the order they are added;
// register them before Serve.
func (w *Worker) Use(mw middleware.Middleware) {
	w.middlewares = append(w.middlewares, mw)
}

// Serve reads messages from in and answers each on out until in is
// exhausted (nil), ctx is done between messages (nil) or the stream itself
// fails (the error). Per-message failures are answered, never returned.
func (w *Worker) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	w.handler = middleware.Chain(w.middlewares...)(w.dispatch)
	r := protocol.NewReader(in, w.cfg)
	wr := protocol.NewWriter(out, w.cfg.Framing)

	w.announce(ctx)
	defer w.withdraw()

	w.logger.Info("worker serving",
		zap.String("framing", string(w.cfg.Framing)),
		zap.String("input", string(w.cfg.Input)),
		zap.Stringer("codec", w.cfg.Codec))

	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := r.ReadFrame()
		if err == io.EOF {
			w.logger.Info("input closed")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read message")
		}
		if err := w.handleFrame(ctx, f, wr); err != nil {
			return err
		}
	}
}

// handleFrame answers one inbound frame. Only a failure to write the answer
// is returned.
func (w *Worker) handleFrame(ctx context.Context, f protocol.Frame, wr protocol.Writer) error {
	c := codec.GetCodec(f.Codec)
	var resp *message.Response
	if f.Truncated {
		req := &message.Request{Raw: f.Body, Codec: c}
		err := message.NewError(message.KindDecode, "decode",
			errors.Errorf("message exceeds %d bytes", w.cfg.MaxBytes))
		w.logger.Warn("message rejected", zap.Stringer("kind", message.KindDecode), zap.Error(err))
		resp = req.Fail(err)
	} else {
		resp = w.Handle(ctx, f.Body, c)
	}

	body, err := c.Encode(resp)
	if err != nil {
		// the result could not be encoded; answer with a failure instead
		w.logger.Warn("result not encodable", zap.Error(err))
		req := &message.Request{Raw: f.Body, Codec: c}
		resp = req.Fail(message.NewError(message.KindInvoke, "encode result", err))
		if body, err = c.Encode(resp); err != nil {
			return errors.Wrap(err, "encode failure response")
		}
	}

	if err := wr.WriteFrame(protocol.Frame{Codec: f.Codec, Type: protocol.MsgTypeResponse, Body: body}); err != nil {
		return errors.Wrap(err, "write response")
	}
	return nil
}

// Handle decodes raw with c and runs it through the middleware chain. It
// always returns a Response.
func (w *Worker) Handle(ctx context.Context, raw []byte, c codec.Codec) *message.Response {
	if w.handler == nil {
		w.handler = middleware.Chain(w.middlewares...)(w.dispatch)
	}
	req, err := message.Decode(raw, c, w.cfg.Framing == protocol.Unframed)
	if err != nil {
		w.logger.Warn("message rejected",
			zap.Stringer("kind", message.KindOf(err)),
			zap.Error(err))
		return req.Fail(err)
	}
	return w.handler(ctx, req)
}

// dispatch is the innermost handler.
func (w *Worker) dispatch(ctx context.Context, req *message.Request) *message.Response {
	switch req.Type {
	case message.TypeLoad:
		if _, err := w.loader.Load(ctx, req.Load); err != nil {
			return req.Fail(err)
		}
		w.announce(ctx)
		return message.OK(message.LoadResult)
	case message.TypeCall:
		result, err := w.invoker.Invoke(ctx, req.Codec, req.Call)
		if err != nil {
			return req.Fail(err)
		}
		return message.OK(result)
	}
	return req.Fail(&message.Error{Kind: message.KindUnknownType, Err: message.ErrUnknownType})
}

func (w *Worker) instance() registry.Instance {
	host, _ := os.Hostname()
	return registry.Instance{
		ID:      w.id,
		PID:     os.Getpid(),
		Host:    host,
		Framing: string(w.cfg.Framing),
		Names:   w.table.Names(),
		Started: w.started,
	}
}

// announce publishes the worker. Registry failures are logged: the parent
// on stdio does not depend on them.
func (w *Worker) announce(ctx context.Context) {
	if w.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.announceTimeout)
	defer cancel()
	if err := w.registry.Register(ctx, w.service, w.instance(), w.ttl); err != nil {
		w.logger.Warn("announce failed", zap.String("service", w.service), zap.Error(err))
	}
}

func (w *Worker) withdraw() {
	if w.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.announceTimeout)
	defer cancel()
	if err := w.registry.Deregister(ctx, w.service, w.id); err != nil {
		w.logger.Warn("deregister failed", zap.String("service", w.service), zap.Error(err))
	}
}
