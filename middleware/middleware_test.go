package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pipeworker/codec"
	"pipeworker/message"
)

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.OK("ok")
}

func failHandler(ctx context.Context, req *message.Request) *message.Response {
	return req.Fail(message.NewError(message.KindInvoke, "call add", assert.AnError))
}

func newRequest(raw string) *message.Request {
	return &message.Request{
		Raw:   []byte(raw),
		Codec: codec.GetCodec(codec.CodecTypeJSON),
		Type:  message.TypeCall,
		Call:  &message.Call{Target: "add"},
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	resp := Logging(logger)(echoHandler)(context.Background(), newRequest(`{}`))
	assert.Equal(t, "ok", resp.Result)

	Logging(logger)(failHandler)(context.Background(), newRequest(`{}`))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "add", entries[0].ContextMap()["target"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Contains(t, entries[1].ContextMap()["error"], "call add")
}

func TestRecover(t *testing.T) {
	panicky := func(ctx context.Context, req *message.Request) *message.Response {
		panic("nil map write")
	}
	raw := `{"Type":"call","Func":"add"}`

	resp := Recover()(panicky)(context.Background(), newRequest(raw))
	assert.Equal(t, raw, resp.Result)
	assert.Contains(t, resp.Error, "panic: nil map write")
	assert.Contains(t, resp.Error, "goroutine")
}

func TestTimeoutSetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := Timeout(50 * time.Millisecond)(func(ctx context.Context, req *message.Request) *message.Response {
		deadline, ok = ctx.Deadline()
		return message.OK(nil)
	})

	handler(context.Background(), newRequest(`{}`))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
}

func TestTimeoutWaitsForSlowHandler(t *testing.T) {
	handler := Timeout(10 * time.Millisecond)(func(ctx context.Context, req *message.Request) *message.Response {
		time.Sleep(40 * time.Millisecond)
		return message.OK("finished")
	})

	resp := handler(context.Background(), newRequest(`{}`))
	assert.Equal(t, "finished", resp.Result)
	assert.Empty(t, resp.Error)
}

func TestRateLimitThrottles(t *testing.T) {
	// rate=20 per second, burst=1: the first passes at once, the second waits
	handler := RateLimit(20, 1)(echoHandler)
	req := newRequest(`{}`)

	start := time.Now()
	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		require.Empty(t, resp.Error)
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimitCancelled(t *testing.T) {
	handler := RateLimit(0.001, 1)(echoHandler)
	req := newRequest(`{"Func":"add"}`)
	require.Empty(t, handler(context.Background(), req).Error)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := handler(ctx, req)
	assert.Contains(t, resp.Error, "rate limit")
	assert.Equal(t, `{"Func":"add"}`, resp.Result)
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), Timeout(time.Second))(echoHandler)
	resp := handler(context.Background(), newRequest(`{}`))

	require.NotNil(t, resp)
	assert.Empty(t, resp.Error)
	assert.Equal(t, []string{"a", "b"}, order)
}
