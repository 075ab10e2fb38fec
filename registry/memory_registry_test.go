package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "svc", Instance{ID: "b", PID: 2}, 10))
	require.NoError(t, reg.Register(ctx, "svc", Instance{ID: "a", PID: 1}, 10))
	require.NoError(t, reg.Register(ctx, "other", Instance{ID: "c"}, 10))

	instances, err := reg.Discover(ctx, "svc")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "a", instances[0].ID)
	assert.Equal(t, "b", instances[1].ID)

	require.NoError(t, reg.Register(ctx, "svc", Instance{ID: "a", Names: []string{"add"}}, 10))
	require.NoError(t, reg.Deregister(ctx, "svc", "b"))

	instances, err = reg.Discover(ctx, "svc")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, []string{"add"}, instances[0].Names)
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "svc")
	require.NoError(t, reg.Register(context.Background(), "svc", Instance{ID: "a"}, 10))

	select {
	case instances := <-ch:
		require.Len(t, instances, 1)
		assert.Equal(t, "a", instances[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "/pipeworker/svc/", KeyPrefix("svc"))
	assert.Equal(t, "/pipeworker/svc/42", Key("svc", "42"))
}
