package livequery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan Result[T]) Result[T] {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "channel closed")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live query result")
	}
	return Result[T]{}
}

func TestSubscribeRerunsOnNotify(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var version atomic.Int64
	ch := Subscribe(ctx, h, "users/u/projects/p1", func(context.Context) (int64, error) {
		return version.Load(), nil
	})

	assert.Equal(t, int64(0), recv(t, ch).Value)

	version.Store(1)
	h.Notify("users/u/projects/p1")
	assert.Equal(t, int64(1), recv(t, ch).Value)
}

func TestCollectionSubscriberSeesDocumentChanges(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	ch := Subscribe(ctx, h, "users/u/projects", func(context.Context) (int64, error) {
		return runs.Add(1), nil
	})
	recv(t, ch)

	h.Notify("users/u/projects/p7")
	assert.Equal(t, int64(2), recv(t, ch).Value)
}

func TestNotifyIgnoresUnrelatedPaths(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	ch := Subscribe(ctx, h, "users/u/projects/p1", func(context.Context) (int64, error) {
		return runs.Add(1), nil
	})
	recv(t, ch)

	h.Notify("users/u/projects/p10")
	h.Notify("users/other/projects/p1")

	select {
	case r := <-ch:
		t.Fatalf("unexpected re-run: %v", r)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int64(1), runs.Load())
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch := Subscribe(ctx, h, "k", func(context.Context) (int, error) { return 1, nil })
	recv(t, ch)
	require.Equal(t, 1, h.Subscribers())

	cancel()
	for range ch {
	}
	assert.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}
