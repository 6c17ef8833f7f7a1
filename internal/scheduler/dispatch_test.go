package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_BarrierOrdersAroundItself(t *testing.T) {
	d := newDispatcher()
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	note := func(s string) func(context.Context) {
		return func(context.Context) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}
	gate := make(chan struct{})

	require.True(t, d.submit(ctx, "a", func(context.Context) { <-gate }))
	require.True(t, d.submit(ctx, "a", note("a1")))
	require.True(t, d.submitBarrier(ctx, note("barrier1")))
	require.True(t, d.submit(ctx, "b", note("b1")))
	require.True(t, d.submitBarrier(ctx, note("barrier2")))
	require.True(t, d.submit(ctx, "a", note("a2")))

	close(gate)
	d.idle()

	assert.Equal(t, []string{"a1", "barrier1", "b1", "barrier2", "a2"}, got)
	require.NoError(t, d.drain(ctx))
	assert.False(t, d.submitBarrier(ctx, note("late")))
}
