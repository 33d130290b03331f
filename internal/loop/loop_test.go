package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoopRunsPostedCallbacksInOrder(t *testing.T) {
	l := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, Call(ctx, l, func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopRecoversFromPanics(t *testing.T) {
	l := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, Call(ctx, l, func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopTimerCancel(t *testing.T) {
	l := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{}, 2)
	var task Task
	require.NoError(t, Call(ctx, l, func() {
		task = l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	}))

	var cancelled bool
	require.NoError(t, Call(ctx, l, func() { cancelled = task.Cancel() }))
	assert.True(t, cancelled)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopTimerFires(t *testing.T) {
	l := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.Post(func() {
		l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(zap.NewNop())
	l.Stop()
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, Call(context.Background(), l, func() {}), ErrStopped)
}

func TestManualDefersNestedPosts(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string
	m.Post(func() {
		m.Post(func() { order = append(order, "inner") })
		order = append(order, "outer")
	})
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestManualAdvance(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewManual(start)

	var fired []string
	m.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	m.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	cancelled := m.AfterFunc(1500*time.Millisecond, func() { fired = append(fired, "x") })
	assert.True(t, cancelled.Cancel())
	assert.False(t, cancelled.Cancel())

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, start.Add(1500*time.Millisecond), m.Now())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Zero(t, m.PendingTimers())
}

func TestManualTimerRearmedFromCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			m.AfterFunc(time.Second, tick)
		}
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}
