package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/wedge"
)

var _ wedge.Scheduler = (*Loop)(nil)

func TestRunExecutesInOrder(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(ctx, func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, l.Post(func() {}), "post after stop must fail")
}

func TestAfterFuncRunsOnLoop(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	var task wedge.Task
	require.NoError(t, l.Do(ctx, func() {
		task = l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	}))

	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("timer never fired")
	}

	var stopped bool
	require.NoError(t, l.Do(ctx, func() { stopped = task.Stop() }))
	assert.False(t, stopped, "stop after fire reports false")
}

func TestStopPreventsQueuedCallback(t *testing.T) {
	l := New(0)
	var ran atomic.Bool

	task := l.AfterFunc(time.Millisecond, func() { ran.Store(true) })
	// Wait for the timer to post its callback without draining the queue.
	require.Eventually(t, func() bool { return len(l.queue) == 1 }, time.Second, time.Millisecond)

	assert.True(t, task.Stop())
	assert.Equal(t, 1, l.RunPending())
	assert.False(t, ran.Load())
	assert.False(t, task.Stop())
}

func TestStopBeforeExpiry(t *testing.T) {
	l := New(0)
	var ran atomic.Bool

	task := l.AfterFunc(20*time.Millisecond, func() { ran.Store(true) })
	assert.True(t, task.Stop())

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, l.RunPending())
	assert.False(t, ran.Load())
}

func TestDoHonorsContext(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Nobody runs the loop, so Do can only time out.
	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
