// Package loop runs closures on a single goroutine.
//
// Terminal events, device events, timer callbacks and backend replies are
// all posted here, so the wedge controller and the form it drives are only
// ever touched from one goroutine and need no locking.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"scanwedge/internal/wedge"
)

// DefaultQueueSize bounds the number of closures waiting to run.
const DefaultQueueSize = 256

// ErrStopped is returned by Do once the loop has stopped.
var ErrStopped = errors.New("loop stopped")

// Loop is a single-goroutine executor.
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop with a queue of size closures.
func New(size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post queues fn. It blocks while the queue is full and returns false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted closures until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			fn()
		}
	}
}

// RunPending runs every closure already queued without blocking and
// returns how many ran. It is for callers that drive the loop by hand.
func (l *Loop) RunPending() int {
	n := 0
	for {
		select {
		case fn := <-l.queue:
			fn()
			n++
		default:
			return n
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// AfterFunc implements wedge.Scheduler. fn runs on the loop goroutine.
// The returned task must be stopped from the loop goroutine; once Stop
// returns true fn will not run, even if its timer already fired and the
// callback is sitting in the queue.
func (l *Loop) AfterFunc(d time.Duration, fn func()) wedge.Task {
	t := &timer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

type timer struct {
	t       *time.Timer
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}
