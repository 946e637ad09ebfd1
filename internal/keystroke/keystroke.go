// Package keystroke delivers timestamped key events from sources other
// than the terminal: a dedicated scanner input device on Linux, and
// recorded scripts for replay and tests.
//
// A Source only reports keys. Classification is left to the wedge
// controller, which must see events in the order and with the timing they
// happened, so every source stamps events as close to the hardware as it
// can.
package keystroke

import (
	"context"
	"errors"
	"sync"

	"scanwedge/internal/wedge"
)

// Source produces key events.
type Source interface {
	// Start begins delivering events. It returns once the source is
	// running; events arrive on Events until ctx is done or Stop is called.
	Start(ctx context.Context) error

	// Events is closed when the source stops.
	Events() <-chan wedge.KeyEvent

	// Stop stops the source and waits for it to finish.
	Stop() error
}

var (
	// ErrNotAvailable is returned when a source cannot run on this platform
	// or with the current permissions.
	ErrNotAvailable = errors.New("key source not available")

	// ErrAlreadyRunning is returned by Start on a running source.
	ErrAlreadyRunning = errors.New("key source already running")
)

// baseSource holds the lifecycle shared by the sources.
type baseSource struct {
	mu      sync.Mutex
	running bool
	events  chan wedge.KeyEvent
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// begin marks the source running and returns the context its goroutine
// must watch.
func (b *baseSource) begin(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil, ErrAlreadyRunning
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.events = make(chan wedge.KeyEvent, 64)
	b.done = make(chan struct{})
	b.err = nil
	b.running = true
	return ctx, nil
}

// finish is deferred by the source goroutine.
func (b *baseSource) finish(err error) {
	b.mu.Lock()
	b.err = err
	b.running = false
	close(b.events)
	close(b.done)
	b.mu.Unlock()
}

// emit delivers ev, giving up when ctx is done.
func (b *baseSource) emit(ctx context.Context, ev wedge.KeyEvent) bool {
	select {
	case b.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *baseSource) Events() <-chan wedge.KeyEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events
}

func (b *baseSource) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Err returns the error that ended the source, if any.
func (b *baseSource) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Running reports whether the source goroutine is active.
func (b *baseSource) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
