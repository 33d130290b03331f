// Package loop provides the single control goroutine that every printer,
// discovery and job callback runs on.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("control loop stopped")

// Executor serializes callbacks. Post may be called from any goroutine;
// the posted functions and AfterFunc callbacks always run one at a time.
type Executor interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) Task
	Now() time.Time
}

// Task is a handle to a scheduled callback.
type Task interface {
	// Cancel reports whether the callback was prevented from running.
	Cancel() bool
}

// Loop is the production Executor backed by one goroutine.
type Loop struct {
	logger  *zap.Logger
	nowFunc func() time.Time

	mu      sync.Mutex
	pending []func()
	stopped bool

	wake     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
}

func New(logger *zap.Logger) *Loop {
	return &Loop{
		logger:  logger,
		nowFunc: time.Now,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// Run executes posted callbacks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.quit:
			return
		case <-l.wake:
		}

		for {
			fn := l.next()
			if fn == nil {
				break
			}
			l.safeCall(fn)
		}
	}
}

// Stop makes Run return. Callbacks still queued are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.pending = nil
		l.mu.Unlock()
		close(l.quit)
	})
}

func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Task {
	t := &timerTask{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled || t.fired {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

func (l *Loop) Now() time.Time {
	return l.nowFunc()
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn
}

func (l *Loop) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("control loop callback panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// timerTask state is only touched on the control goroutine.
type timerTask struct {
	timer     *time.Timer
	cancelled bool
	fired     bool
}

func (t *timerTask) Cancel() bool {
	if t.cancelled || t.fired {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	return true
}

// Call runs fn on the executor and waits for it to return.
func Call(ctx context.Context, exec Executor, fn func()) error {
	done := make(chan struct{})
	if !exec.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
