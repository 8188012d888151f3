// Package loop provides a single-goroutine executor. Everything that touches
// countdown timers runs on it, which gives the timers the single execution
// context they expect without any locking of their own.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when work is submitted after Run has returned.
var ErrClosed = errors.New("loop: closed")

const defaultQueueSize = 256

// Loop runs posted functions one at a time, in order.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
	log   *slog.Logger
}

// New creates a Loop. Call Run to start draining it.
func New(log *slog.Logger) *Loop {
	return &Loop{
		queue: make(chan func(), defaultQueueSize),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes posted functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop: panic in posted function", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Post enqueues fn without waiting for it to run. It reports false if the
// loop has stopped.
func (l *Loop) Post(fn func()) bool {
	return l.enqueue(fn, nil)
}

// Do runs fn on the loop and waits for it to finish. If ctx ends first fn
// may still run later.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.closed() {
		return ErrClosed
	}
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		fn()
	}
	select {
	case l.queue <- wrapped:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(fn func(), abort <-chan struct{}) bool {
	if l.closed() {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	case <-abort:
		return false
	}
}

func (l *Loop) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Scheduler returns a countdown.Scheduler whose ticks run on this loop.
func (l *Loop) Scheduler() *Scheduler {
	return &Scheduler{loop: l}
}

// Scheduler delivers repeating ticks from a time.Ticker onto a Loop.
type Scheduler struct {
	loop *Loop
}

// Every schedules fn every interval. Cancelling from the loop goroutine
// guarantees that a tick already queued but not yet run is dropped.
func (s *Scheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	var cancelled atomic.Bool

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.loop.enqueue(func() {
					if !cancelled.Load() {
						fn()
					}
				}, stop)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelled.Store(true)
			ticker.Stop()
			close(stop)
		})
	}
}
