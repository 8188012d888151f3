package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claude/restkeeper/internal/countdown"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return l
}

// TestDoRunsInOrder verifies posted work runs sequentially in submission order.
func TestDoRunsInOrder(t *testing.T) {
	l := startLoop(t)
	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	var snapshot []int
	if err := l.Do(context.Background(), func() { snapshot = append(snapshot, got...) }); err != nil {
		t.Fatal(err)
	}
	for i, v := range snapshot {
		if v != i {
			t.Fatalf("order = %v, want 0..4", snapshot)
		}
	}
	if len(snapshot) != 5 {
		t.Errorf("ran %d functions, want 5", len(snapshot))
	}
}

// TestDoAfterClose verifies submissions after shutdown fail with ErrClosed.
func TestDoAfterClose(t *testing.T) {
	l := New(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = l.Run(ctx)

	err := l.Do(context.Background(), func() {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Do after close = %v, want ErrClosed", err)
	}
}

// TestPanicDoesNotStopLoop verifies a panicking function is logged and the
// loop keeps serving.
func TestPanicDoesNotStopLoop(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("function after panic did not run")
	}
}

// TestSchedulerDrivesCountdown runs a short countdown on a real ticker.
func TestSchedulerDrivesCountdown(t *testing.T) {
	l := startLoop(t)
	done := make(chan struct{})
	var ticks atomic.Int32

	err := l.Do(context.Background(), func() {
		timer, err := countdown.New(3, l.Scheduler(),
			countdown.WithTickInterval(5*time.Millisecond),
			countdown.OnTick(func(int) { ticks.Add(1) }),
			countdown.OnCompleted(func() { close(done) }),
		)
		if err != nil {
			t.Error(err)
			return
		}
		timer.Start()
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("countdown did not complete")
	}
	if got := ticks.Load(); got != 3 {
		t.Errorf("ticks = %d, want 3", got)
	}
}

// TestSchedulerCancelDropsQueuedTick verifies that once cancel returns on the
// loop, no tick reaches the callback.
func TestSchedulerCancelDropsQueuedTick(t *testing.T) {
	l := startLoop(t)
	var calls atomic.Int32
	var cancel func()

	if err := l.Do(context.Background(), func() {
		cancel = l.Scheduler().Every(time.Millisecond, func() { calls.Add(1) })
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	var atCancel int32
	if err := l.Do(context.Background(), func() {
		cancel()
		atCancel = calls.Load()
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	// Flush anything the ticker goroutine queued before it saw stop.
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}

	if got := calls.Load(); got != atCancel {
		t.Errorf("calls after cancel = %d, want %d", got, atCancel)
	}
	cancel()
}
