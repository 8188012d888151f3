// Package countdown implements a restartable, pausable countdown used for
// rest periods, exercise previews, timed holds and transition screens.
//
// A Timer is not safe for concurrent use. It expects every method call and
// every scheduled tick to run on one execution context, the way a UI event
// loop would drive it (see the loop package for the production setup).
package countdown

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTickInterval is the period between ticks.
	DefaultTickInterval = time.Second
	// DefaultUpperBound caps Remaining after an adjustment.
	DefaultUpperBound = 600
)

// ErrInvalidDuration is returned by New for a non-positive total duration.
var ErrInvalidDuration = errors.New("countdown: total duration must be positive")

// Status is the lifecycle state of a Timer.
type Status int

const (
	Idle Status = iota
	Running
	Paused
	Completed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a lowercase status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "running":
		*s = Running
	case "paused":
		*s = Paused
	case "completed":
		*s = Completed
	default:
		return fmt.Errorf("countdown: unknown status %q", b)
	}
	return nil
}

// Scheduler schedules a repeating callback. The returned cancel func must
// guarantee that fn is not invoked again once it returns; calling it more
// than once is allowed.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// Option configures a Timer.
type Option func(*Timer)

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithUpperBound overrides DefaultUpperBound.
func WithUpperBound(seconds int) Option {
	return func(t *Timer) {
		if seconds > 0 {
			t.upperBound = seconds
		}
	}
}

// WithAutoStart starts the timer as soon as it is constructed.
func WithAutoStart(on bool) Option {
	return func(t *Timer) { t.autoStart = on }
}

// OnTick registers the listener called after every decrement with the new
// remaining seconds.
func OnTick(fn func(remaining int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// OnCompleted registers the listener called once per run when the timer
// reaches Completed.
func OnCompleted(fn func()) Option {
	return func(t *Timer) { t.onCompleted = fn }
}

// Timer is a countdown state machine with tick and completion notifications.
type Timer struct {
	sched      Scheduler
	interval   time.Duration
	upperBound int
	autoStart  bool

	total     int
	remaining int
	status    Status
	disposed  bool

	// gen invalidates ticks belonging to a cancelled schedule.
	gen    uint64
	cancel func()

	onTick      func(int)
	onCompleted func()
}

// New creates a timer of total seconds driven by sched.
func New(total int, sched Scheduler, opts ...Option) (*Timer, error) {
	if total <= 0 {
		return nil, ErrInvalidDuration
	}
	if sched == nil {
		return nil, errors.New("countdown: scheduler is required")
	}
	t := &Timer{
		sched:      sched,
		interval:   DefaultTickInterval,
		upperBound: DefaultUpperBound,
		total:      total,
		remaining:  total,
		status:     Idle,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.autoStart {
		t.Start()
	}
	return t, nil
}

// Start moves an Idle or Paused timer to Running. It is a no-op otherwise.
func (t *Timer) Start() {
	if t.disposed || (t.status != Idle && t.status != Paused) {
		return
	}
	t.status = Running
	t.schedule()
}

// Resume continues a Paused timer.
func (t *Timer) Resume() {
	if t.status != Paused {
		return
	}
	t.Start()
}

// Pause stops a Running timer, preserving the remaining time.
func (t *Timer) Pause() {
	if t.disposed || t.status != Running {
		return
	}
	t.stop()
	t.status = Paused
}

// Adjust adds delta seconds to the remaining time, clamped to
// [0, Bound()]. It never changes the status and never completes the timer;
// a running timer adjusted to zero completes on its next tick.
func (t *Timer) Adjust(delta int) {
	if t.disposed || t.status == Completed {
		return
	}
	t.remaining = clamp(t.remaining+delta, 0, t.Bound())
}

// Skip forces the timer to Completed and fires the completion listener.
func (t *Timer) Skip() {
	if t.disposed || t.status == Completed {
		return
	}
	t.stop()
	t.remaining = 0
	t.finish()
}

// Complete is an alias for Skip.
func (t *Timer) Complete() { t.Skip() }

// Reset returns the timer to Idle. A positive duration replaces the total;
// otherwise the previous total is restored.
func (t *Timer) Reset(duration ...int) {
	if t.disposed {
		return
	}
	t.stop()
	if len(duration) > 0 && duration[0] > 0 {
		t.total = duration[0]
	}
	t.remaining = t.total
	t.status = Idle
}

// Dispose cancels any pending tick and makes the timer inert. It is safe to
// call more than once.
func (t *Timer) Dispose() {
	if t.disposed {
		return
	}
	t.stop()
	t.disposed = true
	t.onTick = nil
	t.onCompleted = nil
}

func (t *Timer) Status() Status { return t.status }
func (t *Timer) Remaining() int { return t.remaining }
func (t *Timer) Total() int { return t.total }
func (t *Timer) Disposed() bool { return t.disposed }
func (t *Timer) Interval() time.Duration { return t.interval }

// Bound is the largest value Remaining may take after an adjustment.
func (t *Timer) Bound() int {
	return max(t.total, t.upperBound)
}

// Progress is the fraction of the total still remaining, in [0, 1] unless
// the remaining time was adjusted above the total.
func (t *Timer) Progress() float64 {
	return float64(t.remaining) / float64(max(t.total, 1))
}

// Snapshot is a point-in-time copy of a timer's observable state.
type Snapshot struct {
	Status    Status  `json:"status"`
	Remaining int     `json:"remaining_sec"`
	Total     int     `json:"total_sec"`
	Progress  float64 `json:"progress"`
	Disposed  bool    `json:"disposed,omitempty"`
}

// Snapshot returns the current state.
func (t *Timer) Snapshot() Snapshot {
	return Snapshot{
		Status:    t.status,
		Remaining: t.remaining,
		Total:     t.total,
		Progress:  t.Progress(),
		Disposed:  t.disposed,
	}
}

func (t *Timer) schedule() {
	t.stop()
	gen := t.gen
	t.cancel = t.sched.Every(t.interval, func() { t.tick(gen) })
}

// stop cancels the active schedule before any state is mutated.
func (t *Timer) stop() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Timer) tick(gen uint64) {
	if gen != t.gen || t.disposed || t.status != Running {
		return
	}
	if t.remaining > 0 {
		t.remaining--
		if t.onTick != nil {
			t.onTick(t.remaining)
		}
		// A listener may have paused, reset or disposed the timer.
		if gen != t.gen || t.status != Running || t.remaining > 0 {
			return
		}
	}
	t.stop()
	t.finish()
}

func (t *Timer) finish() {
	t.status = Completed
	if t.onCompleted != nil {
		t.onCompleted()
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
