// Package session keeps the live countdown timers of every user and turns
// their notifications into events and recorded rest periods.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/claude/restkeeper/internal/coach"
	"github.com/claude/restkeeper/internal/countdown"
	"github.com/claude/restkeeper/internal/loop"
	"github.com/claude/restkeeper/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown timer or one owned by another user.
	ErrNotFound = errors.New("session: timer not found")
	// ErrUnknownAction is returned by Command for an unsupported action.
	ErrUnknownAction = errors.New("session: unknown action")
)

// Recorder persists finished rest periods.
type Recorder interface {
	RecordRestPeriod(ctx context.Context, r models.RestPeriodRow) error
}

// Config holds timer defaults.
type Config struct {
	TickInterval   time.Duration
	UpperBound     int
	DefaultRestSec int
	RecordTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = countdown.DefaultTickInterval
	}
	if c.UpperBound <= 0 {
		c.UpperBound = countdown.DefaultUpperBound
	}
	if c.DefaultRestSec <= 0 {
		c.DefaultRestSec = 90
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 5 * time.Second
	}
	return c
}

// Action is a command applied to a timer.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionAdjust Action = "adjust"
	ActionSkip   Action = "skip"
	ActionReset  Action = "reset"
)

// Command carries an action and its argument.
type Command struct {
	Action   Action `json:"action"`
	Delta    int    `json:"delta,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// CreateRequest describes a new timer. A zero DurationSec picks the
// recommended rest for the exercise, or the configured default.
type CreateRequest struct {
	UserID      int              `json:"-"`
	Kind        models.TimerKind `json:"kind"`
	Exercise    string           `json:"exercise"`
	DurationSec int              `json:"duration_sec"`
	AutoStart   bool             `json:"auto_start"`
}

// Snapshot is the externally visible state of one timer.
type Snapshot struct {
	ID       uuid.UUID        `json:"id"`
	UserID   int              `json:"user_id"`
	Kind     models.TimerKind `json:"kind"`
	Exercise string           `json:"exercise,omitempty"`
	Category coach.Category   `json:"category,omitempty"`
	Tip      string           `json:"tip,omitempty"`
	countdown.Snapshot
	Clock     string    `json:"clock"`
	Percent   int       `json:"percent"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType names a timer event.
type EventType string

const (
	EventTick      EventType = "tick"
	EventCompleted EventType = "completed"
	EventState     EventType = "state"
	EventDisposed  EventType = "disposed"
)

// Event is delivered to subscribers of a timer.
type Event struct {
	Type      EventType        `json:"type"`
	TimerID   uuid.UUID        `json:"timer_id"`
	Status    countdown.Status `json:"status"`
	Remaining int              `json:"remaining_sec"`
	Clock     string           `json:"clock"`
}

const subscriberBuffer = 16

type entry struct {
	id        uuid.UUID
	userID    int
	kind      models.TimerKind
	exercise  string
	category  coach.Category
	createdAt time.Time

	timer       *countdown.Timer
	ticks       int
	adjusted    int
	startedAt   time.Time
	completedAt time.Time
	skipping    bool
	recorded    bool

	subs    map[int]chan Event
	nextSub int
}

// Manager owns all live timers. Timer state is only touched on the loop.
type Manager struct {
	loop  *loop.Loop
	sched countdown.Scheduler
	rec   Recorder
	cfg   Config
	log   *slog.Logger
	now   func() time.Time

	timers map[uuid.UUID]*entry

	wg sync.WaitGroup
}

// NewManager creates a Manager. sched must deliver ticks on l; rec may be nil.
func NewManager(l *loop.Loop, sched countdown.Scheduler, rec Recorder, cfg Config, log *slog.Logger) *Manager {
	return &Manager{
		loop:   l,
		sched:  sched,
		rec:    rec,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
		timers: make(map[uuid.UUID]*entry),
	}
}

// Create registers a new timer and optionally starts it.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Snapshot, error) {
	kind, err := models.ParseTimerKind(string(req.Kind))
	if err != nil {
		return Snapshot{}, err
	}
	if req.DurationSec < 0 {
		return Snapshot{}, countdown.ErrInvalidDuration
	}

	var snap Snapshot
	var createErr error
	err = m.loop.Do(ctx, func() {
		e := &entry{
			id:        uuid.New(),
			userID:    req.UserID,
			kind:      kind,
			exercise:  req.Exercise,
			createdAt: m.now(),
			subs:      make(map[int]chan Event),
		}
		duration := req.DurationSec
		if req.Exercise != "" {
			e.category = coach.Classify(req.Exercise)
		}
		if duration == 0 {
			duration = m.cfg.DefaultRestSec
			if e.category != "" && e.category != coach.Unknown {
				duration = coach.RecommendedRest(e.category)
			}
		}

		e.timer, createErr = countdown.New(duration, m.sched,
			countdown.WithTickInterval(m.cfg.TickInterval),
			countdown.WithUpperBound(m.cfg.UpperBound),
			countdown.OnTick(func(remaining int) { m.onTick(e, remaining) }),
			countdown.OnCompleted(func() { m.onCompleted(e) }),
		)
		if createErr != nil {
			return
		}
		m.timers[e.id] = e
		if req.AutoStart {
			m.start(e)
		}
		m.log.Info("timer created", "id", e.id, "user_id", e.userID, "kind", e.kind,
			"exercise", e.exercise, "duration_sec", duration)
		snap = m.snapshot(e)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, createErr
}

// Get returns the snapshot of one timer.
func (m *Manager) Get(ctx context.Context, userID int, id uuid.UUID) (Snapshot, error) {
	var snap Snapshot
	var found bool
	err := m.loop.Do(ctx, func() {
		if e, ok := m.lookup(userID, id); ok {
			snap, found = m.snapshot(e), true
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// List returns a user's timers, oldest first.
func (m *Manager) List(ctx context.Context, userID int) ([]Snapshot, error) {
	var result []Snapshot
	err := m.loop.Do(ctx, func() {
		for _, e := range m.timers {
			if e.userID == userID {
				result = append(result, m.snapshot(e))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// Command applies cmd to a timer and returns the resulting state. Commands
// that are invalid for the current state leave it unchanged.
func (m *Manager) Command(ctx context.Context, userID int, id uuid.UUID, cmd Command) (Snapshot, error) {
	var snap Snapshot
	var cmdErr error
	err := m.loop.Do(ctx, func() {
		e, ok := m.lookup(userID, id)
		if !ok {
			cmdErr = ErrNotFound
			return
		}
		if cmdErr = m.apply(e, cmd); cmdErr != nil {
			return
		}
		snap = m.snapshot(e)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, cmdErr
}

// Dispose stops and forgets a timer. A run that was started but never
// finished is recorded as cancelled.
func (m *Manager) Dispose(ctx context.Context, userID int, id uuid.UUID) error {
	var found bool
	err := m.loop.Do(ctx, func() {
		e, ok := m.lookup(userID, id)
		if !ok {
			return
		}
		found = true
		m.dispose(e)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Subscribe returns a channel of events for a timer, starting with its
// current state. Slow readers miss events rather than stall the loop. The
// channel is closed when the timer is disposed or cancel is called.
func (m *Manager) Subscribe(ctx context.Context, userID int, id uuid.UUID) (<-chan Event, func(), error) {
	var ch chan Event
	var key int
	var e *entry
	err := m.loop.Do(ctx, func() {
		var ok bool
		if e, ok = m.lookup(userID, id); !ok {
			return
		}
		ch = make(chan Event, subscriberBuffer)
		key = e.nextSub
		e.nextSub++
		e.subs[key] = ch
		ch <- m.event(e, EventState)
	})
	if err != nil {
		return nil, nil, err
	}
	if ch == nil {
		return nil, nil, ErrNotFound
	}
	cancel := func() {
		m.loop.Post(func() {
			if c, ok := e.subs[key]; ok {
				delete(e.subs, key)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// Sweep disposes timers that completed more than ttl ago. Returns the
// number removed.
func (m *Manager) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	n := 0
	err := m.loop.Do(ctx, func() {
		cutoff := m.now().Add(-ttl)
		for _, e := range m.timers {
			if e.timer.Status() == countdown.Completed && e.completedAt.Before(cutoff) {
				m.dispose(e)
				n++
			}
		}
	})
	return n, err
}

// Close disposes every timer and waits for pending records to be written.
func (m *Manager) Close(ctx context.Context) {
	err := m.loop.Do(ctx, func() {
		for _, e := range m.timers {
			m.dispose(e)
		}
	})
	if err != nil {
		m.log.Warn("closing timers", "error", err)
	}
	m.wg.Wait()
}

func (m *Manager) lookup(userID int, id uuid.UUID) (*entry, bool) {
	e, ok := m.timers[id]
	if !ok || e.userID != userID {
		return nil, false
	}
	return e, true
}

func (m *Manager) apply(e *entry, cmd Command) error {
	switch cmd.Action {
	case ActionStart:
		m.start(e)
	case ActionResume:
		e.timer.Resume()
	case ActionPause:
		e.timer.Pause()
	case ActionAdjust:
		before := e.timer.Remaining()
		e.timer.Adjust(cmd.Delta)
		e.adjusted += e.timer.Remaining() - before
	case ActionSkip:
		e.skipping = true
		e.timer.Skip()
		e.skipping = false
	case ActionReset:
		m.abandon(e)
		e.timer.Reset(cmd.Duration)
		e.ticks, e.adjusted = 0, 0
		e.startedAt, e.completedAt = time.Time{}, time.Time{}
		e.recorded = false
	default:
		return ErrUnknownAction
	}
	m.publish(e, m.event(e, EventState))
	return nil
}

func (m *Manager) start(e *entry) {
	e.timer.Start()
	if e.timer.Status() == countdown.Running && e.startedAt.IsZero() {
		e.startedAt = m.now()
	}
}

// abandon records a started, unfinished run as cancelled.
func (m *Manager) abandon(e *entry) {
	if !e.recorded && !e.startedAt.IsZero() && e.timer.Status() != countdown.Completed {
		m.record(e, models.OutcomeCancelled)
	}
}

func (m *Manager) dispose(e *entry) {
	m.abandon(e)
	e.timer.Dispose()
	m.publish(e, m.event(e, EventDisposed))
	for k, c := range e.subs {
		delete(e.subs, k)
		close(c)
	}
	delete(m.timers, e.id)
	m.log.Info("timer disposed", "id", e.id, "user_id", e.userID)
}

func (m *Manager) onTick(e *entry, _ int) {
	e.ticks++
	m.publish(e, m.event(e, EventTick))
}

func (m *Manager) onCompleted(e *entry) {
	e.completedAt = m.now()
	outcome := models.OutcomeCompleted
	if e.skipping {
		outcome = models.OutcomeSkipped
	}
	m.record(e, outcome)
	m.publish(e, m.event(e, EventCompleted))
}

// record hands the finished run to the recorder off the loop.
func (m *Manager) record(e *entry, outcome models.Outcome) {
	if e.recorded {
		return
	}
	e.recorded = true
	if m.rec == nil {
		return
	}

	now := m.now()
	started := e.startedAt
	if started.IsZero() {
		started = now
	}
	row := models.RestPeriodRow{
		ID:          uuid.New(),
		UserID:      e.userID,
		Kind:        e.kind,
		Exercise:    e.exercise,
		PlannedSec:  e.timer.Total(),
		ActualSec:   int(math.Round(float64(e.ticks) * m.cfg.TickInterval.Seconds())),
		AdjustedSec: e.adjusted,
		Outcome:     outcome,
		StartedAt:   started,
		EndedAt:     now,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RecordTimeout)
		defer cancel()
		if err := m.rec.RecordRestPeriod(ctx, row); err != nil {
			m.log.Error("failed to record rest period", "id", row.ID, "timer_id", e.id, "error", err)
			return
		}
		m.log.Info("rest period recorded", "id", row.ID, "outcome", row.Outcome,
			"planned_sec", row.PlannedSec, "actual_sec", row.ActualSec)
	}()
}

func (m *Manager) publish(e *entry, ev Event) {
	for _, c := range e.subs {
		select {
		case c <- ev:
		default:
		}
	}
}

func (m *Manager) event(e *entry, t EventType) Event {
	return Event{
		Type:      t,
		TimerID:   e.id,
		Status:    e.timer.Status(),
		Remaining: e.timer.Remaining(),
		Clock:     countdown.FormatClock(e.timer.Remaining()),
	}
}

func (m *Manager) snapshot(e *entry) Snapshot {
	cs := e.timer.Snapshot()
	snap := Snapshot{
		ID:        e.id,
		UserID:    e.userID,
		Kind:      e.kind,
		Exercise:  e.exercise,
		Category:  e.category,
		Snapshot:  cs,
		Clock:     countdown.FormatClock(cs.Remaining),
		Percent:   countdown.Percent(cs.Progress),
		CreatedAt: e.createdAt,
	}
	if e.exercise != "" {
		snap.Tip = coach.SetupTip(e.exercise)
	}
	return snap
}
