package countdown

import "time"

// ManualScheduler is a Scheduler driven by explicit Advance calls instead of
// a clock. Every active schedule fires once per step regardless of its
// interval.
type ManualScheduler struct {
	entries []*manualEntry
}

type manualEntry struct {
	interval  time.Duration
	fn        func()
	cancelled bool
}

// NewManualScheduler returns an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every implements Scheduler.
func (m *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	e := &manualEntry{interval: interval, fn: fn}
	m.entries = append(m.entries, e)
	return func() { e.cancelled = true }
}

// Advance fires n steps.
func (m *ManualScheduler) Advance(n int) {
	for range n {
		m.step()
	}
}

// Active reports how many schedules have not been cancelled.
func (m *ManualScheduler) Active() int {
	n := 0
	for _, e := range m.entries {
		if !e.cancelled {
			n++
		}
	}
	return n
}

func (m *ManualScheduler) step() {
	// Schedules created during this step fire from the next one.
	current := m.entries
	for _, e := range current {
		if !e.cancelled {
			e.fn()
		}
	}
	live := m.entries[:0]
	for _, e := range m.entries {
		if !e.cancelled {
			live = append(live, e)
		}
	}
	m.entries = live
}
