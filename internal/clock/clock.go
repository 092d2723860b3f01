package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by every timer-driven component. Retries,
// settle delays and auto-clear timeouts are scheduled with AfterFunc instead of
// blocking a goroutine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Mock is a manually driven clock. Scheduled functions run synchronously on
// the goroutine calling Advance, in due order.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*mockTimer
}

type mockTimer struct {
	mock *Mock
	at   time.Time
	seq  uint64
	fn   func()
}

func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}

	m.seq++
	t := &mockTimer{mock: m, at: m.now.Add(d), seq: m.seq, fn: f}
	m.timers = append(m.timers, t)

	return t
}

// Advance moves the clock forward by d, firing every timer that falls due,
// including timers scheduled by fired callbacks.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.popDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.mu.Unlock()

		next.fn()
	}
}

// Step advances the clock in increments of step until d has elapsed, which
// lets periodic callbacks interleave with the rest of a test scenario.
func (m *Mock) Step(d, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		m.Advance(min(step, d-elapsed))
	}
}

// Pending returns the number of scheduled timers.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.timers)
}

func (m *Mock) popDue(target time.Time) *mockTimer {
	if len(m.timers) == 0 {
		return nil
	}

	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})

	first := m.timers[0]
	if first.at.After(target) {
		return nil
	}

	m.timers = m.timers[1:]

	return first
}

func (t *mockTimer) Stop() bool {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()

	for i, other := range t.mock.timers {
		if other == t {
			t.mock.timers = append(t.mock.timers[:i], t.mock.timers[i+1:]...)
			return true
		}
	}

	return false
}
