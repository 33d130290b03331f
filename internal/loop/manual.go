package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Executor for tests. Posted callbacks run as soon
// as no other callback is running; timers fire only when Advance moves the
// clock past their deadline. It must be driven from a single goroutine.
type Manual struct {
	now     time.Time
	pending []func()
	timers  []*manualTask
	seq     int
	running bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Post(fn func()) bool {
	m.pending = append(m.pending, fn)
	m.drain()
	return true
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Task {
	m.seq++
	t := &manualTask{m: m, when: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Now() time.Time {
	return m.now
}

// Advance moves the clock forward, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		if t.when.After(m.now) {
			m.now = t.when
		}
		m.removeTimer(t)
		t.fired = true
		m.pending = append(m.pending, t.fn)
		m.drain()
	}
	m.now = target
}

// PendingTimers reports how many timers are armed.
func (m *Manual) PendingTimers() int {
	return len(m.timers)
}

func (m *Manual) drain() {
	if m.running {
		return
	}
	m.running = true
	defer func() { m.running = false }()

	for len(m.pending) > 0 {
		fn := m.pending[0]
		m.pending = m.pending[1:]
		fn()
	}
}

func (m *Manual) nextDue(target time.Time) *manualTask {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	if m.timers[0].when.After(target) {
		return nil
	}
	return m.timers[0]
}

func (m *Manual) removeTimer(t *manualTask) {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTask struct {
	m     *Manual
	when  time.Time
	seq   int
	fn    func()
	fired bool
	done  bool
}

func (t *manualTask) Cancel() bool {
	if t.fired || t.done {
		return false
	}
	t.done = true
	t.m.removeTimer(t)
	return true
}
