// Package scheduler runs keyed, cancellable delayed tasks. Every timer the
// moderation components start (captcha deadlines, notice deletion) is
// registered here under a key owned by the resource it belongs to, so the
// owner can cancel it when it is torn down early.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"tg-guardian/internal/crash"
)

// Scheduler schedules fn to run once after delay. Scheduling an existing key
// replaces the previous task.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func())
	Cancel(key string) bool
}

// Timers is the production Scheduler backed by time.AfterFunc.
type Timers struct {
	mu      sync.Mutex
	tasks   map[string]*timerTask
	running sync.WaitGroup
	closed  bool
}

type timerTask struct {
	timer *time.Timer
}

func NewTimers() *Timers {
	return &Timers{tasks: make(map[string]*timerTask)}
}

func (s *Timers) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.tasks[key]; ok && old.timer.Stop() {
		s.running.Done()
	}
	task := &timerTask{}
	s.running.Add(1)
	task.timer = time.AfterFunc(delay, func() {
		defer s.running.Done()
		s.mu.Lock()
		if s.tasks[key] != task {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		crash.Guard("scheduler:"+key, fn)()
	})
	s.tasks[key] = task
}

func (s *Timers) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	if task.timer.Stop() {
		s.running.Done()
	}
	return true
}

// Len is the number of tasks not yet fired or cancelled.
func (s *Timers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and waits for callbacks already running.
func (s *Timers) Stop() {
	s.mu.Lock()
	s.closed = true
	for key, task := range s.tasks {
		if task.timer.Stop() {
			s.running.Done()
		}
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	s.running.Wait()
}

// Manual is a deterministic Scheduler with its own clock. Tasks run only
// when Advance moves the clock past their due time.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks map[string]manualTask
}

type manualTask struct {
	due time.Time
	seq int
	fn  func()
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, tasks: make(map[string]manualTask)}
}

// Now is the manual clock, usable as a func() time.Time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Schedule(key string, delay time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks[key] = manualTask{due: m.now.Add(delay), seq: m.seq, fn: fn}
}

func (m *Manual) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[key]; !ok {
		return false
	}
	delete(m.tasks, key)
	return true
}

// Pending reports whether key is scheduled.
func (m *Manual) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d and runs due tasks in due order,
// including tasks scheduled by callbacks that are already due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()

	for {
		task, ok := m.nextDue()
		if !ok {
			return
		}
		task.fn()
	}
}

func (m *Manual) nextDue() (manualTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.tasks))
	for k, t := range m.tasks {
		if !t.due.After(m.now) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return manualTask{}, false
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.tasks[keys[i]], m.tasks[keys[j]]
		if a.due.Equal(b.due) {
			return a.seq < b.seq
		}
		return a.due.Before(b.due)
	})
	task := m.tasks[keys[0]]
	delete(m.tasks, keys[0])
	return task, true
}
