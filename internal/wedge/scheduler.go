package wedge

import (
	"sort"
	"time"
)

// Task is a scheduled callback.
type Task interface {
	// Stop cancels the task. It returns false if the task already ran or
	// was already stopped. Once Stop returns, the callback will not run.
	Stop() bool
}

// Scheduler runs callbacks after a delay on the Controller's goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Task
}

// ManualScheduler is a virtual-time Scheduler. Nothing runs until the clock
// is advanced, which makes burst timing deterministic for tests and replays.
type ManualScheduler struct {
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	s    *ManualScheduler
	at   time.Time
	seq  uint64
	fn   func()
	done bool
}

func (t *manualTask) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.s.remove(t)
	return true
}

// NewManualScheduler creates a scheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the virtual clock.
func (s *ManualScheduler) Now() time.Time {
	return s.now
}

// AfterFunc schedules fn at Now()+d.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Task {
	s.seq++
	t := &manualTask{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Pending returns the number of tasks not yet run or stopped.
func (s *ManualScheduler) Pending() int {
	return len(s.tasks)
}

// Advance moves the clock forward by d, running due tasks in order.
func (s *ManualScheduler) Advance(d time.Duration) int {
	return s.AdvanceTo(s.now.Add(d))
}

// AdvanceTo moves the clock to t, running every task due at or before t in
// deadline order. Tasks scheduled by a running task are honored if they fall
// inside the window. It returns the number of tasks run.
func (s *ManualScheduler) AdvanceTo(t time.Time) int {
	ran := 0
	for {
		next := s.nextDue(t)
		if next == nil {
			break
		}
		if next.at.After(s.now) {
			s.now = next.at
		}
		next.done = true
		s.remove(next)
		next.fn()
		ran++
	}
	if t.After(s.now) {
		s.now = t
	}
	return ran
}

func (s *ManualScheduler) nextDue(limit time.Time) *manualTask {
	if len(s.tasks) == 0 {
		return nil
	}
	sort.SliceStable(s.tasks, func(i, j int) bool {
		if s.tasks[i].at.Equal(s.tasks[j].at) {
			return s.tasks[i].seq < s.tasks[j].seq
		}
		return s.tasks[i].at.Before(s.tasks[j].at)
	})
	if s.tasks[0].at.After(limit) {
		return nil
	}
	return s.tasks[0]
}

func (s *ManualScheduler) remove(t *manualTask) {
	for i, x := range s.tasks {
		if x == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}
