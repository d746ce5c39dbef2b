// Package scheduler runs periodic tasks on a single goroutine driven by an
// external tick source. Tasks never run concurrently with each other.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Resolution is the default tick period used by Run callers.
const Resolution = 10 * time.Millisecond

// Task is a periodic callback. now is the time of the tick that triggered it.
type Task func(now time.Time)

// Registration is a handle to a periodic task.
type Registration struct {
	s        *Scheduler
	name     string
	interval time.Duration
	task     Task
	next     time.Time
	canceled bool
}

// Cancel removes the task so it does not run on later ticks.
// Canceling an already canceled registration is a no-op.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.canceled = true
}

// Interval returns the period the task was registered with.
func (r *Registration) Interval() time.Duration {
	return r.interval
}

// Scheduler holds periodic tasks and queued work. Registration and queuing
// are safe from any goroutine; tasks only run from Advance.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*Registration
	pending []func(now time.Time)
	last    time.Time
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Every registers task to run every interval. The first run happens one
// interval after the next Advance.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Registration{
		s:        s,
		name:     name,
		interval: interval,
		task:     task,
	}
	if !s.last.IsZero() {
		r.next = s.last.Add(interval)
	}
	s.tasks = append(s.tasks, r)
	return r
}

// Do queues fn to run on the scheduler goroutine before due tasks of the next Advance.
func (s *Scheduler) Do(fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fn)
}

// Len returns the number of active registrations.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.tasks {
		if !r.canceled {
			n++
		}
	}
	return n
}

// Advance runs queued work and then every task that is due at now, in
// registration order. A task runs at most once per Advance.
func (s *Scheduler) Advance(now time.Time) {
	s.mu.Lock()
	s.last = now
	s.mu.Unlock()

	s.Flush(now)

	for _, r := range s.due(now) {
		// A task canceled by an earlier task in this tick must not run.
		s.mu.Lock()
		canceled := r.canceled
		s.mu.Unlock()
		if canceled {
			continue
		}
		r.task(now)
	}
}

// Flush runs queued work without running periodic tasks.
func (s *Scheduler) Flush(now time.Time) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn(now)
	}
}

// due returns the tasks to run at now and schedules their next run.
func (s *Scheduler) due(now time.Time) []*Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.tasks[:0]
	var due []*Registration
	for _, r := range s.tasks {
		if r.canceled {
			continue
		}
		active = append(active, r)

		if r.next.IsZero() {
			r.next = now.Add(r.interval)
			continue
		}
		if now.Before(r.next) {
			continue
		}
		due = append(due, r)
		// Skip missed periods instead of running a burst to catch up.
		r.next = r.next.Add(r.interval)
		if !now.Before(r.next) {
			r.next = now.Add(r.interval)
		}
	}
	clear(s.tasks[len(active):])
	s.tasks = active
	return due
}

// Run drives Advance from ticks until ctx is done or ticks is closed.
// A panicking task is logged and the loop continues with the next tick.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			s.safeAdvance(now)
		}
	}
}

// safeAdvance runs Advance and recovers from task panics.
func (s *Scheduler) safeAdvance(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in scheduled task", "panic", r)
		}
	}()
	s.Advance(now)
}
