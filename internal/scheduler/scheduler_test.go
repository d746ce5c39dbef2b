package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// drive advances s from start in steps of step for total and returns the end time.
func drive(s *Scheduler, start time.Time, step, total time.Duration) time.Time {
	now := start
	for elapsed := time.Duration(0); elapsed <= total; elapsed += step {
		now = start.Add(elapsed)
		s.Advance(now)
	}
	return now
}

func TestEveryRunsAtInterval(t *testing.T) {
	s := New()
	var runs []time.Duration
	s.Every("probe", 100*time.Millisecond, func(now time.Time) {
		runs = append(runs, now.Sub(epoch))
	})

	drive(s, epoch, 10*time.Millisecond, 350*time.Millisecond)

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}, runs)
}

func TestTasksRunInRegistrationOrder(t *testing.T) {
	s := New()
	var order []string
	s.Every("first", 10*time.Millisecond, func(time.Time) { order = append(order, "first") })
	s.Every("second", 10*time.Millisecond, func(time.Time) { order = append(order, "second") })

	s.Advance(epoch)
	s.Advance(epoch.Add(10 * time.Millisecond))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestCancelStopsFurtherRuns(t *testing.T) {
	s := New()
	count := 0
	r := s.Every("probe", 10*time.Millisecond, func(time.Time) { count++ })

	drive(s, epoch, 10*time.Millisecond, 30*time.Millisecond)
	require.Equal(t, 3, count)

	r.Cancel()
	r.Cancel()
	drive(s, epoch.Add(40*time.Millisecond), 10*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, 3, count)
	assert.Zero(t, s.Len())
}

func TestCancelFromEarlierTaskInSameTick(t *testing.T) {
	s := New()
	var second *Registration
	ran := false
	s.Every("canceler", 10*time.Millisecond, func(time.Time) { second.Cancel() })
	second = s.Every("victim", 10*time.Millisecond, func(time.Time) { ran = true })

	s.Advance(epoch)
	s.Advance(epoch.Add(10 * time.Millisecond))

	assert.False(t, ran)
}

func TestMissedPeriodsDoNotBurst(t *testing.T) {
	s := New()
	count := 0
	s.Every("probe", 10*time.Millisecond, func(time.Time) { count++ })

	s.Advance(epoch)
	s.Advance(epoch.Add(time.Second))
	assert.Equal(t, 1, count)

	s.Advance(epoch.Add(time.Second + 5*time.Millisecond))
	assert.Equal(t, 1, count)
	s.Advance(epoch.Add(time.Second + 10*time.Millisecond))
	assert.Equal(t, 2, count)
}

func TestDoRunsBeforeDueTasks(t *testing.T) {
	s := New()
	var order []string
	s.Every("task", 10*time.Millisecond, func(time.Time) { order = append(order, "task") })
	s.Advance(epoch)

	s.Do(func(time.Time) { order = append(order, "queued") })
	s.Advance(epoch.Add(10 * time.Millisecond))

	assert.Equal(t, []string{"queued", "task"}, order)
}

func TestFlushSkipsPeriodicTasks(t *testing.T) {
	s := New()
	var order []string
	s.Every("task", 10*time.Millisecond, func(time.Time) { order = append(order, "task") })
	s.Advance(epoch)

	var at time.Time
	s.Do(func(now time.Time) {
		at = now
		order = append(order, "queued")
	})
	s.Flush(epoch.Add(time.Second))
	s.Flush(epoch.Add(2 * time.Second))

	assert.Equal(t, []string{"queued"}, order)
	assert.Equal(t, epoch.Add(time.Second), at)
}

func TestRegisterAfterAdvanceWaitsOneInterval(t *testing.T) {
	s := New()
	s.Advance(epoch)

	var first time.Time
	s.Every("late", 50*time.Millisecond, func(now time.Time) {
		if first.IsZero() {
			first = now
		}
	})
	drive(s, epoch.Add(10*time.Millisecond), 10*time.Millisecond, 100*time.Millisecond)

	assert.Equal(t, epoch.Add(50*time.Millisecond), first)
}

func TestRunStopsOnContextAndRecoversPanics(t *testing.T) {
	s := New()
	calls := make(chan struct{}, 4)
	s.Every("panicky", time.Millisecond, func(time.Time) {
		calls <- struct{}{}
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ticks)
		close(done)
	}()

	ticks <- epoch
	ticks <- epoch.Add(time.Millisecond)
	ticks <- epoch.Add(2 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, calls, 2)
}
