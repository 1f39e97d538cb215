package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomars/usage-agent-windows/internal/logging"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2023, 10, 28, 14, 0, 0, 0, time.UTC)}
}

// loopSleeper advances the fake clock by each requested wait and cancels the
// run after limit sleeps.
func loopSleeper(clock *fakeClock, cancel context.CancelFunc, limit int, waits *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		clock.t = clock.t.Add(d)
		if len(*waits) >= limit {
			cancel()
			return ctx.Err()
		}
		return nil
	}
}

func TestTickFiresEveryTaskFirstTime(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(30*time.Second, time.Minute, logging.Nop(), WithClock(clock.Now))

	var order []string
	s.Every("sample", 30*time.Second, func(context.Context) error { order = append(order, "sample"); return nil })
	s.Every("ping", 60*time.Second, func(context.Context) error { order = append(order, "ping"); return nil })

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"sample", "ping"}, order)

	due, ok := s.NextDue("ping")
	require.True(t, ok)
	assert.Equal(t, clock.t.Add(time.Minute), due)
}

func TestTickRespectsIndependentPeriods(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	s := NewScheduler(30*time.Second, time.Minute, logging.Nop(),
		WithClock(clock.Now), WithSleeper(loopSleeper(clock, cancel, 4, &waits)))

	counts := map[string]int{}
	s.Every("sample", 30*time.Second, func(context.Context) error { counts["sample"]++; return nil })
	s.Every("ping", 60*time.Second, func(context.Context) error { counts["ping"]++; return nil })

	require.NoError(t, s.Run(ctx))

	// ticks at t=0, 30, 60, 90
	assert.Equal(t, 4, counts["sample"])
	assert.Equal(t, 2, counts["ping"])
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}, waits)
	assert.Equal(t, StateStopped, s.State())
}

func TestTickErrorAbortsRemainingTasks(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(30*time.Second, time.Minute, logging.Nop(), WithClock(clock.Now))

	boom := errors.New("boom")
	ran := false
	s.Every("first", 30*time.Second, func(context.Context) error { return boom })
	s.Every("second", 30*time.Second, func(context.Context) error { ran = true; return nil })

	err := s.Tick(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	due, _ := s.NextDue("first")
	assert.Equal(t, clock.t.Add(30*time.Second), due, "failed task is still rescheduled")
	due, _ = s.NextDue("second")
	assert.True(t, due.IsZero(), "skipped task stays due")
}

func TestRunBacksOffAfterFailureAndRecovers(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		waits  []time.Duration
		states []State
		calls  int
	)
	s := NewScheduler(30*time.Second, 60*time.Second, logging.Nop(), WithClock(clock.Now))
	s.sleep = func(ctx context.Context, d time.Duration) error {
		states = append(states, s.State())
		return loopSleeper(clock, cancel, 3, &waits)(ctx, d)
	}
	s.Every("flaky", 30*time.Second, func(context.Context) error {
		calls++
		if calls == 1 {
			panic("provider exploded")
		}
		return nil
	})

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []time.Duration{60 * time.Second, 30 * time.Second, 30 * time.Second}, waits)
	assert.Equal(t, []State{StateErrorBackoff, StateIdle, StateIdle}, states)
	assert.Equal(t, 3, calls)
}

func TestRunOnceSwallowsFailure(t *testing.T) {
	s := NewScheduler(time.Second, time.Second, logging.Nop())
	called := false
	assert.NotPanics(t, func() {
		s.RunOnce(context.Background(), "retention", func(context.Context) error {
			called = true
			panic("disk gone")
		})
	})
	assert.True(t, called)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(time.Second, time.Second, logging.Nop())
	ran := false
	s.Every("sample", time.Second, func(context.Context) error { ran = true; return nil })

	assert.NoError(t, s.Run(ctx))
	assert.False(t, ran)
	assert.Equal(t, StateStopped, s.State())
}

func TestCronScheduleTask(t *testing.T) {
	clock := newFakeClock()
	sched, err := cron.ParseStandard("@every 6h")
	require.NoError(t, err)

	s := NewScheduler(30*time.Second, time.Minute, logging.Nop(), WithClock(clock.Now))
	runs := 0
	s.Add("external", sched, func(context.Context) error { runs++; return nil })

	require.NoError(t, s.Tick(context.Background()))
	clock.t = clock.t.Add(5 * time.Hour)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 1, runs)

	clock.t = clock.t.Add(time.Hour)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 2, runs)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestNextDueRoundsToWholeSeconds(t *testing.T) {
	clock := newFakeClock()
	clock.t = clock.t.Add(400 * time.Millisecond)
	s := NewScheduler(30*time.Second, time.Minute, logging.Nop(), WithClock(clock.Now))
	s.Every("ping", time.Minute, func(context.Context) error { return nil })

	require.NoError(t, s.Tick(context.Background()))

	due, ok := s.NextDue("ping")
	require.True(t, ok)
	assert.Equal(t, clock.t.Add(time.Minute).Truncate(time.Second), due)
	assert.Less(t, clock.t.Add(time.Minute).Sub(due), time.Second)
}
