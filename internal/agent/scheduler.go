package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// State is the scheduler's position in its loop.
type State int32

const (
	StateIdle State = iota
	StateTickRunning
	StateErrorBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTickRunning:
		return "tick_running"
	case StateErrorBackoff:
		return "error_backoff"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// TaskFunc is the body of one scheduled task.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	schedule cron.Schedule
	run      TaskFunc
	nextDue  time.Time
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Scheduler is a single-threaded cooperative loop. Each tick runs every due
// task to completion, in registration order, then sleeps a fixed interval.
type Scheduler struct {
	tasks   []*task
	tick    time.Duration
	backoff time.Duration
	now     func() time.Time
	sleep   Sleeper
	state   atomic.Int32
	log     zerolog.Logger
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper overrides the inter-tick wait.
func WithSleeper(sl Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sl }
}

// NewScheduler sleeps tick between iterations and backoff after a failed one.
func NewScheduler(tick, backoff time.Duration, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tick:    tick,
		backoff: backoff,
		now:     time.Now,
		sleep:   sleepContext,
		log:     log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers a task. Its first run happens on the first tick.
func (s *Scheduler) Add(name string, schedule cron.Schedule, run TaskFunc) {
	s.tasks = append(s.tasks, &task{name: name, schedule: schedule, run: run})
}

// Every registers a task with a fixed period.
func (s *Scheduler) Every(name string, period time.Duration, run TaskFunc) {
	s.Add(name, cron.Every(period), run)
}

// State returns the current loop state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// NextDue reports when the named task will next run; zero means immediately.
func (s *Scheduler) NextDue(name string) (time.Time, bool) {
	for _, t := range s.tasks {
		if t.name == name {
			return t.nextDue, true
		}
	}
	return time.Time{}, false
}

// RunOnce executes a one-shot task outside the loop. Its failure is logged
// and does not stop the caller.
func (s *Scheduler) RunOnce(ctx context.Context, name string, run TaskFunc) {
	if err := s.invoke(ctx, name, run); err != nil {
		s.log.Error().Err(err).Str("task", name).Msg("startup task failed")
	}
}

// Tick runs every task that is due. The first error aborts the remainder of
// the tick; the failing task is still rescheduled.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.state.Store(int32(StateTickRunning))
	for _, t := range s.tasks {
		now := s.now()
		if now.Before(t.nextDue) {
			continue
		}
		err := s.invoke(ctx, t.name, t.run)
		// cron.Every rounds to whole seconds, so nextDue may land up to 1s before now+period.
		t.nextDue = t.schedule.Next(now)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.name, err)
		}
	}
	return nil
}

// Run loops until ctx is cancelled. Task failures never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateStopped))
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := s.tick
		if err := s.Tick(ctx); err != nil {
			s.state.Store(int32(StateErrorBackoff))
			s.log.Error().Err(err).Dur("backoff", s.backoff).Msg("tick failed, backing off")
			wait = s.backoff
		} else {
			s.state.Store(int32(StateIdle))
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
		s.state.Store(int32(StateIdle))
	}
}

func (s *Scheduler) invoke(ctx context.Context, name string, run TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("task", name).Bytes("stack", debug.Stack()).Msg("task panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	start := s.now()
	err = run(ctx)
	s.log.Debug().Str("task", name).Dur("took", s.now().Sub(start)).Msg("task finished")
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
