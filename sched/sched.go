// Package sched runs the periodic firmware tasks. Foreground tasks share one
// loop and run in priority order; best-effort tasks each get their own
// goroutine so a slow one cannot delay the foreground loop.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

// Task is one periodic job.
type Task struct {
	Name   string
	Period time.Duration
	// Priority orders foreground tasks due in the same step, lowest first.
	Priority int
	// Budget is the expected maximum run time; longer runs count as overruns.
	Budget time.Duration
	// BestEffort tasks run on their own goroutine.
	BestEffort bool
	Run        func(now time.Time)
}

// TaskStats counts what happened to one task.
type TaskStats struct {
	Runs     uint64
	Overruns uint64
	Skipped  uint64
	Panics   uint64
	Longest  time.Duration
}

type entry struct {
	task  Task
	next  time.Time
	stats TaskStats
}

// DefaultShutdownGrace is how long Run waits for in-flight best-effort runs
// after ctx is done.
const DefaultShutdownGrace = 250 * time.Millisecond

// Scheduler owns the task list.
type Scheduler struct {
	log   *slog.Logger
	now   func() time.Time
	grace time.Duration
	mu    sync.Mutex
	tasks []*entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithShutdownGrace sets how long Run waits for in-flight best-effort runs
// once ctx is done. Runs still going after that are abandoned.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// New returns an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{log: slog.Default(), now: time.Now, grace: DefaultShutdownGrace}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "sched")
	return s
}

// Add registers a task. Tasks added after Run started are not picked up.
func (s *Scheduler) Add(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q: no run function", t.Name)
	}
	if t.Period <= 0 {
		return fmt.Errorf("task %q: period must be positive", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.tasks {
		if e.task.Name == t.Name {
			return fmt.Errorf("task %q already registered", t.Name)
		}
	}
	s.tasks = append(s.tasks, &entry{task: t})
	slices.SortStableFunc(s.tasks, func(a, b *entry) int { return a.task.Priority - b.task.Priority })
	return nil
}

// Step runs every foreground task that is due at now, in priority order, and
// returns how many ran.
func (s *Scheduler) Step(now time.Time) int {
	s.mu.Lock()
	due := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		if e.task.BestEffort || now.Before(e.next) {
			continue
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runOnce(e, now)
		s.mu.Lock()
		e.next = nextDue(e.next, now, e.task.Period)
		s.mu.Unlock()
	}
	return len(due)
}

// nextDue keeps the task on its period grid and skips missed slots instead
// of running them back to back.
func nextDue(prev, now time.Time, period time.Duration) time.Time {
	if prev.IsZero() {
		return now.Add(period)
	}
	next := prev.Add(period)
	if !next.After(now) {
		missed := now.Sub(next)/period + 1
		next = next.Add(missed * period)
	}
	return next
}

func (s *Scheduler) runOnce(e *entry, now time.Time) {
	start := s.now()
	defer func() {
		elapsed := s.now().Sub(start)
		r := recover()
		s.mu.Lock()
		e.stats.Runs++
		if elapsed > e.stats.Longest {
			e.stats.Longest = elapsed
		}
		if e.task.Budget > 0 && elapsed > e.task.Budget {
			e.stats.Overruns++
		}
		if r != nil {
			e.stats.Panics++
		}
		s.mu.Unlock()
		if r != nil {
			s.log.Error("task panicked", "task", e.task.Name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	e.task.Run(now)
}

// Run drives the foreground loop at the shortest foreground period and
// starts every best-effort task on its own ticker. It returns when ctx is
// done and every best-effort run has finished or outlived the shutdown grace.
// An abandoned run keeps its goroutine until its Run function returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	var fg time.Duration
	var be []*entry
	for _, e := range s.tasks {
		if e.task.BestEffort {
			be = append(be, e)
			continue
		}
		if fg == 0 || e.task.Period < fg {
			fg = e.task.Period
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range be {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.runBestEffort(ctx, e)
		}(e)
	}

	if fg > 0 {
		ticker := time.NewTicker(fg)
		s.Step(s.now())
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				s.Step(s.now())
			}
		}
		ticker.Stop()
	} else {
		<-ctx.Done()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runBestEffort(ctx context.Context, e *entry) {
	ticker := time.NewTicker(e.task.Period)
	defer ticker.Stop()

	busy := make(chan struct{}, 1)
	var wg sync.WaitGroup
	defer s.drain(e, &wg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		select {
		case busy <- struct{}{}:
		default:
			// previous run still going
			s.mu.Lock()
			e.stats.Skipped++
			s.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-busy }()
			s.runOnce(e, s.now())
		}()
	}
}

// drain waits for the in-flight run of e for at most the shutdown grace.
func (s *Scheduler) drain(e *entry, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warn("abandoning best-effort run at shutdown", "task", e.task.Name, "grace", s.grace)
	}
}

// Stats returns a copy of the counters of every task.
func (s *Scheduler) Stats() map[string]TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStats, len(s.tasks))
	for _, e := range s.tasks {
		out[e.task.Name] = e.stats
	}
	return out
}
