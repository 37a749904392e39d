// Package scheduler runs background maintenance for a battlewire node:
// health checks, journal retention, log pruning and stale peer cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Task is one periodic job.
type Task struct {
	Name string

	// Interval runs the task on a ticker. Ignored when Daily is set.
	Interval time.Duration

	// Daily runs the task once a day at this local "HH:MM".
	Daily string

	// RunOnStart runs the task once before the first tick.
	RunOnStart bool

	Fn func(ctx context.Context)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []Task
	logger zerolog.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		logger: log.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a task. It must be called before Start.
func (s *Scheduler) Add(t Task) error {
	if t.Fn == nil {
		return fmt.Errorf("task %s has no function", t.Name)
	}
	if t.Daily != "" {
		if _, _, err := ParseClock(t.Daily); err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
	} else if t.Interval <= 0 {
		return fmt.Errorf("task %s needs an interval or a daily time", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return nil
}

// Start runs every task on its own goroutine and blocks until ctx is
// cancelled and the tasks have returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	s.logger.Info().Int("tasks", len(tasks)).Msg("scheduler started")

	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if t.Daily != "" {
				s.runDaily(ctx, t)
			} else {
				s.runEvery(ctx, t)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) runEvery(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	if t.RunOnStart {
		s.run(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, t)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, t Task) {
	hour, minute, _ := ParseClock(t.Daily)

	if t.RunOnStart {
		s.run(ctx, t)
	}

	for {
		next := NextDaily(time.Now(), hour, minute)
		s.logger.Debug().
			Str("task", t.Name).
			Time("next_run", next).
			Msg("task scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.run(ctx, t)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("task", t.Name).Interface("panic", r).Msg("task panicked")
		}
	}()

	start := time.Now()
	t.Fn(ctx)
	s.logger.Trace().Str("task", t.Name).Dur("took", time.Since(start)).Msg("task ran")
}

// ParseClock parses a "HH:MM" time of day.
func ParseClock(clock string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", clock, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q", clock)
	}
	return hour, minute, nil
}

// NextDaily returns the first hour:minute strictly after now.
func NextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
