// Package schedule runs the daily ingest and annotate jobs on cron specs
// with a seconds field.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clusterscan/internal/logger"
	"clusterscan/internal/market"
)

// Task is a named job run by the scheduler
type Task func(ctx context.Context) error

// Scheduler manages all cron tasks
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
	ctx  context.Context
	now  func() time.Time

	mu    sync.Mutex
	tasks map[string]Task
}

// New creates a scheduler evaluating specs in loc. Jobs receive ctx.
func New(ctx context.Context, loc *time.Location, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:   log,
		ctx:   ctx,
		now:   time.Now,
		tasks: make(map[string]Task),
	}
}

// Register adds task under name. Runs that land on a non-trading day are
// skipped.
func (s *Scheduler) Register(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, task, true) }); err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.tasks[name] = task
	return nil
}

// RunNow executes a registered task immediately, ignoring the calendar
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return s.run(name, task, false)
}

func (s *Scheduler) run(name string, task Task, calendar bool) error {
	if calendar && !market.IsTradingDay(s.now()) {
		s.log.Info("skipping task on non-trading day", logger.String("task", name))
		return nil
	}

	start := time.Now()
	s.log.Info("running task", logger.String("task", name))
	if err := task(s.ctx); err != nil {
		s.log.Error("task failed", logger.String("task", name), logger.Error(err))
		return err
	}
	s.log.Info("task done", logger.String("task", name), logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Next returns the next scheduled run of every registered task
func (s *Scheduler) Next() []time.Time {
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("tasks", len(s.tasks)))
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
