// Package scheduler runs the broker's background ticks: stale-claim
// recovery, webhook delivery and reclamation, and cleanup sweeps. It
// generalizes the teacher's ticker-driven Start/Stop job runner to Brokkr's
// several independent cadences, each with its own configured interval. A
// Task's Interval is fixed when Start runs; a config reload does not change
// it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is one named background unit of work. Errors are logged, never
// fatal to the scheduler: a single bad tick must not take down every other
// cadence sharing the process.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of interval Tasks plus an optional cron
// expression for the daily cleanup sweep, matching the teacher's
// jobs/scheduler.go shape (ticker loop + Start/Stop) but fanned out across
// several independent goroutines instead of one.
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task
	cronID cron.EntryID
	cron   *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Scheduler over tasks. cronSpec, when non-empty, schedules
// dailyCleanup on that cron expression using cron/v3's standard 5-field
// parser; pass "" to skip the cron-driven sweep entirely.
func New(logger *zap.Logger, tasks []Task, cronSpec string, dailyCleanup func(ctx context.Context) error) (*Scheduler, error) {
	s := &Scheduler{logger: logger, tasks: tasks}

	if cronSpec != "" && dailyCleanup != nil {
		s.cron = cron.New()
		id, err := s.cron.AddFunc(cronSpec, func() {
			if err := dailyCleanup(context.Background()); err != nil {
				s.logger.Warn("daily cleanup sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			return nil, err
		}
		s.cronID = id
	}

	return s, nil
}

// Start launches every task's own ticker loop plus the cron runner, if
// configured. Safe to call once; a second call is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runTask(runCtx, t)
	}

	if s.cron != nil {
		s.cron.Start()
	}

	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)), zap.Bool("cron_enabled", s.cron != nil))
}

func (s *Scheduler) runTask(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil {
				s.logger.Warn("scheduled task failed", zap.String("task", t.Name), zap.Error(err))
			}
		}
	}
}

// Stop cancels every task loop and the cron runner, blocking until all
// task goroutines have returned (part of the graceful-shutdown sequence,
// spec §5: "stop accepting, drain in-flight, flush, close").
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if s.cron != nil {
		c := s.cron.Stop()
		<-c.Done()
	}
}
