package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule fires once a day at local midnight. The expression carries a seconds field.
const DefaultSchedule = "0 0 0 * * *"

// ErrRunInProgress reports a trigger dropped because a run is still active.
var ErrRunInProgress = errors.New("scoring: run already in progress")

// Runner performs one scoring pass.
type Runner interface {
	Run(ctx context.Context) (RunReport, error)
}

// SchedulerConfig describes the cron wiring around a Runner.
type SchedulerConfig struct {
	Runner   Runner
	Schedule string
	Logger   *zap.Logger
}

// Scheduler drives a Runner on a cron schedule and never lets two runs overlap.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	logger  *zap.Logger
	running atomic.Bool
}

// NewScheduler validates the schedule and registers the run; nothing fires until Start.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scoring: runner required")
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scheduler := &Scheduler{
		runner: cfg.Runner,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
	if _, err := scheduler.cron.AddFunc(schedule, scheduler.tick); err != nil {
		return nil, fmt.Errorf("scoring: invalid schedule %q: %w", schedule, err)
	}
	return scheduler, nil
}

// Trigger runs the scoring pass now unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context) (RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunReport{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.runner.Run(ctx)
}

// Running reports whether a pass is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start begins firing on the configured schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("friendship scoring scheduled", zap.Time("next_run", s.nextRun()))
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	// run failures are logged by the engine; the next tick starts over
	if _, err := s.Trigger(context.Background()); errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("friendship scoring tick dropped", zap.String("reason", "run_in_progress"))
	}
}

func (s *Scheduler) nextRun() (next time.Time) {
	for _, entry := range s.cron.Entries() {
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next
}
