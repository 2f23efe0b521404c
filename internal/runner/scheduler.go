package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"trading-scanner/internal/calendar"
)

// SkipOverlap is the skip reason for a trigger that fires during a run.
const SkipOverlap = "overlap"

// Job is one scheduled unit of work.
type Job interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler triggers a Job on a cron spec. Runs on non-trading days are
// skipped, and a trigger that fires while the previous run is still going
// is dropped.
type Scheduler struct {
	cron     *cron.Cron
	job      Job
	calendar *calendar.Calendar
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
}

// NewScheduler creates a scheduler for job. spec is a standard 5-field
// cron expression evaluated in the calendar's location.
func NewScheduler(spec string, job Job, cal *calendar.Calendar, metrics Recorder, logger *slog.Logger) (*Scheduler, error) {
	if cal == nil {
		cal = calendar.New(time.UTC, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(cal.Location())),
		job:      job,
		calendar: cal,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
		return nil, fmt.Errorf("register scan job %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler until ctx is cancelled, then waits for an
// in-flight run to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Time("next", s.Next()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Next returns the next scheduled trigger time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(s.now())
}

// trigger is the cron callback.
func (s *Scheduler) trigger() {
	s.wg.Add(1)
	defer s.wg.Done()
	s.runOnce(s.ctx)
}

// runOnce applies the trading-day and overlap guards and runs the job.
// It reports whether the job ran.
func (s *Scheduler) runOnce(ctx context.Context) bool {
	now := s.now()
	if reason := s.calendar.SkipReason(now); reason != "" {
		s.skip(reason)
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skip(SkipOverlap)
		return false
	}
	defer s.running.Store(false)

	if _, err := s.job.Run(ctx); err != nil {
		s.logger.Error("scheduled scan failed", slog.Any("error", err))
	}
	return true
}

func (s *Scheduler) skip(reason string) {
	if s.metrics != nil {
		s.metrics.RunSkipped(reason)
	}
	s.logger.Info("scheduled scan skipped", slog.String("reason", reason))
}
