// Package runner orchestrates one scan run: select instruments, load their
// series, consult the result cache, run the engine, persist the run and send
// signal alerts. Scheduler repeats runs on a cron schedule.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"trading-scanner/internal/logger"
	"trading-scanner/internal/model"
	"trading-scanner/internal/notification"
	"trading-scanner/internal/scan"
	redisstore "trading-scanner/internal/store/redis"
)

// ErrNoReader is returned by New without a series reader.
var ErrNoReader = errors.New("runner: series reader is required")

// Cache lookup outcomes reported to the Recorder.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheError    = "error"
	CacheDisabled = "disabled"
)

// Recorder receives runner metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	CacheResult(result string)
	HistoryWritten(d time.Duration)
	RunFinished(t time.Time)
	RunSkipped(reason string)
}

// HealthReporter receives the outcome of each run. *metrics.HealthStatus
// satisfies it.
type HealthReporter interface {
	SetLastRun(at time.Time, results int, err error)
}

// Options selects what a run scans.
type Options struct {
	Analysis      string   // "fund" or "stock"; also the instrument asset class
	Instruments   []string // explicit ids; empty: every instrument of Analysis
	Include       []string
	Exclude       []string
	CaseSensitive bool
	LookbackDays  int
	MinThreshold  float64
	AlertMinScore float64
	Overrides     map[string]map[string]any
}

// Deps are the collaborators of a Service. Reader and Engine are required;
// the rest are optional.
type Deps struct {
	Reader  model.SeriesReader
	Engine  *scan.Engine
	History model.HistoryWriter
	Cache   model.ResultCache
	Alerts  *notification.Dispatcher
	Metrics Recorder
	Health  HealthReporter
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Report summarizes one run.
type Report struct {
	RunID       string
	CacheKey    string
	CacheHit    bool
	Instruments int
	Records     []model.ResultRecord
	Alerts      int
}

// Service runs scans with fixed criteria and options.
type Service struct {
	deps     Deps
	criteria *scan.Criteria
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service. Criteria are validated once here.
func New(deps Deps, criteria *scan.Criteria, opts Options) (*Service, error) {
	if deps.Reader == nil {
		return nil, ErrNoReader
	}
	if deps.Engine == nil {
		return nil, errors.New("runner: engine is required")
	}
	if criteria == nil {
		return nil, scan.ErrNilCriteria
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	s := &Service{deps: deps, criteria: criteria, opts: opts, logger: deps.Logger, now: deps.Clock}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run executes one scan run.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	ctx = logger.WithRunID(ctx, logger.NewRunID())
	log := s.logger.With(logger.LogWithRun(ctx)...)
	started := s.now()

	report, err := s.run(ctx, log, started)
	finished := s.now()
	if s.deps.Health != nil {
		n := 0
		if report != nil {
			n = len(report.Records)
		}
		s.deps.Health.SetLastRun(finished, n, err)
	}
	if err != nil {
		log.Error("scan run failed", slog.Any("error", err))
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunFinished(finished)
	}
	log.Info("scan run finished",
		slog.String("analysis", s.opts.Analysis),
		slog.Int("instruments", report.Instruments),
		slog.Int("results", len(report.Records)),
		slog.Bool("cache_hit", report.CacheHit),
		slog.Int("alerts", report.Alerts),
		slog.Duration("took", finished.Sub(started)),
	)
	return report, nil
}

func (s *Service) run(ctx context.Context, log *slog.Logger, started time.Time) (*Report, error) {
	ids, err := s.selectInstruments(ctx)
	if err != nil {
		return nil, err
	}
	criteria := s.criteria.WithMinThreshold(s.opts.MinThreshold)
	resolved := criteria.WithOverrides(s.opts.Overrides)
	canonical, err := resolved.Canonical()
	if err != nil {
		return nil, fmt.Errorf("encode criteria: %w", err)
	}

	end := dayStart(started)
	start := end.AddDate(0, 0, -s.opts.LookbackDays)
	report := &Report{
		RunID:       logger.RunID(ctx),
		Instruments: len(ids),
		CacheKey: redisstore.Key(redisstore.KeyParams{
			Analysis:      s.opts.Analysis,
			IDs:           ids,
			Start:         start,
			End:           end,
			Column:        criteria.Column,
			Criteria:      canonical,
			Include:       s.opts.Include,
			Exclude:       s.opts.Exclude,
			CaseSensitive: s.opts.CaseSensitive,
		}),
	}

	report.Records, report.CacheHit = s.cached(ctx, log, report.CacheKey)
	if !report.CacheHit {
		frames, err := s.deps.Reader.ReadSeries(ctx, ids, start, end)
		if err != nil {
			return nil, fmt.Errorf("read series: %w", err)
		}
		results, err := s.deps.Engine.Scan(frames, &criteria, s.opts.Overrides)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		report.Records = model.Records(results)
		if s.deps.Cache != nil {
			if err := s.deps.Cache.Set(ctx, report.CacheKey, report.Records); err != nil {
				log.Warn("cache store failed", slog.Any("error", err))
			}
		}
	}

	if s.deps.History != nil {
		t0 := time.Now()
		id, err := s.deps.History.SaveRun(ctx, model.ScanRun{
			ID:          report.RunID,
			Analysis:    s.opts.Analysis,
			Criteria:    canonical,
			CacheKey:    report.CacheKey,
			Instruments: len(ids),
			StartedAt:   started,
			FinishedAt:  s.now(),
		}, report.Records)
		if s.deps.Metrics != nil {
			s.deps.Metrics.HistoryWritten(time.Since(t0))
		}
		if err != nil {
			log.Warn("history write failed", slog.Any("error", err))
		} else {
			report.RunID = id
		}
	}

	if s.deps.Alerts != nil {
		alerts := notification.SignalAlerts(report.Records, s.opts.AlertMinScore)
		if failed := s.deps.Alerts.Notify(ctx, alerts); failed > 0 {
			log.Warn("some alerts were not delivered", slog.Int("failed", failed))
		}
		report.Alerts = len(alerts)
	}
	return report, nil
}

// cached returns the cached records for key, if any. Cache errors are
// logged and treated as a miss.
func (s *Service) cached(ctx context.Context, log *slog.Logger, key string) ([]model.ResultRecord, bool) {
	if s.deps.Cache == nil {
		s.cacheResult(CacheDisabled)
		return nil, false
	}
	records, ok, err := s.deps.Cache.Get(ctx, key)
	switch {
	case err != nil:
		s.cacheResult(CacheError)
		log.Warn("cache lookup failed", slog.Any("error", err))
		return nil, false
	case !ok:
		s.cacheResult(CacheMiss)
		return nil, false
	default:
		s.cacheResult(CacheHit)
		log.Debug("cache hit", slog.String("key", key))
		return records, true
	}
}

func (s *Service) cacheResult(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.CacheResult(result)
	}
}

// selectInstruments returns the sorted ids to scan: the explicit list, or
// every instrument of the analysis class, narrowed by the keyword filters.
func (s *Service) selectInstruments(ctx context.Context) ([]string, error) {
	known, err := s.deps.Reader.ListInstruments(ctx, s.opts.Analysis)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	candidates := known
	if len(s.opts.Instruments) > 0 {
		byID := make(map[string]model.Instrument, len(known))
		for _, in := range known {
			byID[in.ID] = in
		}
		candidates = make([]model.Instrument, 0, len(s.opts.Instruments))
		for _, id := range s.opts.Instruments {
			in, ok := byID[id]
			if !ok {
				in = model.Instrument{ID: id, AssetClass: s.opts.Analysis}
			}
			candidates = append(candidates, in)
		}
	}

	selected := FilterInstruments(candidates, s.opts.Include, s.opts.Exclude, s.opts.CaseSensitive)
	seen := make(map[string]bool, len(selected))
	ids := make([]string, 0, len(selected))
	for _, in := range selected {
		if !seen[in.ID] {
			seen[in.ID] = true
			ids = append(ids, in.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
