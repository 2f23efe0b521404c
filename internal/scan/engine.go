// Package scan turns per-instrument price series into ranked buy/sell/hold
// results by running the weighted indicators of a registry over each series.
package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"trading-scanner/internal/indicator"
	"trading-scanner/internal/model"
)

// ErrIndicatorPanic wraps a panic recovered from indicator code.
var ErrIndicatorPanic = errors.New("indicator panicked")

// Skip reasons reported to the Recorder.
const (
	SkipEmpty         = "empty"
	SkipMissingColumn = "missing_column"
)

// Recorder receives scan metrics. internal/metrics provides the Prometheus
// implementation.
type Recorder interface {
	ScanCompleted(d time.Duration, instruments int)
	InstrumentSkipped(reason string)
	IndicatorFailed(id string)
	Recommended(r model.Recommendation)
}

type nopRecorder struct{}

func (nopRecorder) ScanCompleted(time.Duration, int) {}
func (nopRecorder) InstrumentSkipped(string)         {}
func (nopRecorder) IndicatorFailed(string)           {}
func (nopRecorder) Recommended(model.Recommendation) {}

// Engine scans instruments with the indicators of a registry. It holds no
// per-scan state and is safe for concurrent use.
type Engine struct {
	registry *indicator.Registry
	logger   *slog.Logger
	metrics  Recorder
	workers  int
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithWorkers scans up to n instruments concurrently. n <= 1 scans sequentially.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithClock sets the clock used to stamp ScannedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over registry.
func NewEngine(registry *indicator.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		logger:   slog.Default(),
		metrics:  nopRecorder{},
		workers:  1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// activeIndicator is an indicator with its resolved configuration for one scan.
type activeIndicator struct {
	ind indicator.Indicator
	cfg indicator.Config
}

// Scan scores every instrument in frames and returns the results sorted by
// score, highest first; ties keep instrument id order. Instruments with an
// empty series or without criteria.Column are left out. Indicator failures
// are logged and only remove that indicator's contribution.
//
// overrides holds per-indicator parameters applied on top of criteria.Params.
// Only a nil or invalid criteria makes Scan fail.
func (e *Engine) Scan(frames map[string]*model.Series, criteria *Criteria, overrides map[string]map[string]any) ([]model.ScanResult, error) {
	if criteria == nil {
		return nil, ErrNilCriteria
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	scannedAt := e.now()
	active := e.activeIndicators(criteria, overrides)

	ids := sortedKeys(frames)
	slots := make([]*model.ScanResult, len(ids))
	if e.workers <= 1 || len(ids) < 2 {
		for i, id := range ids {
			slots[i] = e.scanInstrument(id, frames[id], criteria, active, scannedAt)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.workers)
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				slots[i] = e.scanInstrument(id, frames[id], criteria, active, scannedAt)
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	}

	results := make([]model.ScanResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	for i := range results {
		e.metrics.Recommended(results[i].Suggestion.Recommendation)
	}
	e.metrics.ScanCompleted(time.Since(start), len(results))
	e.logger.Info("scan completed",
		slog.Int("instruments", len(frames)),
		slog.Int("results", len(results)),
		slog.Int("indicators", len(active)),
		slog.Duration("took", time.Since(start)),
	)
	return results, nil
}

// activeIndicators resolves the weighted indicators in registry order.
func (e *Engine) activeIndicators(criteria *Criteria, overrides map[string]map[string]any) []activeIndicator {
	for _, id := range criteria.WeightedIDs() {
		if _, ok := e.registry.Get(id); !ok {
			e.logger.Warn("unknown indicator in criteria, skipping", slog.String("indicator", id))
		}
	}

	var active []activeIndicator
	for _, id := range e.registry.IDs() {
		w := criteria.Weight(id)
		if w <= 0 {
			continue
		}
		ind, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		cfg, err := indicator.BuildConfig(ind, w, criteria.Params[id], overrides[id])
		if err != nil {
			e.logger.Warn("invalid indicator parameters, using defaults",
				slog.String("indicator", id), slog.Any("error", err))
		}
		active = append(active, activeIndicator{ind: ind, cfg: cfg})
	}
	return active
}

// evaluation is what one indicator produced for one instrument.
type evaluation struct {
	series   *model.Series
	snapshot indicator.Snapshot
	score    *indicator.Score
	explain  []string
}

// evaluate runs one indicator, converting panics into errors.
func evaluate(a activeIndicator, s *model.Series, column string) (ev evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrIndicatorPanic, r)
		}
	}()

	enriched, err := a.ind.Calculate(s, column, a.cfg)
	if err != nil {
		return ev, fmt.Errorf("calculate: %w", err)
	}
	if enriched == nil || enriched.Len() != s.Len() {
		return ev, fmt.Errorf("calculate: %w", model.ErrLengthMismatch)
	}
	return evaluation{
		series:   enriched,
		snapshot: a.ind.Snapshot(enriched, column, a.cfg),
		score:    a.ind.Score(enriched, column, a.cfg),
		explain:  a.ind.Explain(enriched, column, a.cfg),
	}, nil
}

// insufficient reports whether err means the input cannot support the
// indicator, as opposed to a failure of the indicator itself.
func insufficient(err error) bool {
	return errors.Is(err, indicator.ErrMissingColumn) || errors.Is(err, indicator.ErrInsufficientData)
}

// explainOnly evaluates an indicator that could not calculate: the series is
// unchanged, there is no score and Explain reports the missing data.
func explainOnly(a activeIndicator, s *model.Series, column string) (ev evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrIndicatorPanic, r)
		}
	}()
	return evaluation{
		series:  s,
		explain: a.ind.Explain(s, column, a.cfg),
	}, nil
}

// scanInstrument scores one instrument, or returns nil when it is skipped.
func (e *Engine) scanInstrument(id string, s *model.Series, criteria *Criteria, active []activeIndicator, scannedAt time.Time) *model.ScanResult {
	column := criteria.Column
	switch {
	case s.Empty():
		e.logger.Info("skipping instrument with empty series", slog.String("instrument", id))
		e.metrics.InstrumentSkipped(SkipEmpty)
		return nil
	case !s.Has(column):
		e.logger.Info("skipping instrument without analysis column",
			slog.String("instrument", id), slog.String("column", column))
		e.metrics.InstrumentSkipped(SkipMissingColumn)
		return nil
	}

	var (
		working    = s
		total      float64
		snapshot   = make(map[string]float64)
		components = make(map[string]model.ComponentScore)
		details    = make([]model.IndicatorDetail, 0, len(active))
		reasons    []string
	)
	for _, a := range active {
		indID := a.ind.ID()
		ev, err := evaluate(a, working, column)
		if err != nil && insufficient(err) {
			e.logger.Debug("indicator has insufficient data",
				slog.String("instrument", id), slog.String("indicator", indID), slog.Any("error", err))
			ev, err = explainOnly(a, working, column)
		}
		if err != nil {
			e.logger.Warn("indicator failed",
				slog.String("instrument", id), slog.String("indicator", indID), slog.Any("error", err))
			e.metrics.IndicatorFailed(indID)
			continue
		}
		working = ev.series

		values := make(map[string]float64, len(ev.snapshot))
		for k, v := range ev.snapshot {
			snapshot[k] = v
			values[k] = v
		}
		calc := ev.explain
		if ev.score != nil {
			total += ev.score.Contribution
			components[indID] = model.ComponentScore{
				Raw:          ev.score.Raw,
				Weight:       ev.score.Weight,
				Contribution: ev.score.Contribution,
			}
			calc = ev.score.Details
		}
		details = append(details, model.IndicatorDetail{
			ID:          indID,
			Name:        a.ind.Name(),
			Values:      values,
			Calculation: append([]string(nil), calc...),
		})

		if len(reasons) > 0 {
			reasons = append(reasons, "")
		}
		reasons = append(reasons, ev.explain...)
	}

	rec, summary := model.RecommendHold, "No active indicators: hold"
	if len(active) > 0 {
		rec, summary = Recommend(total, criteria)
	}
	if len(reasons) > 0 {
		reasons = append(reasons, "")
	}
	reasons = append(reasons, summary)

	return &model.ScanResult{
		InstrumentID: id,
		LastDate:     s.LastDate(),
		LastValue:    s.Last(column),
		Suggestion:   model.Suggestion{Recommendation: rec, Reasons: reasons},
		Score:        total,
		Snapshot:     snapshot,
		Components:   components,
		Details:      details,
		ScannedAt:    scannedAt,
	}
}
