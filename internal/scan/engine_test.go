package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-scanner/internal/indicator"
	"trading-scanner/internal/logger"
	"trading-scanner/internal/model"
)

var (
	day0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

// ────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────

func series(prices ...float64) *model.Series {
	obs := make([]model.Observation, len(prices))
	for i, p := range prices {
		obs[i] = model.PriceObservation(day0.AddDate(0, 0, i), p)
	}
	return model.NewSeries(obs)
}

func ohlcv(prices []float64) *model.Series {
	obs := make([]model.Observation, len(prices))
	for i, p := range prices {
		obs[i] = model.Observation{
			Date: day0.AddDate(0, 0, i), Open: p, High: p * 1.01, Low: p * 0.99, Close: p, Volume: 1000 + float64(i%7)*100,
		}
	}
	return model.NewSeries(obs)
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func randomWalk(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		p *= 1 + (rng.Float64()-0.5)*0.05
		out[i] = p
	}
	return out
}

// fakeIndicator scores raw(series) and records the columns it was given.
type fakeIndicator struct {
	id      string
	raw     func(s *model.Series) float64
	calcErr error
	panicIn string

	mu   sync.Mutex
	seen [][]string
}

func constant(v float64) func(*model.Series) float64 {
	return func(*model.Series) float64 { return v }
}

func lastClose(scale float64) func(*model.Series) float64 {
	return func(s *model.Series) float64 { return s.Last(model.ColClose) * scale }
}

func (f *fakeIndicator) ID() string                        { return f.id }
func (f *fakeIndicator) Name() string                      { return "fake " + f.id }
func (f *fakeIndicator) Description() string               { return "test double" }
func (f *fakeIndicator) RequiredColumns(c string) []string { return []string{c} }
func (f *fakeIndicator) Capabilities() []indicator.Capability {
	return nil
}

func (f *fakeIndicator) ParamSchema() indicator.ParamSchema {
	return indicator.ParamSchema{"window": {Type: indicator.ParamInt, Default: 3}}
}

func (f *fakeIndicator) Calculate(s *model.Series, column string, cfg indicator.Config) (*model.Series, error) {
	f.mu.Lock()
	f.seen = append(f.seen, s.Columns())
	f.mu.Unlock()
	if f.panicIn == "calculate" {
		panic("boom")
	}
	if f.calcErr != nil {
		return nil, f.calcErr
	}
	col := make([]float64, s.Len())
	for i := range col {
		col[i] = f.raw(s)
	}
	return s.With(f.id+"_value", col)
}

func (f *fakeIndicator) Snapshot(s *model.Series, column string, cfg indicator.Config) indicator.Snapshot {
	snap := indicator.Snapshot{}
	snap.Set(f.id+"_value", s.Last(f.id+"_value"))
	snap.Set("shared", s.Last(f.id+"_value"))
	return snap
}

func (f *fakeIndicator) Score(s *model.Series, column string, cfg indicator.Config) *indicator.Score {
	if f.panicIn == "score" {
		panic("boom")
	}
	raw := s.Last(f.id + "_value")
	if cfg.Weight <= 0 || model.IsMissing(raw) {
		return nil
	}
	return indicator.NewScore(raw, cfg.Weight, "fake", []string{fmt.Sprintf("raw = %v", raw)})
}

func (f *fakeIndicator) Explain(s *model.Series, column string, cfg indicator.Config) []string {
	if f.panicIn == "explain" {
		panic("boom")
	}
	return []string{f.id + " explained", fmt.Sprintf("window = %d", cfg.Int("window"))}
}

func (f *fakeIndicator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func newRegistry(inds ...indicator.Indicator) *indicator.Registry {
	r := indicator.NewRegistry(logger.Discard())
	for _, ind := range inds {
		r.Register(ind)
	}
	return r
}

func newEngine(r *indicator.Registry, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(logger.Discard()), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(r, opts...)
}

type recorder struct {
	mu       sync.Mutex
	scans    int
	skipped  map[string]int
	failed   map[string]int
	verdicts map[model.Recommendation]int
}

func newRecorder() *recorder {
	return &recorder{skipped: map[string]int{}, failed: map[string]int{}, verdicts: map[model.Recommendation]int{}}
}

func (r *recorder) ScanCompleted(time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans++
}

func (r *recorder) InstrumentSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[reason]++
}

func (r *recorder) IndicatorFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id]++
}

func (r *recorder) Recommended(rec model.Recommendation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts[rec]++
}

func detailIDs(res model.ScanResult) []string {
	ids := make([]string, len(res.Details))
	for i, d := range res.Details {
		ids[i] = d.ID
	}
	return ids
}

// ────────────────────────────────────────────────────────────
// Scenarios with built-in indicators
// ────────────────────────────────────────────────────────────

func TestScan_AscendingRSIBuys(t *testing.T) {
	engine := newEngine(indicator.NewDefaultRegistry(logger.Discard()))
	criteria := &Criteria{
		Column:        model.ColClose,
		Weights:       map[string]float64{"rsi": 2.0},
		Params:        map[string]map[string]any{"rsi": {"window": 14, "lower": 30, "upper": 70}},
		BuyThreshold:  1.0,
		SellThreshold: 1.0,
	}

	results, err := engine.Scan(map[string]*model.Series{"AAA": series(ramp(30, 100, 1)...)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "AAA", res.InstrumentID)
	assert.InDelta(t, 2.0, res.Score, 1e-9)
	assert.InDelta(t, 1.0, res.Components["rsi"].Raw, 1e-9)
	assert.InDelta(t, 2.0, res.Components["rsi"].Contribution, 1e-9)
	assert.Equal(t, model.RecommendBuy, res.Suggestion.Recommendation)
	assert.InDelta(t, 100.0, res.Snapshot[indicator.ColRSI], 1e-9)
	assert.Equal(t, 129.0, res.LastValue)
	assert.Equal(t, day0.AddDate(0, 0, 29), res.LastDate)
	assert.Equal(t, fixedNow, res.ScannedAt)
	assert.Contains(t, res.Suggestion.Reasons[len(res.Suggestion.Reasons)-1], "buy threshold")
}

func TestScan_EmptySeriesIsOmitted(t *testing.T) {
	rec := newRecorder()
	engine := newEngine(indicator.NewDefaultRegistry(logger.Discard()), WithMetrics(rec))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"rsi": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{
		"XYZ": series(),
		"NAV": series(ramp(30, 10, 0.1)...),
		"AAA": series(ramp(30, 100, 1)...),
	}, &Criteria{Column: model.ColNAV, Weights: criteria.Weights, BuyThreshold: 1, SellThreshold: 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "no series carries a nav column")

	results, err = engine.Scan(map[string]*model.Series{
		"XYZ": series(),
		"AAA": series(ramp(30, 100, 1)...),
	}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "AAA", results[0].InstrumentID)
	assert.Equal(t, 2, rec.skipped[SkipEmpty])
	assert.Equal(t, 2, rec.skipped[SkipMissingColumn])
}

func TestScan_MACDZeroPriceKeepsDetail(t *testing.T) {
	engine := newEngine(indicator.NewDefaultRegistry(logger.Discard()))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"macd": 1}, BuyThreshold: 1, SellThreshold: 1}
	prices := append(ramp(40, 100, 1), 0)

	results, err := engine.Scan(map[string]*model.Series{"ZERO": series(prices...)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.NotContains(t, res.Components, "macd")
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, model.RecommendHold, res.Suggestion.Recommendation)
	require.Equal(t, []string{"macd"}, detailIDs(res))
	calc := res.Details[0].Calculation
	assert.Contains(t, calc[len(calc)-1], "insufficient data")
}

func TestScan_CloseOnlySeriesKeepsRangeIndicators(t *testing.T) {
	rec := newRecorder()
	engine := newEngine(indicator.NewDefaultRegistry(logger.Discard()), WithMetrics(rec))
	criteria := &Criteria{
		Column:        model.ColClose,
		Weights:       map[string]float64{"rsi": 1, "adx": 1, "atr": 1},
		BuyThreshold:  0.5,
		SellThreshold: 0.5,
	}

	results, err := engine.Scan(map[string]*model.Series{"NAV": series(ramp(60, 10, 0.1)...)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, []string{"rsi", "adx", "atr"}, detailIDs(res))
	assert.Equal(t, []string{"rsi"}, sortedKeys(res.Components))
	assert.NotContains(t, res.Snapshot, indicator.ColATR)
	assert.NotContains(t, res.Snapshot, indicator.ColADX)
	for _, d := range res.Details[1:] {
		assert.Empty(t, d.Values, d.ID)
		require.NotEmpty(t, d.Calculation, d.ID)
		assert.Contains(t, d.Calculation[0], "insufficient data", d.ID)
	}
	assert.Contains(t, res.Suggestion.Reasons, "ATR(14): insufficient data")
	assert.Empty(t, rec.failed, "missing columns are not indicator failures")
	assert.Equal(t, model.RecommendBuy, res.Suggestion.Recommendation)
}

func TestScan_InsufficientDataIsNotAFailure(t *testing.T) {
	rec := newRecorder()
	engine := newEngine(newRegistry(
		&fakeIndicator{id: "short", calcErr: fmt.Errorf("need 50 rows: %w", indicator.ErrInsufficientData)},
		&fakeIndicator{id: "ok", raw: constant(0.25)},
	), WithMetrics(rec))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"short": 1, "ok": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, []string{"short", "ok"}, detailIDs(res))
	assert.Equal(t, []string{"short explained", "window = 3"}, res.Details[0].Calculation)
	assert.NotContains(t, res.Components, "short")
	assert.Equal(t, 0.25, res.Score)
	assert.Empty(t, rec.failed)
}

func TestScan_Deterministic(t *testing.T) {
	reg := indicator.NewDefaultRegistry(logger.Discard())
	frames := map[string]*model.Series{}
	for i := 0; i < 6; i++ {
		frames[fmt.Sprintf("INST%d", i)] = ohlcv(randomWalk(int64(i+1), 420))
	}
	criteria := &Criteria{
		Column: model.ColClose,
		Weights: map[string]float64{
			"rsi": 1, "macd": 1, "adx": 1, "atr": 1, "momentum": 1, "ema_regime": 1, "bollinger": 1, "sma_trend": 1,
		},
		BuyThreshold:  0.2,
		SellThreshold: 0.2,
	}

	first, err := newEngine(reg).Scan(frames, criteria, nil)
	require.NoError(t, err)
	second, err := newEngine(reg, WithWorkers(4)).Scan(frames, criteria, nil)
	require.NoError(t, err)
	require.Len(t, first, 6)
	assert.Equal(t, first, second)

	a, err := json.Marshal(model.Records(first))
	require.NoError(t, err)
	b, err := json.Marshal(model.Records(second))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Score, first[i].Score, "results must be ranked")
	}
	for _, res := range first {
		assert.Len(t, res.Details, 8, "every indicator computes on 420 rows")
	}
}

// ────────────────────────────────────────────────────────────
// Aggregation
// ────────────────────────────────────────────────────────────

func TestScan_RankingIsStable(t *testing.T) {
	engine := newEngine(newRegistry(&fakeIndicator{id: "level", raw: lastClose(0.01)}))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"level": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{
		"A": series(50),
		"B": series(150),
		"C": series(100),
		"D": series(150),
	}, criteria, nil)
	require.NoError(t, err)

	var order []string
	for _, r := range results {
		order = append(order, r.InstrumentID)
	}
	assert.Equal(t, []string{"B", "D", "C", "A"}, order)
}

func TestScan_NullScoresAreExcluded(t *testing.T) {
	engine := newEngine(newRegistry(
		&fakeIndicator{id: "missing", raw: constant(math.NaN())},
		&fakeIndicator{id: "half", raw: constant(0.5)},
	))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"missing": 3, "half": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, 0.5, res.Score)
	assert.NotContains(t, res.Components, "missing")
	assert.Equal(t, []string{"missing", "half"}, detailIDs(res))
	assert.Equal(t, []string{"missing explained", "window = 3"}, res.Details[0].Calculation)
}

func TestScan_ZeroWeightIsNotComputed(t *testing.T) {
	off := &fakeIndicator{id: "off", raw: constant(1)}
	on := &fakeIndicator{id: "on", raw: constant(0.25)}
	engine := newEngine(newRegistry(off, on))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"off": 0, "on": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	assert.Zero(t, off.calls())
	assert.Equal(t, 1, on.calls())
	assert.NotContains(t, results[0].Components, "off")
	assert.Equal(t, []string{"on"}, detailIDs(results[0]))
}

func TestScan_SeriesAccumulatesInRegistryOrder(t *testing.T) {
	first := &fakeIndicator{id: "first", raw: constant(0.1)}
	second := &fakeIndicator{id: "second", raw: constant(0.2)}
	engine := newEngine(newRegistry(first, second))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"second": 1, "first": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{model.ColClose}, first.seen[0])
	assert.Equal(t, []string{model.ColClose, "first_value"}, second.seen[0])

	// later snapshots overwrite earlier ones on key collision
	assert.Equal(t, 0.2, results[0].Snapshot["shared"])
	assert.Equal(t, 0.1, results[0].Details[0].Values["shared"])
}

func TestScan_ParameterLayers(t *testing.T) {
	engine := newEngine(newRegistry(&fakeIndicator{id: "f", raw: constant(0)}))
	criteria := &Criteria{
		Column:  model.ColClose,
		Weights: map[string]float64{"f": 1},
		Params:  map[string]map[string]any{"f": {"window": 5}},
	}
	frames := map[string]*model.Series{"A": series(1, 2, 3)}

	results, err := engine.Scan(frames, criteria, nil)
	require.NoError(t, err)
	assert.Contains(t, results[0].Suggestion.Reasons, "window = 5")

	results, err = engine.Scan(frames, criteria, map[string]map[string]any{"f": {"window": 9}})
	require.NoError(t, err)
	assert.Contains(t, results[0].Suggestion.Reasons, "window = 9")
}

func TestScan_FailingIndicatorsContributeNothing(t *testing.T) {
	rec := newRecorder()
	engine := newEngine(newRegistry(
		&fakeIndicator{id: "err", calcErr: errors.New("bad input")},
		&fakeIndicator{id: "calc_panic", panicIn: "calculate"},
		&fakeIndicator{id: "score_panic", raw: constant(5), panicIn: "score"},
		&fakeIndicator{id: "explain_panic", raw: constant(5), panicIn: "explain"},
		&fakeIndicator{id: "ok", raw: constant(0.75)},
	), WithMetrics(rec))
	criteria := &Criteria{
		Column:        model.ColClose,
		Weights:       map[string]float64{"err": 1, "calc_panic": 1, "score_panic": 1, "explain_panic": 1, "ok": 1},
		BuyThreshold:  1,
		SellThreshold: 1,
	}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, 0.75, res.Score)
	assert.Equal(t, []string{"ok"}, detailIDs(res))
	assert.Len(t, res.Components, 1)
	assert.NotContains(t, res.Snapshot, "score_panic_value", "failed indicators leave no snapshot")
	assert.Equal(t, map[string]int{"err": 1, "calc_panic": 1, "score_panic": 1, "explain_panic": 1}, rec.failed)
	assert.Equal(t, 1, rec.scans)
	assert.Equal(t, 1, rec.verdicts[model.RecommendHold])
}

func TestScan_UnknownIndicatorIsSkipped(t *testing.T) {
	engine := newEngine(newRegistry(&fakeIndicator{id: "known", raw: constant(1)}))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"known": 1, "ghost": 5}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, model.RecommendBuy, results[0].Suggestion.Recommendation)
}

func TestScan_NoActiveIndicatorsHolds(t *testing.T) {
	engine := newEngine(newRegistry(&fakeIndicator{id: "f", raw: constant(1)}))
	criteria := &Criteria{Column: model.ColClose}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2, 3)}, criteria, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Score)
	assert.Equal(t, model.RecommendHold, results[0].Suggestion.Recommendation)
	assert.Empty(t, results[0].Details)
	assert.Equal(t, []string{"No active indicators: hold"}, results[0].Suggestion.Reasons)
}

func TestScan_ThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want model.Recommendation
	}{
		{"at buy threshold", 1.5, model.RecommendBuy},
		{"just below buy", 1.4999, model.RecommendHold},
		{"at sell threshold", -0.5, model.RecommendSell},
		{"just above sell", -0.4999, model.RecommendHold},
		{"zero", 0, model.RecommendHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(newRegistry(&fakeIndicator{id: "f", raw: constant(tt.raw)}))
			criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"f": 1}, BuyThreshold: 1.5, SellThreshold: 0.5}
			results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2)}, criteria, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, results[0].Suggestion.Recommendation)
		})
	}
}

func TestScan_ReasonsLayout(t *testing.T) {
	engine := newEngine(newRegistry(
		&fakeIndicator{id: "a", raw: constant(0.1)},
		&fakeIndicator{id: "b", raw: constant(0.1)},
	))
	criteria := &Criteria{Column: model.ColClose, Weights: map[string]float64{"a": 1, "b": 1}, BuyThreshold: 1, SellThreshold: 1}

	results, err := engine.Scan(map[string]*model.Series{"A": series(1, 2)}, criteria, nil)
	require.NoError(t, err)
	reasons := results[0].Suggestion.Reasons
	require.Len(t, reasons, 7)
	assert.Equal(t, []string{"a explained", "window = 3", "", "b explained", "window = 3", ""}, reasons[:6])
	assert.Contains(t, reasons[6], "hold")
}

// ────────────────────────────────────────────────────────────
// Call-level errors
// ────────────────────────────────────────────────────────────

func TestScan_InvalidCriteria(t *testing.T) {
	engine := newEngine(newRegistry())
	frames := map[string]*model.Series{"A": series(1)}

	_, err := engine.Scan(frames, nil, nil)
	assert.ErrorIs(t, err, ErrNilCriteria)

	_, err = engine.Scan(frames, &Criteria{Column: model.ColClose, BuyThreshold: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, err = engine.Scan(frames, &Criteria{BuyThreshold: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, err = engine.Scan(frames, &Criteria{Column: model.ColClose, Weights: map[string]float64{"x": math.Inf(1)}}, nil)
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestScan_NoFrames(t *testing.T) {
	results, err := newEngine(newRegistry()).Scan(nil, &Criteria{Column: model.ColClose}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
