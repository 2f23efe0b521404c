package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-scanner/internal/calendar"
	"trading-scanner/internal/indicator"
	"trading-scanner/internal/logger"
	"trading-scanner/internal/model"
	"trading-scanner/internal/notification"
	"trading-scanner/internal/scan"
)

var (
	day0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedNow = time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC) // Friday
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

type readCall struct {
	ids        []string
	start, end time.Time
}

type fakeReader struct {
	instruments []model.Instrument
	frames      map[string]*model.Series
	err         error

	mu    sync.Mutex
	calls []readCall
}

func (r *fakeReader) ListInstruments(_ context.Context, class string) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, in := range r.instruments {
		if class == "" || in.AssetClass == class {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *fakeReader) ReadSeries(_ context.Context, ids []string, start, end time.Time) (map[string]*model.Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, readCall{ids: append(make([]string, 0, len(ids)), ids...), start: start, end: end})
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]*model.Series, len(ids))
	for _, id := range ids {
		if s, ok := r.frames[id]; ok {
			out[id] = s
		} else {
			out[id] = model.NewSeries(nil)
		}
	}
	return out, nil
}

func (r *fakeReader) Close() error { return nil }

type fakeCache struct {
	data   map[string][]model.ResultRecord
	getErr error
	sets   int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]model.ResultRecord{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]model.ResultRecord, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	recs, ok := c.data[key]
	return recs, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, recs []model.ResultRecord) error {
	c.sets++
	c.data[key] = recs
	return nil
}

func (c *fakeCache) Close() error { return nil }

type savedRun struct {
	run     model.ScanRun
	records []model.ResultRecord
}

type fakeHistory struct{ runs []savedRun }

func (h *fakeHistory) SaveRun(_ context.Context, run model.ScanRun, recs []model.ResultRecord) (string, error) {
	h.runs = append(h.runs, savedRun{run, recs})
	return run.ID, nil
}

func (h *fakeHistory) Close() error { return nil }

type fakeRecorder struct {
	mu       sync.Mutex
	cache    map[string]int
	skipped  map[string]int
	finished int
	writes   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{cache: map[string]int{}, skipped: map[string]int{}}
}

func (r *fakeRecorder) CacheResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[result]++
}

func (r *fakeRecorder) HistoryWritten(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
}

func (r *fakeRecorder) RunFinished(time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *fakeRecorder) RunSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[reason]++
}

type fakeHealth struct {
	results int
	err     error
	calls   int
}

func (h *fakeHealth) SetLastRun(_ time.Time, results int, err error) {
	h.calls++
	h.results, h.err = results, err
}

type stubNotifier struct{ sent []notification.Alert }

func (n *stubNotifier) Name() string { return "stub" }
func (n *stubNotifier) Send(_ context.Context, a notification.Alert) error {
	n.sent = append(n.sent, a)
	return nil
}

func trend(n int, start, step float64) *model.Series {
	obs := make([]model.Observation, n)
	for i := range obs {
		obs[i] = model.PriceObservation(day0.AddDate(0, 0, i), start+float64(i)*step)
	}
	return model.NewSeries(obs)
}

type fixture struct {
	reader   *fakeReader
	cache    *fakeCache
	history  *fakeHistory
	recorder *fakeRecorder
	health   *fakeHealth
	notifier *stubNotifier
}

func newFixture() *fixture {
	return &fixture{
		reader: &fakeReader{
			instruments: []model.Instrument{
				{ID: "UP", Name: "Rising Tech", AssetClass: "stock"},
				{ID: "DOWN", Name: "Falling Energy", AssetClass: "stock"},
				{ID: "NODATA", Name: "Dormant Tech", AssetClass: "stock"},
				{ID: "F1", Name: "Bond Fund", AssetClass: "fund"},
			},
			frames: map[string]*model.Series{
				"UP":   trend(40, 100, 1),
				"DOWN": trend(40, 100, -1),
			},
		},
		cache:    newFakeCache(),
		history:  &fakeHistory{},
		recorder: newFakeRecorder(),
		health:   &fakeHealth{},
		notifier: &stubNotifier{},
	}
}

func (f *fixture) service(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Analysis == "" {
		opts.Analysis = "stock"
	}
	if opts.LookbackDays == 0 {
		opts.LookbackDays = 365
	}
	criteria := &scan.Criteria{
		Column:        model.ColClose,
		Weights:       map[string]float64{"rsi": 1},
		BuyThreshold:  0.5,
		SellThreshold: 0.5,
	}
	svc, err := New(Deps{
		Reader:  f.reader,
		Engine:  scan.NewEngine(indicator.NewDefaultRegistry(logger.Discard()), scan.WithLogger(logger.Discard())),
		History: f.history,
		Cache:   f.cache,
		Alerts:  notification.NewDispatcher(logger.Discard(), nil, f.notifier),
		Metrics: f.recorder,
		Health:  f.health,
		Logger:  logger.Discard(),
		Clock:   func() time.Time { return fixedNow },
	}, criteria, opts)
	require.NoError(t, err)
	return svc
}

func recordIDs(recs []model.ResultRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.InstrumentID
	}
	return ids
}

// ────────────────────────────────────────────────────────────
// Service
// ────────────────────────────────────────────────────────────

func TestRun_ScansPersistsAndAlerts(t *testing.T) {
	f := newFixture()
	report, err := f.service(t, Options{AlertMinScore: 0.5}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.CacheHit)
	assert.Equal(t, 3, report.Instruments)
	assert.Equal(t, []string{"UP", "DOWN"}, recordIDs(report.Records), "empty series are left out")
	assert.Equal(t, "buy", report.Records[0].Recommendation)
	assert.Equal(t, "sell", report.Records[1].Recommendation)

	require.Len(t, f.reader.calls, 1)
	call := f.reader.calls[0]
	assert.Equal(t, []string{"DOWN", "NODATA", "UP"}, call.ids)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), call.end)
	assert.Equal(t, call.end.AddDate(0, 0, -365), call.start)

	assert.Equal(t, 1, f.cache.sets)
	assert.Contains(t, f.cache.data, report.CacheKey)

	require.Len(t, f.history.runs, 1)
	saved := f.history.runs[0]
	assert.Equal(t, report.RunID, saved.run.ID)
	assert.NotEmpty(t, saved.run.ID)
	assert.Equal(t, report.CacheKey, saved.run.CacheKey)
	assert.Equal(t, "stock", saved.run.Analysis)
	assert.JSONEq(t, `{"column":"close","weights":{"rsi":1},"params":{},"score_buy_threshold":0.5,"score_sell_threshold":0.5}`, string(saved.run.Criteria))
	assert.Len(t, saved.records, 2)

	assert.Equal(t, 2, report.Alerts)
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, "UP", f.notifier.sent[0].InstrumentID)

	assert.Equal(t, 1, f.recorder.cache[CacheMiss])
	assert.Equal(t, 1, f.recorder.writes)
	assert.Equal(t, 1, f.recorder.finished)
	assert.Equal(t, 2, f.health.results)
	assert.NoError(t, f.health.err)
}

func TestRun_CacheHitSkipsEngine(t *testing.T) {
	f := newFixture()
	svc := f.service(t, Options{})

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	second, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, first.Records, second.Records)
	assert.Len(t, f.reader.calls, 1, "a cache hit does not read series")
	assert.Equal(t, 1, f.recorder.cache[CacheHit])
	assert.Len(t, f.history.runs, 2, "every run is recorded")
	assert.NotEqual(t, f.history.runs[0].run.ID, f.history.runs[1].run.ID)
}

func TestRun_OverridesChangeCacheKey(t *testing.T) {
	f := newFixture()

	base, err := f.service(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	tuned, err := f.service(t, Options{
		Overrides: map[string]map[string]any{"rsi": {"window": 3}},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, base.CacheKey, tuned.CacheKey)
	assert.False(t, tuned.CacheHit, "different parameters are never served from another run's entry")
	assert.Len(t, f.reader.calls, 2)
	assert.Contains(t, string(f.history.runs[1].run.Criteria), `"params":{"rsi":{"window":3}}`)
}

func TestRun_CacheErrorFallsBackToScan(t *testing.T) {
	f := newFixture()
	f.cache.getErr = errors.New("redis down")

	report, err := f.service(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.CacheHit)
	assert.Len(t, report.Records, 2)
	assert.Equal(t, 1, f.recorder.cache[CacheError])
}

func TestRun_WithoutOptionalDeps(t *testing.T) {
	f := newFixture()
	svc, err := New(Deps{
		Reader: f.reader,
		Engine: scan.NewEngine(indicator.NewDefaultRegistry(logger.Discard()), scan.WithLogger(logger.Discard())),
		Logger: logger.Discard(),
	}, &scan.Criteria{Column: model.ColClose, Weights: map[string]float64{"rsi": 1}}, Options{Analysis: "stock", LookbackDays: 100})
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Records, 2)
	assert.Zero(t, report.Alerts)
}

func TestRun_MinThresholdFloorsCriteria(t *testing.T) {
	f := newFixture()
	report, err := f.service(t, Options{MinThreshold: 2, AlertMinScore: 0.5}).Run(context.Background())
	require.NoError(t, err)

	for _, rec := range report.Records {
		assert.Equal(t, "hold", rec.Recommendation, rec.InstrumentID)
	}
	assert.Zero(t, report.Alerts, "hold results never alert")
	assert.Contains(t, string(f.history.runs[0].run.Criteria), `"score_buy_threshold":2`)
}

func TestRun_InstrumentSelection(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"analysis class", Options{Analysis: "fund"}, []string{"F1"}},
		{"include keyword", Options{Include: []string{"tech"}}, []string{"NODATA", "UP"}},
		{"case sensitive include", Options{Include: []string{"tech"}, CaseSensitive: true}, []string{}},
		{"exclude keyword", Options{Exclude: []string{"DORMANT"}}, []string{"DOWN", "UP"}},
		{"explicit ids", Options{Instruments: []string{"UP", "X9", "UP"}}, []string{"UP", "X9"}},
		{"explicit ids filtered", Options{Instruments: []string{"UP", "DOWN"}, Exclude: []string{"energy"}}, []string{"UP"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.service(t, tt.opts).Run(context.Background())
			require.NoError(t, err)
			require.Len(t, f.reader.calls, 1)
			assert.Equal(t, tt.want, f.reader.calls[0].ids)
		})
	}
}

func TestRun_ReaderErrorIsReported(t *testing.T) {
	f := newFixture()
	f.reader.err = errors.New("disk gone")

	_, err := f.service(t, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, 1, f.health.calls)
	assert.Error(t, f.health.err)
	assert.Zero(t, f.recorder.finished)
	assert.Empty(t, f.history.runs)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	engine := scan.NewEngine(indicator.NewRegistry(logger.Discard()))
	criteria := &scan.Criteria{Column: model.ColClose}

	_, err := New(Deps{Engine: engine}, criteria, Options{})
	assert.ErrorIs(t, err, ErrNoReader)

	_, err = New(Deps{Reader: &fakeReader{}, Engine: engine}, nil, Options{})
	assert.ErrorIs(t, err, scan.ErrNilCriteria)

	_, err = New(Deps{Reader: &fakeReader{}, Engine: engine}, &scan.Criteria{}, Options{})
	assert.ErrorIs(t, err, scan.ErrInvalidCriteria)
}

func TestFilterInstruments(t *testing.T) {
	ins := []model.Instrument{
		{ID: "A", Name: "Global Equity Fund"},
		{ID: "B", Name: "Short Bond Fund"},
		{ID: "C", Name: ""},
	}
	tests := []struct {
		name             string
		include, exclude []string
		caseSensitive    bool
		want             []string
	}{
		{"no filters", nil, nil, false, []string{"A", "B", "C"}},
		{"include any", []string{"equity", "bond"}, nil, false, []string{"A", "B"}},
		{"exclude wins", []string{"fund"}, []string{"bond"}, false, []string{"A"}},
		{"case sensitive", []string{"equity"}, nil, true, []string{}},
		{"id fallback", []string{"c"}, nil, false, []string{"C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterInstruments(ins, tt.include, tt.exclude, tt.caseSensitive)
			ids := make([]string, 0, len(got))
			for _, in := range got {
				ids = append(ids, in.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

// ────────────────────────────────────────────────────────────
// Scheduler
// ────────────────────────────────────────────────────────────

type blockingJob struct {
	started chan struct{}
	release chan struct{}
	runs    int
	mu      sync.Mutex
}

func (j *blockingJob) Run(ctx context.Context) (*Report, error) {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	if j.started != nil {
		j.started <- struct{}{}
		<-j.release
	}
	return &Report{}, nil
}

func newTestScheduler(t *testing.T, job Job, rec Recorder, now time.Time) *Scheduler {
	t.Helper()
	cal := calendar.New(time.UTC, []time.Time{time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)})
	s, err := NewScheduler("30 18 * * 1-5", job, cal, rec, logger.Discard())
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestScheduler_SkipsNonTradingDays(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		ran    bool
		reason string
	}{
		{"trading day", fixedNow, true, ""},
		{"weekend", time.Date(2024, 3, 2, 18, 30, 0, 0, time.UTC), false, "weekend"},
		{"holiday", time.Date(2024, 3, 4, 18, 30, 0, 0, time.UTC), false, "holiday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &blockingJob{}
			rec := newFakeRecorder()
			s := newTestScheduler(t, job, rec, tt.now)

			assert.Equal(t, tt.ran, s.runOnce(context.Background()))
			if tt.ran {
				assert.Equal(t, 1, job.runs)
				assert.Empty(t, rec.skipped)
			} else {
				assert.Zero(t, job.runs)
				assert.Equal(t, 1, rec.skipped[tt.reason])
			}
		})
	}
}

func TestScheduler_DropsOverlappingTriggers(t *testing.T) {
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	rec := newFakeRecorder()
	s := newTestScheduler(t, job, rec, fixedNow)

	done := make(chan bool)
	go func() { done <- s.runOnce(context.Background()) }()
	<-job.started

	assert.False(t, s.runOnce(context.Background()))
	rec.mu.Lock()
	assert.Equal(t, 1, rec.skipped[SkipOverlap])
	rec.mu.Unlock()

	close(job.release)
	assert.True(t, <-done)
	assert.Equal(t, 1, job.runs)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler("not a cron", &blockingJob{}, nil, nil, logger.Discard())
	assert.Error(t, err)
}

func TestScheduler_Next(t *testing.T) {
	s := newTestScheduler(t, &blockingJob{}, nil, fixedNow)
	next := s.Next()
	assert.Equal(t, 18, next.Hour())
	assert.Equal(t, 30, next.Minute())
}
