package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-scanner/internal/model"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	ScansTotal         prometheus.Counter
	ScanDuration       prometheus.Histogram
	InstrumentsScanned prometheus.Counter
	InstrumentsSkipped *prometheus.CounterVec // labels: reason
	IndicatorFailures  *prometheus.CounterVec // labels: indicator
	Recommendations    *prometheus.CounterVec // labels: recommendation

	// Cache and history
	CacheRequests   *prometheus.CounterVec // labels: result=hit|miss|error
	HistoryWriteDur prometheus.Histogram

	// Runner
	LastRunTimestamp prometheus.Gauge
	RunsSkipped      *prometheus.CounterVec // labels: reason
	AlertsSent       *prometheus.CounterVec // labels: channel, status
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_scans_total",
			Help: "Total engine scans completed",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_scan_duration_seconds",
			Help:    "Engine scan latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		InstrumentsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_instruments_scanned_total",
			Help: "Instruments that produced a scan result",
		}),
		InstrumentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_instruments_skipped_total",
			Help: "Instruments left out of a scan (empty series, missing column)",
		}, []string{"reason"}),
		IndicatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_indicator_failures_total",
			Help: "Indicator errors and panics caught during scans",
		}, []string{"indicator"}),
		Recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_recommendations_total",
			Help: "Scan results by recommendation",
		}, []string{"recommendation"}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_cache_requests_total",
			Help: "Result cache lookups (hit, miss, error)",
		}, []string{"result"}),
		HistoryWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_history_write_duration_seconds",
			Help:    "SQLite execution history write latency",
			Buckets: prometheus.DefBuckets,
		}),

		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
		RunsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_runs_skipped_total",
			Help: "Scheduled runs not executed (non-trading day, overlap)",
		}, []string{"reason"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_alerts_total",
			Help: "Signal alerts delivered per channel",
		}, []string{"channel", "status"}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.InstrumentsScanned,
		m.InstrumentsSkipped,
		m.IndicatorFailures,
		m.Recommendations,
		m.CacheRequests,
		m.HistoryWriteDur,
		m.LastRunTimestamp,
		m.RunsSkipped,
		m.AlertsSent,
	)

	return m
}

// ScanCompleted records one engine scan.
func (m *Metrics) ScanCompleted(d time.Duration, instruments int) {
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(d.Seconds())
	m.InstrumentsScanned.Add(float64(instruments))
}

func (m *Metrics) InstrumentSkipped(reason string) { m.InstrumentsSkipped.WithLabelValues(reason).Inc() }
func (m *Metrics) IndicatorFailed(id string)       { m.IndicatorFailures.WithLabelValues(id).Inc() }
func (m *Metrics) Recommended(r model.Recommendation) {
	m.Recommendations.WithLabelValues(string(r)).Inc()
}

// CacheResult records a cache lookup outcome: "hit", "miss" or "error".
func (m *Metrics) CacheResult(result string) { m.CacheRequests.WithLabelValues(result).Inc() }

// HistoryWritten records the latency of one execution history write.
func (m *Metrics) HistoryWritten(d time.Duration) { m.HistoryWriteDur.Observe(d.Seconds()) }

// RunFinished stamps the last completed run.
func (m *Metrics) RunFinished(t time.Time) { m.LastRunTimestamp.Set(float64(t.Unix())) }

// RunSkipped records a scheduled run that did not execute.
func (m *Metrics) RunSkipped(reason string) { m.RunsSkipped.WithLabelValues(reason).Inc() }

// AlertSent records an alert delivery attempt.
func (m *Metrics) AlertSent(channel string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AlertsSent.WithLabelValues(channel, status).Inc()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	LastRunAt       time.Time `json:"last_run_at"`
	LastRunResults  int       `json:"last_run_results"`
	LastRunError    string    `json:"last_run_error"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// SetLastRun records the outcome of the latest run.
func (h *HealthStatus) SetLastRun(at time.Time, results int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastRunAt = at
	h.LastRunResults = results
	h.LastRunError = ""
	if err != nil {
		h.LastRunError = err.Error()
	}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. SQLite is required; Redis only
// degrades the status when the cache is enabled.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case !h.SQLiteOK:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case h.RedisEnabled && !h.RedisConnected:
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastRunAt       string  `json:"last_run_at"`
		LastRunResults  int     `json:"last_run_results"`
		LastRunError    string  `json:"last_run_error,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastRunAt:       lastRun,
		LastRunResults:  h.LastRunResults,
		LastRunError:    h.LastRunError,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default Prometheus registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", slog.Any("error", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
