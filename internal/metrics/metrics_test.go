package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"trading-scanner/internal/logger"
	"trading-scanner/internal/model"
)

func TestMetrics_ScanRecorder(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ScanCompleted(250*time.Millisecond, 3)
	m.InstrumentSkipped("empty")
	m.IndicatorFailed("macd")
	m.IndicatorFailed("macd")
	m.Recommended(model.RecommendBuy)
	m.CacheResult("hit")
	m.AlertSent("webhook", errors.New("timeout"))
	m.RunSkipped("holiday")
	m.RunFinished(time.Unix(1700000000, 0))
	m.HistoryWritten(10 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InstrumentsScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstrumentsSkipped.WithLabelValues("empty")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndicatorFailures.WithLabelValues("macd")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recommendations.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsSent.WithLabelValues("webhook", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsSkipped.WithLabelValues("holiday")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastRunTimestamp))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HistoryWriteDur))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func decodeHealth(t *testing.T, h http.Handler) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_Status(t *testing.T) {
	h := NewHealthStatus()

	code, body := decodeHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.SetSQLiteOK(true)
	code, body = decodeHealth(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	h.SetRedisEnabled(true)
	code, body = decodeHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestHealth_LastRun(t *testing.T) {
	h := NewHealthStatus()
	h.SetSQLiteOK(true)
	at := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	h.SetLastRun(at, 12, errors.New("cache unavailable"))

	_, body := decodeHealth(t, h)
	assert.Equal(t, at.Format(time.RFC3339), body["last_run_at"])
	assert.Equal(t, 12.0, body["last_run_results"])
	assert.Equal(t, "cache unavailable", body["last_run_error"])
}

func TestHealth_CheckSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	h := NewHealthStatus()
	h.CheckSQLite(context.Background(), db)
	assert.True(t, h.SQLiteOK)
	assert.False(t, h.LastCheckAt.IsZero())
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ScanCompleted(time.Second, 5)

	health := NewHealthStatus()
	health.SetSQLiteOK(true)
	srv := NewServer(":0", health, reg, logger.Discard())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "scanner_instruments_scanned_total 5"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
