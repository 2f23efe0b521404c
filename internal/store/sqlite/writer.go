package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"trading-scanner/internal/model"
)

// seriesColumns are the stored observation columns, in table order.
var seriesColumns = []string{model.ColOpen, model.ColHigh, model.ColLow, model.ColClose, model.ColVolume, model.ColNAV}

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath   string // path to SQLite database file, e.g. "data/scanner.db"
	KeepRuns int    // scan runs kept in history; 0 keeps all
}

// Writer stores instruments, observations and scan history.
type Writer struct {
	db       *sql.DB
	keepRuns int
	logger   *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("sqlite opened", slog.String("path", cfg.DBPath))
	return &Writer{db: db, keepRuns: cfg.KeepRuns, logger: logger}, nil
}

func open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS instruments (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			asset_class TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS observations (
			instrument_id TEXT NOT NULL,
			date          TEXT NOT NULL,
			open          REAL,
			high          REAL,
			low           REAL,
			close         REAL,
			volume        REAL,
			nav           REAL,
			PRIMARY KEY (instrument_id, date)
		);

		CREATE TABLE IF NOT EXISTS scan_runs (
			id          TEXT    PRIMARY KEY,
			analysis    TEXT    NOT NULL,
			criteria    TEXT    NOT NULL,
			cache_key   TEXT    NOT NULL DEFAULT '',
			instruments INTEGER NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scan_results (
			run_id         TEXT    NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
			rank           INTEGER NOT NULL,
			instrument_id  TEXT    NOT NULL,
			recommendation TEXT    NOT NULL,
			score          REAL,
			record         TEXT    NOT NULL,
			PRIMARY KEY (run_id, rank)
		);

		CREATE INDEX IF NOT EXISTS idx_scan_results_instrument ON scan_results (instrument_id);
	`)
	return err
}

// nullable maps missing values to SQL NULL.
func nullable(v float64) any {
	if model.IsMissing(v) {
		return nil
	}
	return v
}

// UpsertInstruments inserts or updates instruments in one transaction.
func (w *Writer) UpsertInstruments(ctx context.Context, instruments []model.Instrument) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments (id, name, asset_class) VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, in := range instruments {
		if _, err := stmt.ExecContext(ctx, in.ID, in.Name, in.AssetClass); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert instrument %s: %w", in.ID, err)
		}
	}
	return tx.Commit()
}

// WriteSeries stores every row of s for an instrument in a single
// transaction. Columns absent from s, and missing values, are stored as NULL.
func (w *Writer) WriteSeries(ctx context.Context, instrumentID string, s *model.Series) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO observations (instrument_id, date, open, high, low, close, volume, nav)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	cols := make([][]float64, len(seriesColumns))
	for i, name := range seriesColumns {
		cols[i] = s.Column(name)
	}
	args := make([]any, 2+len(seriesColumns))
	for row, date := range s.Dates() {
		args[0], args[1] = instrumentID, date.Format(model.DateLayout)
		for i, col := range cols {
			args[2+i] = nil
			if col != nil {
				args[2+i] = nullable(col[row])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert observation %s %s: %w", instrumentID, args[1], err)
		}
	}
	return tx.Commit()
}

// SaveRun stores a scan run and its ranked records. A run without an ID gets
// a new UUID. Older runs beyond KeepRuns are pruned.
func (w *Writer) SaveRun(ctx context.Context, run model.ScanRun, records []model.ResultRecord) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_runs (id, analysis, criteria, cache_key, instruments, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Analysis, string(run.Criteria), run.CacheKey, run.Instruments,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("sqlite insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_results (run_id, rank, instrument_id, recommendation, score, record)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	defer stmt.Close()

	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			tx.Rollback()
			return "", fmt.Errorf("marshal record %s: %w", rec.InstrumentID, err)
		}
		var score any
		if rec.Score != nil {
			score = *rec.Score
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i+1, rec.InstrumentID, rec.Recommendation, score, string(data)); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("sqlite insert result %s: %w", rec.InstrumentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	if w.keepRuns > 0 {
		if err := w.prune(ctx); err != nil {
			w.logger.Warn("prune scan history", slog.Any("error", err))
		}
	}
	return run.ID, nil
}

// prune keeps the newest keepRuns runs.
func (w *Writer) prune(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, `
		DELETE FROM scan_results WHERE run_id NOT IN (
			SELECT id FROM scan_runs ORDER BY started_at DESC LIMIT ?
		)`, w.keepRuns)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx, `
		DELETE FROM scan_runs WHERE id NOT IN (
			SELECT id FROM scan_runs ORDER BY started_at DESC LIMIT ?
		)`, w.keepRuns)
	return err
}

// Runs returns the newest runs first, at most limit.
func (w *Writer) Runs(ctx context.Context, limit int) ([]model.ScanRun, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, analysis, criteria, cache_key, instruments, started_at, finished_at
		FROM scan_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ScanRun
	for rows.Next() {
		var (
			r                 model.ScanRun
			criteria          string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Analysis, &criteria, &r.CacheKey, &r.Instruments, &started, &finished); err != nil {
			return nil, fmt.Errorf("sqlite scan runs: %w", err)
		}
		r.Criteria = []byte(criteria)
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunResults returns the records of one run in rank order.
func (w *Writer) RunResults(ctx context.Context, runID string) ([]model.ResultRecord, error) {
	return w.queryRecords(ctx, `
		SELECT record FROM scan_results WHERE run_id = ? ORDER BY rank ASC
	`, runID)
}

// LatestResults returns an instrument's records across runs, newest run first.
func (w *Writer) LatestResults(ctx context.Context, instrumentID string, limit int) ([]model.ResultRecord, error) {
	return w.queryRecords(ctx, `
		SELECT r.record
		FROM scan_results r JOIN scan_runs s ON s.id = r.run_id
		WHERE r.instrument_id = ?
		ORDER BY s.started_at DESC
		LIMIT ?
	`, instrumentID, limit)
}

func (w *Writer) queryRecords(ctx context.Context, query string, args ...any) ([]model.ResultRecord, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query results: %w", err)
	}
	defer rows.Close()

	var out []model.ResultRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan results: %w", err)
		}
		var rec model.ResultRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
