package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-scanner/internal/model"
)

// Reader provides read-only access to instruments and observations.
type Reader struct {
	db     *sql.DB
	logger *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// NewReader opens a SQLite connection for reading. The schema is created if
// the database is new.
func NewReader(dbPath string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("sqlite reader opened", slog.String("path", dbPath))
	return &Reader{db: db, logger: logger}, nil
}

// ListInstruments returns the instruments of an asset class ordered by id.
// An empty assetClass lists every instrument.
func (r *Reader) ListInstruments(ctx context.Context, assetClass string) ([]model.Instrument, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, asset_class FROM instruments
		WHERE ? = '' OR asset_class = ?
		ORDER BY id ASC
	`, assetClass, assetClass)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		if err := rows.Scan(&in.ID, &in.Name, &in.AssetClass); err != nil {
			return nil, fmt.Errorf("sqlite scan instruments: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ReadSeries loads observations for ids within [start, end] (zero times
// leave the window open). Every requested id is present in the result; ids
// without rows map to an empty series. Columns with no stored value at all
// are left out of the series.
func (r *Reader) ReadSeries(ctx context.Context, ids []string, start, end time.Time) (map[string]*model.Series, error) {
	out := make(map[string]*model.Series, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var (
		where = []string{"instrument_id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"}
		args  = make([]any, 0, len(ids)+2)
	)
	for _, id := range ids {
		args = append(args, id)
	}
	if !start.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, start.Format(model.DateLayout))
	}
	if !end.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, end.Format(model.DateLayout))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT instrument_id, date, open, high, low, close, volume, nav
		FROM observations
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY instrument_id ASC, date ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query observations: %w", err)
	}
	defer rows.Close()

	type frame struct {
		dates   []time.Time
		cols    [][]float64
		present []bool
	}
	frames := make(map[string]*frame, len(ids))
	vals := make([]sql.NullFloat64, len(seriesColumns))
	dest := make([]any, 2+len(seriesColumns))
	for rows.Next() {
		var id, date string
		dest[0], dest[1] = &id, &date
		for i := range vals {
			dest[2+i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite scan observations: %w", err)
		}
		d, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("observation %s: bad date %q: %w", id, date, err)
		}

		f := frames[id]
		if f == nil {
			f = &frame{cols: make([][]float64, len(seriesColumns)), present: make([]bool, len(seriesColumns))}
			frames[id] = f
		}
		f.dates = append(f.dates, d)
		for i, v := range vals {
			if v.Valid {
				f.cols[i] = append(f.cols[i], v.Float64)
				f.present[i] = true
			} else {
				f.cols[i] = append(f.cols[i], math.NaN())
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		f := frames[id]
		if f == nil {
			out[id] = model.NewSeries(nil)
			continue
		}
		cols := make(map[string][]float64, len(seriesColumns))
		for i, name := range seriesColumns {
			if f.present[i] {
				cols[name] = f.cols[i]
			}
		}
		s, err := model.FromColumns(f.dates, cols)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", id, err)
		}
		out[id] = s
	}
	r.logger.Debug("series loaded", slog.Int("requested", len(ids)), slog.Int("with_data", len(frames)))
	return out, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
