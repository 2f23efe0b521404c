package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the scan runner from concrete storage
// implementations (SQLite, Redis).

// SeriesReader is the data-acquisition collaborator: given instrument ids and
// an optional date window it returns one series per requested instrument.
type SeriesReader interface {
	// ListInstruments returns known instruments of an asset class, ordered by id.
	ListInstruments(ctx context.Context, assetClass string) ([]Instrument, error)

	// ReadSeries returns {instrument id → series} with every requested id
	// present; ids without data map to an empty series. A zero start or end
	// leaves that side of the window open.
	ReadSeries(ctx context.Context, ids []string, start, end time.Time) (map[string]*Series, error)

	// Close releases underlying resources.
	Close() error
}

// ScanRun describes one execution of the scanner for the history store.
type ScanRun struct {
	ID          string    `json:"id"`
	Analysis    string    `json:"analysis"`
	Criteria    []byte    `json:"criteria"` // canonical criteria JSON
	CacheKey    string    `json:"cache_key"`
	Instruments int       `json:"instruments"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// HistoryWriter persists scan runs and their ranked results.
type HistoryWriter interface {
	// SaveRun stores the run and its records; returns the run id.
	SaveRun(ctx context.Context, run ScanRun, records []ResultRecord) (string, error)

	// Close releases underlying resources.
	Close() error
}

// ResultCache stores ranked result records under a deterministic key.
type ResultCache interface {
	// Get returns cached records; ok is false on a miss.
	Get(ctx context.Context, key string) (records []ResultRecord, ok bool, err error)

	// Set stores records under key.
	Set(ctx context.Context, key string, records []ResultRecord) error

	// Close releases underlying resources.
	Close() error
}
