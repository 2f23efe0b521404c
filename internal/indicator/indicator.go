// Package indicator provides technical indicator calculations over price series.
//
// Every indicator implements the Indicator interface: it enriches a series with
// its computed columns, reads a snapshot of the last row, scores that row on a
// roughly ±1 scale and explains how the score was derived. Indicators are
// stateless; all state lives in the series they are given.
package indicator

import (
	"errors"

	"trading-scanner/internal/model"
)

var (
	// ErrMissingColumn is returned when a required input column is absent.
	ErrMissingColumn = errors.New("required column missing")

	// ErrInsufficientData is returned when the series is too short to compute anything.
	ErrInsufficientData = errors.New("insufficient data")
)

// Capability is an informational tag describing what an indicator offers.
type Capability string

const (
	CapBuySignal          Capability = "provides_buy_signal"
	CapSellSignal         Capability = "provides_sell_signal"
	CapOverboughtOversold Capability = "detects_overbought_oversold"
	CapTrendStrength      Capability = "measures_trend_strength"
	CapVolatility         Capability = "measures_volatility"
	CapMomentum           Capability = "measures_momentum"
	CapTrendRegime        Capability = "classifies_trend_regime"
	CapCrossSignals       Capability = "detects_crosses"
	CapVolumeConfirmation Capability = "uses_volume_confirmation"
)

// Snapshot holds last-row readings. Non-finite values are never stored.
type Snapshot map[string]float64

// Set stores v under name unless v is NaN or ±Inf.
func (s Snapshot) Set(name string, v float64) {
	if model.IsMissing(v) {
		return
	}
	s[name] = v
}

// Score is one indicator's scored opinion about the last row.
type Score struct {
	Raw          float64  `json:"raw"`
	Weight       float64  `json:"weight"`
	Contribution float64  `json:"contribution"`
	Explanation  string   `json:"explanation"`
	Details      []string `json:"calculation_details"`
}

// NewScore builds a score with Contribution = raw × weight.
func NewScore(raw, weight float64, explanation string, details []string) *Score {
	return &Score{
		Raw:          raw,
		Weight:       weight,
		Contribution: raw * weight,
		Explanation:  explanation,
		Details:      details,
	}
}

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// ID returns the registry key (e.g. "rsi", "macd").
	ID() string

	// Name returns a human readable name.
	Name() string

	// Description returns a one-line summary.
	Description() string

	// RequiredColumns returns the minimal input columns given the analysis column.
	RequiredColumns(column string) []string

	// ParamSchema describes accepted parameters and their defaults.
	ParamSchema() ParamSchema

	// Calculate returns an enriched copy of s with the indicator's columns added.
	// It never modifies s.
	Calculate(s *model.Series, column string, cfg Config) (*model.Series, error)

	// Snapshot reads the indicator's columns on the last row of an enriched series.
	Snapshot(s *model.Series, column string, cfg Config) Snapshot

	// Score returns nil when cfg.Weight <= 0 or the last-row inputs are not finite.
	Score(s *model.Series, column string, cfg Config) *Score

	// Explain returns the narrative for the last row, regardless of weight.
	Explain(s *model.Series, column string, cfg Config) []string

	// Capabilities returns informational tags.
	Capabilities() []Capability
}

// requireColumns checks that every named column exists on s.
func requireColumns(s *model.Series, cols ...string) error {
	for _, c := range cols {
		if !s.Has(c) {
			return &ColumnError{Column: c}
		}
	}
	return nil
}

// ColumnError reports a missing input column.
type ColumnError struct {
	Column string
}

func (e *ColumnError) Error() string { return "column " + e.Column + ": " + ErrMissingColumn.Error() }

func (e *ColumnError) Unwrap() error { return ErrMissingColumn }
