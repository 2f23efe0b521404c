package indicator

import (
	"fmt"

	"trading-scanner/internal/model"
)

// ColATR is the column ATR adds to the series.
const ColATR = "atr"

// ATR is the Average True Range, Wilder-smoothed. Lower volatility relative
// to price scores better.
type ATR struct{}

// NewATR creates the ATR indicator.
func NewATR() *ATR { return &ATR{} }

func (a *ATR) ID() string          { return "atr" }
func (a *ATR) Name() string        { return "Average True Range" }
func (a *ATR) Description() string { return "Wilder ATR; scores -ATR/price" }

func (a *ATR) RequiredColumns(column string) []string {
	return []string{column, model.ColHigh, model.ColLow}
}

func (a *ATR) ParamSchema() ParamSchema {
	return ParamSchema{"window": intParam(14, 1, 500)}
}

func (a *ATR) Capabilities() []Capability { return []Capability{CapVolatility} }

func (a *ATR) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, a.RequiredColumns(column)...); err != nil {
		return nil, err
	}
	tr := trueRangeSeries(s.Column(model.ColHigh), s.Column(model.ColLow), s.Column(column))
	return s.With(ColATR, wilderSeries(tr, cfg.Int("window")))
}

func (a *ATR) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	snap.Set(ColATR, s.Last(ColATR))
	return snap
}

func (a *ATR) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	atr, price := s.Last(ColATR), s.Last(column)
	if !allFinite(atr, price) || price <= 0 {
		return nil
	}
	raw := -(atr / price)
	return NewScore(raw, cfg.Weight,
		fmt.Sprintf("ATR is %s of price", pct(atr/price)),
		[]string{
			fmt.Sprintf("ATR(%d) = %s, price = %s", cfg.Int("window"), num(atr), num(price)),
			fmt.Sprintf("raw = -(ATR / price) = %s", signed(raw)),
			contributionLine(raw, cfg.Weight),
		})
}

func (a *ATR) Explain(s *model.Series, column string, cfg Config) []string {
	atr, price := s.Last(ColATR), s.Last(column)
	if !allFinite(atr, price) || price <= 0 {
		return []string{fmt.Sprintf("ATR(%d): insufficient data", cfg.Int("window"))}
	}
	return []string{
		fmt.Sprintf("ATR(%d) = %s (%s of price)", cfg.Int("window"), num(atr), pct(atr/price)),
		fmt.Sprintf("raw = -(ATR / price) = %s", signed(-(atr / price))),
	}
}
