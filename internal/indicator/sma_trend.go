package indicator

import (
	"fmt"

	"trading-scanner/internal/model"
)

// SMA trend columns.
const (
	ColSMAFast = "sma_fast"
	ColSMASlow = "sma_slow"
)

// SMATrend scores moving-average alignment: price above a fast SMA above a
// slow SMA is a bull trend, the reverse a bear trend. Anything in between is
// scored by the distance of price from the slow SMA, capped at ±0.25.
type SMATrend struct{}

// NewSMATrend creates the SMA trend indicator.
func NewSMATrend() *SMATrend { return &SMATrend{} }

func (t *SMATrend) ID() string   { return "sma_trend" }
func (t *SMATrend) Name() string { return "SMA Trend Alignment" }
func (t *SMATrend) Description() string {
	return "price vs SMA(fast) vs SMA(slow) alignment"
}

func (t *SMATrend) RequiredColumns(column string) []string { return []string{column} }

func (t *SMATrend) ParamSchema() ParamSchema {
	return ParamSchema{
		"fast": intParam(50, 1, 1000),
		"slow": intParam(200, 2, 2000),
	}
}

func (t *SMATrend) Capabilities() []Capability {
	return []Capability{CapBuySignal, CapSellSignal, CapTrendRegime}
}

func (t *SMATrend) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, column); err != nil {
		return nil, err
	}
	vals := s.Column(column)
	return s.WithColumns(
		[]string{ColSMAFast, ColSMASlow},
		map[string][]float64{
			ColSMAFast: smaSeries(vals, cfg.Int("fast")),
			ColSMASlow: smaSeries(vals, cfg.Int("slow")),
		},
	)
}

func (t *SMATrend) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	snap.Set(ColSMAFast, s.Last(ColSMAFast))
	snap.Set(ColSMASlow, s.Last(ColSMASlow))
	return snap
}

// trend returns the raw score and a label, or ok=false when inputs are missing.
func (t *SMATrend) trend(price, fast, slow float64) (raw float64, label string, ok bool) {
	if !allFinite(price, fast, slow) || slow <= 0 {
		return 0, "", false
	}
	switch {
	case price > fast && fast > slow:
		return 0.5, "bull alignment (price > fast > slow)", true
	case price < fast && fast < slow:
		return -0.5, "bear alignment (price < fast < slow)", true
	default:
		return clamp((price-slow)/slow, -0.25, 0.25), "mixed alignment", true
	}
}

func (t *SMATrend) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	price, fast, slow := s.Last(column), s.Last(ColSMAFast), s.Last(ColSMASlow)
	raw, label, ok := t.trend(price, fast, slow)
	if !ok {
		return nil
	}
	details := []string{fmt.Sprintf("price = %s, SMA(%d) = %s, SMA(%d) = %s", num(price), cfg.Int("fast"), num(fast), cfg.Int("slow"), num(slow))}
	if label == "mixed alignment" {
		details = append(details, fmt.Sprintf("raw = clamp((price - slow) / slow, ±0.25) = %s", signed(raw)))
	} else {
		details = append(details, fmt.Sprintf("%s -> raw = %s", label, signed(raw)))
	}
	return NewScore(raw, cfg.Weight, label, append(details, contributionLine(raw, cfg.Weight)))
}

func (t *SMATrend) Explain(s *model.Series, column string, cfg Config) []string {
	head := fmt.Sprintf("SMA trend(%d/%d)", cfg.Int("fast"), cfg.Int("slow"))
	price, fast, slow := s.Last(column), s.Last(ColSMAFast), s.Last(ColSMASlow)
	raw, label, ok := t.trend(price, fast, slow)
	if !ok {
		return []string{head + ": insufficient data"}
	}
	return []string{
		fmt.Sprintf("%s: price = %s, fast = %s, slow = %s", head, num(price), num(fast), num(slow)),
		fmt.Sprintf("%s (raw %s)", label, signed(raw)),
	}
}
