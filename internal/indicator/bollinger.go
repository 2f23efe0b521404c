package indicator

import (
	"fmt"

	"trading-scanner/internal/model"
)

// Bollinger band columns.
const (
	ColBBMid   = "bb_mid"
	ColBBUpper = "bb_upper"
	ColBBLower = "bb_lower"
	ColBBPctB  = "bb_pct_b"
)

// Bollinger places the price inside an SMA ± k·σ envelope. Price near the
// lower band scores as a buy, near the upper band as a sell.
type Bollinger struct{}

// NewBollinger creates the Bollinger bands indicator.
func NewBollinger() *Bollinger { return &Bollinger{} }

func (b *Bollinger) ID() string   { return "bollinger" }
func (b *Bollinger) Name() string { return "Bollinger Bands" }
func (b *Bollinger) Description() string {
	return "SMA(window) ± k standard deviations; scores 1 - 2·%B clamped to [-1, 1]"
}

func (b *Bollinger) RequiredColumns(column string) []string { return []string{column} }

func (b *Bollinger) ParamSchema() ParamSchema {
	return ParamSchema{
		"window": intParam(20, 2, 500),
		"k":      floatParam(2.0, 0.1, 10),
	}
}

func (b *Bollinger) Capabilities() []Capability {
	return []Capability{CapBuySignal, CapSellSignal, CapOverboughtOversold, CapVolatility}
}

func (b *Bollinger) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, column); err != nil {
		return nil, err
	}
	vals := s.Column(column)
	window, k := cfg.Int("window"), cfg.Float("k")
	mid := smaSeries(vals, window)
	std := stdSeries(vals, window)

	upper, lower, pctB := nanSlice(len(vals)), nanSlice(len(vals)), nanSlice(len(vals))
	for i := range vals {
		if !allFinite(mid[i], std[i]) {
			continue
		}
		upper[i] = mid[i] + k*std[i]
		lower[i] = mid[i] - k*std[i]
		if width := upper[i] - lower[i]; width > 0 && allFinite(vals[i]) {
			pctB[i] = (vals[i] - lower[i]) / width
		}
	}
	return s.WithColumns(
		[]string{ColBBMid, ColBBUpper, ColBBLower, ColBBPctB},
		map[string][]float64{ColBBMid: mid, ColBBUpper: upper, ColBBLower: lower, ColBBPctB: pctB},
	)
}

func (b *Bollinger) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	for _, c := range []string{ColBBMid, ColBBUpper, ColBBLower, ColBBPctB} {
		snap.Set(c, s.Last(c))
	}
	return snap
}

func (b *Bollinger) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	pb := s.Last(ColBBPctB)
	if model.IsMissing(pb) {
		return nil
	}
	raw := clamp(1-2*pb, -1, 1)
	return NewScore(raw, cfg.Weight,
		fmt.Sprintf("%%B %.2f (%s)", pb, b.zone(pb)),
		[]string{
			fmt.Sprintf("lower = %s, mid = %s, upper = %s", num(s.Last(ColBBLower)), num(s.Last(ColBBMid)), num(s.Last(ColBBUpper))),
			fmt.Sprintf("%%B = %s", num(pb)),
			fmt.Sprintf("raw = clamp(1 - 2 × %%B) = %s", signed(raw)),
			contributionLine(raw, cfg.Weight),
		})
}

func (b *Bollinger) Explain(s *model.Series, column string, cfg Config) []string {
	head := fmt.Sprintf("Bollinger(%d, %.1f)", cfg.Int("window"), cfg.Float("k"))
	pb := s.Last(ColBBPctB)
	if model.IsMissing(pb) {
		return []string{head + ": insufficient data"}
	}
	return []string{
		fmt.Sprintf("%s: price = %s, bands = [%s, %s]", head, num(s.Last(column)), num(s.Last(ColBBLower)), num(s.Last(ColBBUpper))),
		fmt.Sprintf("%%B = %s: %s", num(pb), b.zone(pb)),
	}
}

func (b *Bollinger) zone(pb float64) string {
	switch {
	case pb < 0:
		return "below lower band"
	case pb > 1:
		return "above upper band"
	case pb < 0.2:
		return "near lower band"
	case pb > 0.8:
		return "near upper band"
	default:
		return "inside bands"
	}
}
