package indicator

import (
	"fmt"
	"math"

	"trading-scanner/internal/model"
)

// ADX columns.
const (
	ColADX     = "adx"
	ColPlusDI  = "plus_di"
	ColMinusDI = "minus_di"
)

// ADX thresholds used for scoring.
const (
	adxStrong = 25.0
	adxWeak   = 20.0
)

// ADX is Wilder's Average Directional Index. It measures trend strength
// only, so the score is a small fixed bonus or penalty.
type ADX struct{}

// NewADX creates the ADX indicator.
func NewADX() *ADX { return &ADX{} }

func (a *ADX) ID() string   { return "adx" }
func (a *ADX) Name() string { return "Average Directional Index" }
func (a *ADX) Description() string {
	return "Wilder ADX; rewards strong trends (ADX > 25) and penalizes weak ones (ADX <= 20)"
}

func (a *ADX) RequiredColumns(column string) []string {
	return []string{column, model.ColHigh, model.ColLow}
}

func (a *ADX) ParamSchema() ParamSchema {
	return ParamSchema{"window": intParam(14, 2, 500)}
}

func (a *ADX) Capabilities() []Capability { return []Capability{CapTrendStrength} }

func (a *ADX) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, a.RequiredColumns(column)...); err != nil {
		return nil, err
	}
	adx, plusDI, minusDI := adxSeries(s.Column(model.ColHigh), s.Column(model.ColLow), s.Column(column), cfg.Int("window"))
	return s.WithColumns(
		[]string{ColADX, ColPlusDI, ColMinusDI},
		map[string][]float64{ColADX: adx, ColPlusDI: plusDI, ColMinusDI: minusDI},
	)
}

func (a *ADX) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	snap.Set(ColADX, s.Last(ColADX))
	snap.Set(ColPlusDI, s.Last(ColPlusDI))
	snap.Set(ColMinusDI, s.Last(ColMinusDI))
	return snap
}

func (a *ADX) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	adx := s.Last(ColADX)
	if model.IsMissing(adx) {
		return nil
	}
	raw, band := adxRaw(adx)
	return NewScore(raw, cfg.Weight,
		fmt.Sprintf("ADX %.2f: %s", adx, band),
		[]string{
			fmt.Sprintf("ADX(%d) = %s", cfg.Int("window"), num(adx)),
			fmt.Sprintf("%s -> raw = %s", band, signed(raw)),
			contributionLine(raw, cfg.Weight),
		})
}

func (a *ADX) Explain(s *model.Series, column string, cfg Config) []string {
	adx := s.Last(ColADX)
	if model.IsMissing(adx) {
		return []string{fmt.Sprintf("ADX(%d): insufficient data (needs about %d observations)", cfg.Int("window"), 2*cfg.Int("window"))}
	}
	raw, band := adxRaw(adx)
	return []string{
		fmt.Sprintf("ADX(%d) = %s, +DI = %s, -DI = %s", cfg.Int("window"), num(adx), num(s.Last(ColPlusDI)), num(s.Last(ColMinusDI))),
		fmt.Sprintf("trend: %s (raw %s)", band, signed(raw)),
	}
}

func adxRaw(adx float64) (float64, string) {
	switch {
	case adx > adxStrong:
		return 0.10, "strong trend (ADX > 25)"
	case adx > adxWeak:
		return 0.05, "developing trend (20 < ADX <= 25)"
	default:
		return -0.05, "weak or no trend (ADX <= 20)"
	}
}

// adxSeries computes ADX, +DI and -DI with Wilder smoothing.
func adxSeries(high, low, close []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(close)
	plusDM := nanSlice(n)
	minusDM := nanSlice(n)
	for i := 1; i < n; i++ {
		if !allFinite(high[i], low[i], high[i-1], low[i-1]) {
			continue
		}
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	tr := wilderSeries(trueRangeSeries(high, low, close), period)
	sPlus := wilderSeries(plusDM, period)
	sMinus := wilderSeries(minusDM, period)

	plusDI = nanSlice(n)
	minusDI = nanSlice(n)
	dx := nanSlice(n)
	for i := 0; i < n; i++ {
		if !allFinite(tr[i], sPlus[i], sMinus[i]) || tr[i] == 0 {
			continue
		}
		plusDI[i] = 100 * sPlus[i] / tr[i]
		minusDI[i] = 100 * sMinus[i] / tr[i]
		sum := plusDI[i] + minusDI[i]
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
	}
	return wilderSeries(dx, period), plusDI, minusDI
}
