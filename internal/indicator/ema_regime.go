package indicator

import (
	"fmt"
	"math"

	"trading-scanner/internal/model"
)

// EMA regime columns.
const (
	ColEMAFast   = "ema_fast"
	ColEMASlow   = "ema_slow"
	ColEMARegime = "ema_regime"
	ColRegimeATR = "regime_atr"
	ColVolSMA    = "vol_sma"
)

// Fixed score increments of the EMA regime filter.
const (
	incGoldenCross = 0.20
	incRegime      = 0.15
	incPriceCross  = 0.10
	incEMACross    = 0.10
	incExtension   = 0.05
	incVolumeOK    = 0.05
	incVolumeWeak  = -0.02
)

// EMARegime combines three EMAs into cross events and a trend regime, and
// gates entries on slope, extension from the fast EMA (in ATRs) and volume.
//
// High/low are optional (close-to-close true range is used without them)
// and so is volume: without volume the volume filter passes and adds nothing.
type EMARegime struct{}

// NewEMARegime creates the EMA regime indicator.
func NewEMARegime() *EMARegime { return &EMARegime{} }

func (e *EMARegime) ID() string   { return "ema_regime" }
func (e *EMARegime) Name() string { return "EMA Regime & Cross Signals" }
func (e *EMARegime) Description() string {
	return "fast/slow/regime EMA crosses with regime, extension and volume filters"
}

func (e *EMARegime) RequiredColumns(column string) []string { return []string{column} }

func (e *EMARegime) ParamSchema() ParamSchema {
	return ParamSchema{
		"fast":           intParam(20, 1, 500),
		"slow":           intParam(50, 2, 1000),
		"regime":         intParam(200, 2, 2000),
		"max_ext_atr":    floatParam(1.5, 0, 20),
		"min_vol_mult":   floatParam(1.2, 0, 20),
		"vol_sma_window": intParam(20, 1, 500),
		"atr_window":     intParam(14, 1, 500),
	}
}

func (e *EMARegime) Capabilities() []Capability {
	return []Capability{CapBuySignal, CapSellSignal, CapTrendRegime, CapCrossSignals, CapVolumeConfirmation}
}

func (e *EMARegime) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, column); err != nil {
		return nil, err
	}
	vals := s.Column(column)
	names := []string{ColEMAFast, ColEMASlow, ColEMARegime, ColRegimeATR}
	cols := map[string][]float64{
		ColEMAFast:   emaSeries(vals, cfg.Int("fast")),
		ColEMASlow:   emaSeries(vals, cfg.Int("slow")),
		ColEMARegime: emaSeries(vals, cfg.Int("regime")),
		ColRegimeATR: wilderSeries(trueRangeSeries(s.Column(model.ColHigh), s.Column(model.ColLow), vals), cfg.Int("atr_window")),
	}
	if s.Has(model.ColVolume) {
		names = append(names, ColVolSMA)
		cols[ColVolSMA] = smaSeries(s.Column(model.ColVolume), cfg.Int("vol_sma_window"))
	}
	return s.WithColumns(names, cols)
}

// regimeSignals is the evaluated state of the last bar.
type regimeSignals struct {
	price, fast, slow, regime float64

	priceCrossUp, priceCrossDown   bool // price vs fast EMA
	emaCrossUp, emaCrossDown       bool // fast vs slow EMA
	regimeCrossUp, regimeCrossDown bool // price vs regime EMA
	golden, death                  bool // slow vs regime EMA

	state              int // 1 long, -1 short, 0 neutral
	slopeUp, slopeDown bool

	extKnown  bool
	extension float64
	extended  bool

	volKnown     bool
	volConfirmed bool
	volume       float64
	volSMA       float64

	longPrice, longEMA, shortPrice, shortEMA bool
}

func crossUp(prevA, prevB, a, b float64) bool   { return prevA <= prevB && a > b }
func crossDown(prevA, prevB, a, b float64) bool { return prevA >= prevB && a < b }

// evaluate returns the last-bar signals; ok is false when the price or any
// EMA is missing on the last row.
func (e *EMARegime) evaluate(s *model.Series, column string, cfg Config) (regimeSignals, bool) {
	sig := regimeSignals{
		price:  s.Last(column),
		fast:   s.Last(ColEMAFast),
		slow:   s.Last(ColEMASlow),
		regime: s.Last(ColEMARegime),
	}
	if !allFinite(sig.price, sig.fast, sig.slow, sig.regime) {
		return sig, false
	}

	pPrice, pFast, pSlow, pRegime := s.At(column, 1), s.At(ColEMAFast, 1), s.At(ColEMASlow, 1), s.At(ColEMARegime, 1)
	if allFinite(pPrice, pFast, pSlow, pRegime) {
		sig.priceCrossUp = crossUp(pPrice, pFast, sig.price, sig.fast)
		sig.priceCrossDown = crossDown(pPrice, pFast, sig.price, sig.fast)
		sig.emaCrossUp = crossUp(pFast, pSlow, sig.fast, sig.slow)
		sig.emaCrossDown = crossDown(pFast, pSlow, sig.fast, sig.slow)
		sig.regimeCrossUp = crossUp(pPrice, pRegime, sig.price, sig.regime)
		sig.regimeCrossDown = crossDown(pPrice, pRegime, sig.price, sig.regime)
		sig.golden = crossUp(pSlow, pRegime, sig.slow, sig.regime)
		sig.death = crossDown(pSlow, pRegime, sig.slow, sig.regime)
		sig.slopeUp = sig.fast > pFast && sig.slow > pSlow
		sig.slopeDown = sig.fast < pFast && sig.slow < pSlow
	}

	switch {
	case sig.price > sig.regime && sig.slow > sig.regime:
		sig.state = 1
	case sig.price < sig.regime && sig.slow < sig.regime:
		sig.state = -1
	}

	if atr := s.Last(ColRegimeATR); !model.IsMissing(atr) && atr > 0 {
		sig.extKnown = true
		sig.extension = math.Abs(sig.price-sig.fast) / atr
		sig.extended = sig.extension >= cfg.Float("max_ext_atr")
	}

	sig.volConfirmed = true
	if s.Has(model.ColVolume) {
		sig.volume, sig.volSMA = s.Last(model.ColVolume), s.Last(ColVolSMA)
		if allFinite(sig.volume, sig.volSMA) {
			sig.volKnown = true
			sig.volConfirmed = sig.volume >= cfg.Float("min_vol_mult")*sig.volSMA
		}
	}

	filtersOK := sig.extKnown && !sig.extended && sig.volConfirmed
	sig.longPrice = sig.priceCrossUp && sig.state == 1 && sig.slopeUp && filtersOK
	sig.longEMA = sig.emaCrossUp && sig.state == 1 && sig.slopeUp && filtersOK
	sig.shortPrice = sig.priceCrossDown && sig.state == -1 && sig.slopeDown && filtersOK
	sig.shortEMA = sig.emaCrossDown && sig.state == -1 && sig.slopeDown && filtersOK
	return sig, true
}

func (e *EMARegime) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	for _, c := range []string{ColEMAFast, ColEMASlow, ColEMARegime, ColRegimeATR, ColVolSMA} {
		snap.Set(c, s.Last(c))
	}
	sig, ok := e.evaluate(s, column, cfg)
	if !ok {
		return snap
	}
	snap.Set("ema_regime_state", float64(sig.state))
	if sig.extKnown {
		snap.Set("ema_extension_atr", sig.extension)
	}
	snap.Set("golden_cross", boolFloat(sig.golden))
	snap.Set("death_cross", boolFloat(sig.death))
	snap.Set("long_entry_price_cross", boolFloat(sig.longPrice))
	snap.Set("long_entry_ema_cross", boolFloat(sig.longEMA))
	snap.Set("short_entry_price_cross", boolFloat(sig.shortPrice))
	snap.Set("short_entry_ema_cross", boolFloat(sig.shortEMA))
	if sig.volKnown {
		snap.Set("volume_confirmed", boolFloat(sig.volConfirmed))
	}
	return snap
}

// increments lists the score terms of sig in a fixed order.
func (e *EMARegime) increments(sig regimeSignals) (float64, []string) {
	var (
		raw   float64
		terms []string
	)
	add := func(v float64, why string) {
		raw += v
		terms = append(terms, fmt.Sprintf("%s: %s", why, signed(v)))
	}

	switch {
	case sig.golden:
		add(incGoldenCross, "golden cross (slow EMA crossed above regime EMA)")
	case sig.death:
		add(-incGoldenCross, "death cross (slow EMA crossed below regime EMA)")
	}
	switch sig.state {
	case 1:
		add(incRegime, "long regime (price and slow EMA above regime EMA)")
	case -1:
		add(-incRegime, "short regime (price and slow EMA below regime EMA)")
	}
	switch {
	case sig.longPrice:
		add(incPriceCross, "long entry on price crossing above fast EMA")
	case sig.shortPrice:
		add(-incPriceCross, "short entry on price crossing below fast EMA")
	}
	switch {
	case sig.longEMA:
		add(incEMACross, "long entry on fast EMA crossing above slow EMA")
	case sig.shortEMA:
		add(-incEMACross, "short entry on fast EMA crossing below slow EMA")
	}
	if sig.extKnown {
		if sig.extended {
			add(-incExtension, fmt.Sprintf("extended %.2f ATR from fast EMA", sig.extension))
		} else {
			add(incExtension, fmt.Sprintf("not extended (%.2f ATR from fast EMA)", sig.extension))
		}
	}
	if sig.volKnown {
		if sig.volConfirmed {
			add(incVolumeOK, "volume confirmed")
		} else {
			add(incVolumeWeak, "volume below threshold")
		}
	}
	return raw, terms
}

func (e *EMARegime) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	sig, ok := e.evaluate(s, column, cfg)
	if !ok {
		return nil
	}
	raw, terms := e.increments(sig)
	details := append(terms, fmt.Sprintf("raw = %s", signed(raw)), contributionLine(raw, cfg.Weight))
	return NewScore(raw, cfg.Weight, fmt.Sprintf("%s regime, raw %s", regimeName(sig.state), signed(raw)), details)
}

func (e *EMARegime) Explain(s *model.Series, column string, cfg Config) []string {
	head := fmt.Sprintf("EMA regime(%d/%d/%d)", cfg.Int("fast"), cfg.Int("slow"), cfg.Int("regime"))
	sig, ok := e.evaluate(s, column, cfg)
	if !ok {
		return []string{head + ": insufficient data"}
	}
	lines := []string{
		fmt.Sprintf("%s: price = %s, fast = %s, slow = %s, regime = %s",
			head, num(sig.price), num(sig.fast), num(sig.slow), num(sig.regime)),
		"regime: " + regimeName(sig.state),
	}
	var events []string
	for _, ev := range []struct {
		on   bool
		name string
	}{
		{sig.golden, "golden cross"},
		{sig.death, "death cross"},
		{sig.priceCrossUp, "price crossed above fast EMA"},
		{sig.priceCrossDown, "price crossed below fast EMA"},
		{sig.emaCrossUp, "fast EMA crossed above slow EMA"},
		{sig.emaCrossDown, "fast EMA crossed below slow EMA"},
		{sig.regimeCrossUp, "price crossed above regime EMA"},
		{sig.regimeCrossDown, "price crossed below regime EMA"},
	} {
		if ev.on {
			events = append(events, ev.name)
		}
	}
	if len(events) == 0 {
		lines = append(lines, "no cross events on the last bar")
	} else {
		for _, ev := range events {
			lines = append(lines, "event: "+ev)
		}
	}
	raw, terms := e.increments(sig)
	lines = append(lines, terms...)
	return append(lines, fmt.Sprintf("raw = %s", signed(raw)))
}

func regimeName(state int) string {
	switch state {
	case 1:
		return "long"
	case -1:
		return "short"
	default:
		return "neutral"
	}
}
