package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Well-known column names. Any other name (e.g. computed indicator
// columns) is allowed.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
	ColNAV    = "nav" // net asset value for funds
)

// ErrLengthMismatch is returned when a column does not match the series length.
var ErrLengthMismatch = errors.New("column length does not match dates")

// Missing is the marker for an absent numeric value.
var Missing = math.NaN()

// IsMissing reports whether v carries no usable value.
func IsMissing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Series is an ordered, date-indexed set of numeric columns for one instrument.
// Dates are strictly ascending. A Series is never mutated after construction;
// With returns an enriched copy and column slices must be treated as read-only.
type Series struct {
	dates   []time.Time
	columns map[string][]float64
	order   []string
}

// NewSeries builds a series from observations. Observations are sorted by
// date; on duplicate dates the later observation wins. Optional OHLV columns
// are only added when at least one observation carries a value for them.
func NewSeries(obs []Observation) *Series {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	dedup := sorted[:0]
	for _, o := range sorted {
		if n := len(dedup); n > 0 && dedup[n-1].Date.Equal(o.Date) {
			dedup[n-1] = o
			continue
		}
		dedup = append(dedup, o)
	}

	s := &Series{
		dates:   make([]time.Time, len(dedup)),
		columns: make(map[string][]float64, 5),
	}
	cols := map[string][]float64{
		ColOpen:   make([]float64, len(dedup)),
		ColHigh:   make([]float64, len(dedup)),
		ColLow:    make([]float64, len(dedup)),
		ColClose:  make([]float64, len(dedup)),
		ColVolume: make([]float64, len(dedup)),
	}
	present := map[string]bool{ColClose: true}
	for i, o := range dedup {
		s.dates[i] = o.Date
		cols[ColOpen][i] = o.Open
		cols[ColHigh][i] = o.High
		cols[ColLow][i] = o.Low
		cols[ColClose][i] = o.Close
		cols[ColVolume][i] = o.Volume
		for _, name := range []string{ColOpen, ColHigh, ColLow, ColVolume} {
			if !IsMissing(cols[name][i]) {
				present[name] = true
			}
		}
	}
	for _, name := range []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume} {
		if present[name] {
			s.setColumn(name, cols[name])
		}
	}
	return s
}

// FromColumns builds a series from parallel date and column slices.
// Rows are sorted by date and deduplicated (the later row wins).
func FromColumns(dates []time.Time, columns map[string][]float64) (*Series, error) {
	for name, vals := range columns {
		if len(vals) != len(dates) {
			return nil, fmt.Errorf("column %q: %w (%d != %d)", name, ErrLengthMismatch, len(vals), len(dates))
		}
	}

	idx := make([]int, len(dates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return dates[idx[a]].Before(dates[idx[b]]) })

	keep := idx[:0:0]
	for _, i := range idx {
		if n := len(keep); n > 0 && dates[keep[n-1]].Equal(dates[i]) {
			keep[n-1] = i
			continue
		}
		keep = append(keep, i)
	}

	s := &Series{
		dates:   make([]time.Time, len(keep)),
		columns: make(map[string][]float64, len(columns)),
	}
	for row, i := range keep {
		s.dates[row] = dates[i]
	}

	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := columns[name]
		vals := make([]float64, len(keep))
		for row, i := range keep {
			vals[row] = src[i]
		}
		s.setColumn(name, vals)
	}
	return s, nil
}

func (s *Series) setColumn(name string, vals []float64) {
	if _, ok := s.columns[name]; !ok {
		s.order = append(s.order, name)
	}
	s.columns[name] = vals
}

// Len returns the number of rows.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.dates)
}

// Empty reports whether the series has no rows.
func (s *Series) Empty() bool { return s.Len() == 0 }

// Dates returns the row dates. Callers must not modify the slice.
func (s *Series) Dates() []time.Time { return s.dates }

// Has reports whether the named column exists.
func (s *Series) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.columns[name]
	return ok
}

// Column returns the values of a column, or nil if absent.
// Callers must not modify the slice.
func (s *Series) Column(name string) []float64 {
	if s == nil {
		return nil
	}
	return s.columns[name]
}

// Columns returns column names in insertion order.
func (s *Series) Columns() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Last returns the last value of a column, or Missing.
func (s *Series) Last(name string) float64 {
	vals := s.Column(name)
	if len(vals) == 0 {
		return Missing
	}
	return vals[len(vals)-1]
}

// At returns the value of a column at row i counted from the end
// (0 = last row), or Missing.
func (s *Series) At(name string, fromEnd int) float64 {
	vals := s.Column(name)
	i := len(vals) - 1 - fromEnd
	if i < 0 || i >= len(vals) {
		return Missing
	}
	return vals[i]
}

// LastDate returns the date of the last row, or the zero time.
func (s *Series) LastDate() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.dates[len(s.dates)-1]
}

// With returns a copy of the series with the named column set to vals.
// Existing column slices are shared with the receiver.
func (s *Series) With(name string, vals []float64) (*Series, error) {
	if len(vals) != s.Len() {
		return nil, fmt.Errorf("column %q: %w (%d != %d)", name, ErrLengthMismatch, len(vals), s.Len())
	}
	out := &Series{
		dates:   s.dates,
		columns: make(map[string][]float64, len(s.columns)+1),
		order:   make([]string, len(s.order), len(s.order)+1),
	}
	copy(out.order, s.order)
	for k, v := range s.columns {
		out.columns[k] = v
	}
	out.setColumn(name, vals)
	return out, nil
}

// WithColumns is With for several columns at once. Names are applied in
// the order given.
func (s *Series) WithColumns(names []string, cols map[string][]float64) (*Series, error) {
	out := s
	for _, name := range names {
		var err error
		out, err = out.With(name, cols[name])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IndexAtOrBefore returns the index of the latest row whose date is at or
// before t, or -1.
func (s *Series) IndexAtOrBefore(t time.Time) int {
	n := sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(t) })
	return n - 1
}
