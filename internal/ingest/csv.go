// Package ingest parses price history files for loading into the series store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"trading-scanner/internal/model"
)

// ErrNoDateColumn is returned for a price file without a "date" header.
var ErrNoDateColumn = errors.New("price file has no date column")

// knownColumns are the series columns a price file may carry.
var knownColumns = map[string]bool{
	model.ColOpen:   true,
	model.ColHigh:   true,
	model.ColLow:    true,
	model.ColClose:  true,
	model.ColVolume: true,
	model.ColNAV:    true,
}

// ReadSeries parses a CSV price file. The header names the columns: "date"
// (YYYY-MM-DD) is required, and any of open, high, low, close, volume and nav
// may follow in any order. Other columns are ignored. Empty cells are missing
// values.
func ReadSeries(r io.Reader) (*model.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	dateIdx := -1
	colIdx := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case name == "date":
			dateIdx = i
		case knownColumns[name]:
			colIdx[name] = i
		}
	}
	if dateIdx < 0 {
		return nil, ErrNoDateColumn
	}

	var dates []time.Time
	cols := make(map[string][]float64, len(colIdx))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		d, err := time.Parse(model.DateLayout, strings.TrimSpace(rec[dateIdx]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad date: %w", line, err)
		}
		dates = append(dates, d)
		for name, i := range colIdx {
			v, err := parseValue(rec[i])
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			cols[name] = append(cols[name], v)
		}
	}
	return model.FromColumns(dates, cols)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// ReadInstruments parses an instrument list with the header
// "id,name,asset_class". A missing asset class uses defaultClass.
func ReadInstruments(r io.Reader, defaultClass string) ([]model.Instrument, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	var out []model.Instrument
	for i, row := range rows {
		if i == 0 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "id") {
			continue
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		in := model.Instrument{ID: strings.TrimSpace(row[0]), AssetClass: defaultClass}
		if len(row) > 1 {
			in.Name = strings.TrimSpace(row[1])
		}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			in.AssetClass = strings.ToLower(strings.TrimSpace(row[2]))
		}
		out = append(out, in)
	}
	return out, nil
}
