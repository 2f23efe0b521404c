package ingest

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-scanner/internal/model"
)

func TestReadSeries(t *testing.T) {
	in := `Date,Close,Volume,Ignored
2024-01-03,101.5,"1,200",x
2024-01-02,100,,y
2024-01-04,,900,z
`
	s, err := ReadSeries(strings.NewReader(in))
	require.NoError(t, err)

	require.Equal(t, 3, s.Len())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s.Dates()[0], "rows are sorted by date")
	assert.True(t, s.Has(model.ColClose))
	assert.True(t, s.Has(model.ColVolume))
	assert.False(t, s.Has("ignored"))

	closes := s.Column(model.ColClose)
	assert.Equal(t, 100.0, closes[0])
	assert.Equal(t, 101.5, closes[1])
	assert.True(t, math.IsNaN(closes[2]))
	assert.Equal(t, 1200.0, s.Column(model.ColVolume)[1])
	assert.True(t, math.IsNaN(s.Column(model.ColVolume)[0]))
}

func TestReadSeries_Errors(t *testing.T) {
	tests := []struct {
		name, in string
	}{
		{"no date column", "close\n1\n"},
		{"bad date", "date,close\n01/02/2024,1\n"},
		{"bad number", "date,close\n2024-01-02,abc\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSeries(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
	_, err := ReadSeries(strings.NewReader("close\n1\n"))
	assert.ErrorIs(t, err, ErrNoDateColumn)
}

func TestReadInstruments(t *testing.T) {
	in := `id,name,asset_class
AAPL,Apple Inc,stock
000001,Growth Fund,
MSFT
`
	got, err := ReadInstruments(strings.NewReader(in), "fund")
	require.NoError(t, err)
	assert.Equal(t, []model.Instrument{
		{ID: "AAPL", Name: "Apple Inc", AssetClass: "stock"},
		{ID: "000001", Name: "Growth Fund", AssetClass: "fund"},
		{ID: "MSFT", AssetClass: "fund"},
	}, got)
}
