package model

import "time"

// Observation is a single dated price reading for one instrument.
// Optional fields hold Missing (NaN) when the source has no value. A zero
// is a real reading, so a literal that sets only Date and Close yields zero
// open/high/low/volume columns; use PriceObservation for close-only data.
type Observation struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"` // price, or NAV for funds
	Volume float64   `json:"volume"`
}

// PriceObservation returns an observation carrying only a closing price.
func PriceObservation(date time.Time, price float64) Observation {
	return Observation{
		Date:   date,
		Open:   Missing,
		High:   Missing,
		Low:    Missing,
		Close:  price,
		Volume: Missing,
	}
}

// Instrument identifies a tradable entity (fund code or stock symbol).
type Instrument struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AssetClass string `json:"asset_class"` // "fund" or "stock"
}
