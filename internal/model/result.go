package model

import (
	"encoding/json"
	"time"
)

// Recommendation is the action derived from a total score.
type Recommendation string

const (
	RecommendBuy  Recommendation = "buy"
	RecommendSell Recommendation = "sell"
	RecommendHold Recommendation = "hold"
)

// Suggestion is the recommendation plus the ordered reasoning behind it.
type Suggestion struct {
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons"`
}

// ComponentScore is one indicator's share of the total score.
type ComponentScore struct {
	Raw          float64 `json:"raw"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// IndicatorDetail is the audit trail of one indicator for one instrument.
type IndicatorDetail struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Values      map[string]float64 `json:"values"`
	Calculation []string           `json:"calculation"`
}

// ScanResult is the outcome of scanning one instrument. It is created once
// per instrument per scan and not modified afterwards.
type ScanResult struct {
	InstrumentID string                    `json:"instrument_id"`
	LastDate     time.Time                 `json:"last_date"`
	LastValue    float64                   `json:"last_value"`
	Suggestion   Suggestion                `json:"suggestion"`
	Score        float64                   `json:"score"`
	Snapshot     map[string]float64        `json:"snapshot"`
	Components   map[string]ComponentScore `json:"components"`
	Details      []IndicatorDetail         `json:"indicator_details"`
	ScannedAt    time.Time                 `json:"scanned_at"`
}

// ResultRecord is the flat, transport-safe form of a ScanResult.
// Every float is a pointer; non-finite values become nil (JSON null).
type ResultRecord struct {
	InstrumentID   string                     `json:"instrument_id"`
	LastDate       string                     `json:"last_date"`
	LastValue      *float64                   `json:"last_value"`
	Recommendation string                     `json:"recommendation"`
	Reasons        []string                   `json:"reasons"`
	Score          *float64                   `json:"score"`
	Snapshot       map[string]*float64        `json:"snapshot"`
	Components     map[string]ComponentRecord `json:"components"`
	Details        []DetailRecord             `json:"indicator_details"`
	ScannedAt      string                     `json:"scanned_at"`
}

// ComponentRecord is the transport-safe form of ComponentScore.
type ComponentRecord struct {
	Raw          *float64 `json:"raw"`
	Weight       *float64 `json:"weight"`
	Contribution *float64 `json:"contribution"`
}

// DetailRecord is the transport-safe form of IndicatorDetail.
type DetailRecord struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Values      map[string]*float64 `json:"values"`
	Calculation []string            `json:"calculation"`
}

// DateLayout is the date format used in records.
const DateLayout = "2006-01-02"

// Finite returns a pointer to v, or nil when v is NaN or ±Inf.
func Finite(v float64) *float64 {
	if IsMissing(v) {
		return nil
	}
	return &v
}

func finiteMap(m map[string]float64) map[string]*float64 {
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		out[k] = Finite(v)
	}
	return out
}

// Record converts the result into its transport-safe form.
func (r *ScanResult) Record() ResultRecord {
	rec := ResultRecord{
		InstrumentID:   r.InstrumentID,
		LastValue:      Finite(r.LastValue),
		Recommendation: string(r.Suggestion.Recommendation),
		Reasons:        append([]string(nil), r.Suggestion.Reasons...),
		Score:          Finite(r.Score),
		Snapshot:       finiteMap(r.Snapshot),
		Components:     make(map[string]ComponentRecord, len(r.Components)),
		Details:        make([]DetailRecord, 0, len(r.Details)),
	}
	if !r.LastDate.IsZero() {
		rec.LastDate = r.LastDate.Format(DateLayout)
	}
	if !r.ScannedAt.IsZero() {
		rec.ScannedAt = r.ScannedAt.UTC().Format(time.RFC3339)
	}
	for id, c := range r.Components {
		rec.Components[id] = ComponentRecord{
			Raw:          Finite(c.Raw),
			Weight:       Finite(c.Weight),
			Contribution: Finite(c.Contribution),
		}
	}
	for _, d := range r.Details {
		rec.Details = append(rec.Details, DetailRecord{
			ID:          d.ID,
			Name:        d.Name,
			Values:      finiteMap(d.Values),
			Calculation: append([]string(nil), d.Calculation...),
		})
	}
	return rec
}

// JSON returns the JSON-encoded transport record.
func (r *ScanResult) JSON() ([]byte, error) {
	return json.Marshal(r.Record())
}

// Records converts a slice of results preserving order.
func Records(results []ScanResult) []ResultRecord {
	out := make([]ResultRecord, len(results))
	for i := range results {
		out[i] = results[i].Record()
	}
	return out
}
