package contracts

import "time"

// SignalRecord is the per (asset, date) output of the signal pipeline
// ⭐ SSOT: S2 → 백테스트 시그널 데이터 전달
// Momentum, Score and Alpha are nil where undefined; never NaN.
type SignalRecord struct {
	AssetID       string    `json:"asset_id"`
	Date          time.Time `json:"date"`
	Price         *float64  `json:"price"`
	Return        *float64  `json:"return"`        // fraction
	SpecificRisk  *float64  `json:"specific_risk"` // fraction
	PredictedBeta *float64  `json:"predicted_beta"`
	SectorID      *int64    `json:"sector_id,omitempty"`
	Momentum      *float64  `json:"momentum"`
	Score         *float64  `json:"score"`
	Alpha         *float64  `json:"alpha"`
}

// HasAlpha reports whether the row can enter an optimization
func (s *SignalRecord) HasAlpha() bool {
	return s.Alpha != nil
}

// FilterAlpha keeps only rows with a defined alpha
func FilterAlpha(signals []SignalRecord) []SignalRecord {
	out := make([]SignalRecord, 0, len(signals))
	for _, s := range signals {
		if s.HasAlpha() {
			out = append(out, s)
		}
	}
	return out
}
