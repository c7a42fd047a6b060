package contracts

import "time"

// Aux data keys consumed by constraints
const (
	AuxBetas        = "betas"
	AuxSpecificRisk = "specific_risk"
	AuxSectors      = "sector_ids"
)

// Universe is the exact input of one date's optimization
// ⭐ SSOT: 날짜별 최적화 입력 (자산 순서 = 결정변수 순서)
// All slices are aligned with AssetIDs, which is sorted ascending.
type Universe struct {
	Date         time.Time            `json:"date"`
	AssetIDs     []string             `json:"asset_ids"`
	Alphas       []float64            `json:"alphas"`
	SpecificRisk []float64            `json:"specific_risk"`
	Betas        []float64            `json:"betas"`
	Aux          map[string][]float64 `json:"aux"`
	Excluded     map[string]string    `json:"excluded"` // asset_id: reason
}

// Count returns the number of optimizable assets
func (u *Universe) Count() int {
	return len(u.AssetIDs)
}
