package backtest

import (
	"sort"
	"time"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// Exclusion reasons recorded in Universe.Excluded
const (
	ReasonMissingBeta = "missing predicted beta"
	ReasonMissingRisk = "missing specific risk"
)

// BuildUniverse assembles one date's optimization input from its signal rows.
// Rows without alpha are ignored and rows without specific risk are excluded
// and reported. Rows without beta are excluded only when needBetas is set;
// otherwise they stay and the betas series is left out of Aux, so a beta reader
// that was not declared fails with a ConfigurationError. Asset order is
// ascending asset_id.
func BuildUniverse(date time.Time, rows []contracts.SignalRecord, needBetas bool) *contracts.Universe {
	sorted := make([]contracts.SignalRecord, 0, len(rows))
	for _, r := range rows {
		if r.Alpha != nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AssetID < sorted[j].AssetID })

	u := &contracts.Universe{
		Date:         date,
		AssetIDs:     make([]string, 0, len(sorted)),
		Alphas:       make([]float64, 0, len(sorted)),
		SpecificRisk: make([]float64, 0, len(sorted)),
		Betas:        make([]float64, 0, len(sorted)),
		Excluded:     make(map[string]string),
	}

	sectors := make([]float64, 0, len(sorted))
	allSectors, allBetas := true, true
	for _, r := range sorted {
		switch {
		case r.PredictedBeta == nil && needBetas:
			u.Excluded[r.AssetID] = ReasonMissingBeta
			continue
		case r.SpecificRisk == nil:
			u.Excluded[r.AssetID] = ReasonMissingRisk
			continue
		}
		u.AssetIDs = append(u.AssetIDs, r.AssetID)
		u.Alphas = append(u.Alphas, *r.Alpha)
		u.SpecificRisk = append(u.SpecificRisk, *r.SpecificRisk)
		if r.PredictedBeta != nil {
			u.Betas = append(u.Betas, *r.PredictedBeta)
		} else {
			allBetas = false
		}
		if r.SectorID != nil {
			sectors = append(sectors, float64(*r.SectorID))
		} else {
			allSectors = false
		}
	}

	u.Aux = map[string][]float64{
		contracts.AuxSpecificRisk: u.SpecificRisk,
	}
	if allBetas {
		u.Aux[contracts.AuxBetas] = u.Betas
	} else {
		u.Betas = nil
	}
	if allSectors && len(sectors) > 0 {
		u.Aux[contracts.AuxSectors] = sectors
	}
	return u
}

// partitionByDate groups rows by calendar date, returning dates in ascending order
func partitionByDate(signals []contracts.SignalRecord) ([]time.Time, map[string][]contracts.SignalRecord) {
	groups := make(map[string][]contracts.SignalRecord)
	dates := make([]time.Time, 0)
	for _, s := range signals {
		key := s.Date.Format(time.DateOnly)
		if _, ok := groups[key]; !ok {
			dates = append(dates, s.Date)
		}
		groups[key] = append(groups[key], s)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, groups
}
