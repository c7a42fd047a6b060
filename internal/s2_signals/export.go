package s2_signals

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// signalCSVRow is one exported signal line; missing values are blank
type signalCSVRow struct {
	Date          string `csv:"date"`
	AssetID       string `csv:"asset_id"`
	Return        string `csv:"return"`
	SpecificRisk  string `csv:"specific_risk"`
	PredictedBeta string `csv:"predicted_beta"`
	Momentum      string `csv:"momentum"`
	Score         string `csv:"score"`
	Alpha         string `csv:"alpha"`
}

// WriteCSV writes signals in their given order
func WriteCSV(w io.Writer, signals []contracts.SignalRecord) error {
	rows := make([]*signalCSVRow, len(signals))
	for i, s := range signals {
		rows[i] = &signalCSVRow{
			Date:          s.Date.Format(time.DateOnly),
			AssetID:       s.AssetID,
			Return:        formatNullable(s.Return),
			SpecificRisk:  formatNullable(s.SpecificRisk),
			PredictedBeta: formatNullable(s.PredictedBeta),
			Momentum:      formatNullable(s.Momentum),
			Score:         formatNullable(s.Score),
			Alpha:         formatNullable(s.Alpha),
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write signals csv: %w", err)
	}
	return nil
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
