package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RenderCSV renders the VaR and backtest tables as one CSV string, one row per method.
func RenderCSV(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("method,confidence_level,var,var_percent,observations,exceptions,exception_rate,expected_rate,")
	sb.WriteString("kupiec_statistic,kupiec_p_value,christoffersen_statistic,christoffersen_p_value\n")

	backtests := make(map[string]BacktestRow, len(r.Backtests))
	for _, b := range r.Backtests {
		backtests[string(b.Method)] = b
	}

	confidence := decimal.NewFromFloat(r.Run.ConfidenceLevel).String()
	for _, row := range r.VaRRows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s", row.Method, confidence, row.VaR.StringFixed(varPlaces), row.VaRPercent.StringFixed(2)))
		if b, ok := backtests[string(row.Method)]; ok {
			sb.WriteString(fmt.Sprintf(",%d,%d,%s,%s,%s,%s,%s,%s\n",
				b.Observations,
				b.Exceptions,
				b.ExceptionRate.StringFixed(statPlaces),
				b.ExpectedRate.StringFixed(statPlaces),
				b.KupiecStatistic.StringFixed(statPlaces),
				b.KupiecPValue.StringFixed(pValuePlaces),
				b.ChristoffersenStat.StringFixed(statPlaces),
				b.ChristoffersenPValue.StringFixed(pValuePlaces),
			))
		} else {
			sb.WriteString(",,,,,,,,\n")
		}
	}

	return sb.String()
}

// RenderReturnsCSV renders the portfolio return series; timestamps may be empty
func RenderReturnsCSV(timestamps []time.Time, values []float64) string {
	var sb strings.Builder

	sb.WriteString("index,date,return\n")
	for i, v := range values {
		date := ""
		if i < len(timestamps) {
			date = timestamps[i].Format("2006-01-02")
		}
		sb.WriteString(fmt.Sprintf("%d,%s,%s\n", i, date, decimal.NewFromFloat(v).StringFixed(varPlaces)))
	}

	return sb.String()
}
