package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// Report is a rendering-ready view of one analysis run
type Report struct {
	GeneratedAt time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	Run         *risk.RunResult
	VaRRows     []VaRRow
	Backtests   []BacktestRow
}

// VaRRow is one line of the VaR table
type VaRRow struct {
	Method     risk.Method
	VaR        decimal.Decimal // fraction of portfolio value
	VaRPercent decimal.Decimal
	Volatility *decimal.Decimal
	TailSize   int
}

// BacktestRow is one line of the backtest table
type BacktestRow struct {
	Method               risk.Method
	Observations         int
	Exceptions           int
	ExceptionRate        decimal.Decimal
	ExpectedRate         decimal.Decimal
	KupiecStatistic      decimal.Decimal
	KupiecPValue         decimal.Decimal
	ChristoffersenStat   decimal.Decimal
	ChristoffersenPValue decimal.Decimal
}

const (
	varPlaces    = 6
	statPlaces   = 4
	pValuePlaces = 6
)

// Build creates the report of a run. Timestamps, when given, set the reported period.
func Build(run *risk.RunResult, timestamps []time.Time, now time.Time) *Report {
	r := &Report{
		GeneratedAt: now.UTC(),
		Run:         run,
	}
	if len(timestamps) > 0 {
		r.PeriodStart = timestamps[0]
		r.PeriodEnd = timestamps[len(timestamps)-1]
	}

	hundred := decimal.NewFromInt(100)
	for _, method := range run.Methods() {
		estimate := run.Estimates[method]
		value := decimal.NewFromFloat(estimate.PointEstimate)
		row := VaRRow{
			Method:     method,
			VaR:        value.Round(varPlaces),
			VaRPercent: value.Mul(hundred).Round(4),
			TailSize:   len(estimate.TailLosses),
		}
		if vol, ok := estimate.Diagnostics[risk.DiagVolatility]; ok {
			v := decimal.NewFromFloat(vol).Round(varPlaces)
			row.Volatility = &v
		}
		r.VaRRows = append(r.VaRRows, row)

		report, ok := run.Reports[method]
		if !ok {
			continue
		}
		r.Backtests = append(r.Backtests, BacktestRow{
			Method:               method,
			Observations:         report.Observations,
			Exceptions:           report.ExceptionCount,
			ExceptionRate:        decimal.NewFromFloat(report.ExceptionRate).Round(statPlaces),
			ExpectedRate:         decimal.NewFromFloat(report.ExpectedRate).Round(statPlaces),
			KupiecStatistic:      decimal.NewFromFloat(report.KupiecStatistic).Round(statPlaces),
			KupiecPValue:         decimal.NewFromFloat(report.KupiecPValue).Round(pValuePlaces),
			ChristoffersenStat:   decimal.NewFromFloat(report.ChristoffersenStatistic).Round(statPlaces),
			ChristoffersenPValue: decimal.NewFromFloat(report.ChristoffersenPValue).Round(pValuePlaces),
		})
	}

	return r
}

// ConfidencePercent renders the run confidence as a percentage
func (r *Report) ConfidencePercent() string {
	return decimal.NewFromFloat(r.Run.ConfidenceLevel).Mul(decimal.NewFromInt(100)).Round(2).String() + "%"
}
