package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	run := r.Run

	// Header
	sb.WriteString("# VaR Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run: `%s`\n\n", run.ID))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Assets | %s |\n", strings.Join(run.Assets, ", ")))
	if len(run.Weights) > 1 {
		weights := make([]string, len(run.Weights))
		for i, w := range run.Weights {
			weights[i] = decimal.NewFromFloat(w).Round(4).String()
		}
		sb.WriteString(fmt.Sprintf("| Weights | %s |\n", strings.Join(weights, ", ")))
	}
	if !r.PeriodStart.IsZero() {
		sb.WriteString(fmt.Sprintf("| Start Date | %s |\n", r.PeriodStart.Format("2006-01-02")))
		sb.WriteString(fmt.Sprintf("| End Date | %s |\n", r.PeriodEnd.Format("2006-01-02")))
	}
	sb.WriteString(fmt.Sprintf("| Observations | %d |\n", run.Observations))
	sb.WriteString(fmt.Sprintf("| Confidence Level | %s |\n", r.ConfidencePercent()))
	methods := make([]string, 0, len(run.Estimates))
	for _, m := range run.Methods() {
		methods = append(methods, string(m))
	}
	sb.WriteString(fmt.Sprintf("| Methods | %s |\n", strings.Join(methods, ", ")))
	sb.WriteString("\n")

	// VaR estimates
	sb.WriteString("## VaR Estimates\n\n")
	if len(r.VaRRows) > 0 {
		sb.WriteString("| Method | VaR | VaR (%) | Volatility | Tail Size |\n")
		sb.WriteString("|--------|-----|---------|------------|-----------|\n")
		for _, row := range r.VaRRows {
			vol := "-"
			if row.Volatility != nil {
				vol = row.Volatility.String()
			}
			tail := "-"
			if row.TailSize > 0 {
				tail = fmt.Sprintf("%d", row.TailSize)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				row.Method, row.VaR.StringFixed(varPlaces), row.VaRPercent.StringFixed(2), vol, tail))
		}
	} else {
		sb.WriteString("No estimates available.\n")
	}
	sb.WriteString("\n")

	// Backtests
	sb.WriteString("## Backtests\n\n")
	if len(r.Backtests) > 0 {
		sb.WriteString("| Method | Obs | Exceptions | Rate | Expected | Kupiec LR | Kupiec p | Christoffersen LR | Christoffersen p |\n")
		sb.WriteString("|--------|-----|------------|------|----------|-----------|----------|-------------------|------------------|\n")
		for _, b := range r.Backtests {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s | %s | %s | %s | %s | %s |\n",
				b.Method, b.Observations, b.Exceptions,
				b.ExceptionRate.StringFixed(statPlaces), b.ExpectedRate.StringFixed(statPlaces),
				b.KupiecStatistic.StringFixed(statPlaces), b.KupiecPValue.StringFixed(pValuePlaces),
				b.ChristoffersenStat.StringFixed(statPlaces), b.ChristoffersenPValue.StringFixed(pValuePlaces)))
		}
	} else {
		sb.WriteString("No backtests available.\n")
	}
	sb.WriteString("\n")

	// Joint test
	sb.WriteString("## Joint Backtest (Hurlin-Tokpavi)\n\n")
	if run.Joint != nil {
		j := run.Joint
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Series | %d |\n", len(j.Methods)))
		sb.WriteString(fmt.Sprintf("| Observations | %d |\n", j.Observations))
		sb.WriteString(fmt.Sprintf("| Max Lag | %d |\n", j.MaxLag))
		sb.WriteString(fmt.Sprintf("| Statistic | %s |\n", decimal.NewFromFloat(j.Statistic).StringFixed(statPlaces)))
		sb.WriteString(fmt.Sprintf("| Degrees of Freedom | %d |\n", j.DegreesOfFreedom))
		sb.WriteString(fmt.Sprintf("| p-value | %s |\n", decimal.NewFromFloat(j.HurlinTokpaviPValue).StringFixed(pValuePlaces)))
	} else if run.JointError != "" {
		sb.WriteString(fmt.Sprintf("Not computed: %s\n", run.JointError))
	} else {
		sb.WriteString("Not computed.\n")
	}
	sb.WriteString("\n")

	// Selection
	if run.Selection != nil {
		sb.WriteString("## Optimal Method\n\n")
		sb.WriteString(fmt.Sprintf("**%s** with an observed violation rate of %s.\n\n",
			run.Selection.ChosenMethod, decimal.NewFromFloat(run.Selection.Score).StringFixed(statPlaces)))
	}

	// Failures
	if len(run.Failures) > 0 {
		sb.WriteString("## Skipped Methods\n\n")
		failed := make([]risk.Method, 0, len(run.Failures))
		for m := range run.Failures {
			failed = append(failed, m)
		}
		sort.Slice(failed, func(i, j int) bool {
			return failed[i].Priority() < failed[j].Priority()
		})
		for _, m := range failed {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", m, run.Failures[m]))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
