package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/reporting"
)

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the supported VaR methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range risk.AllMethods() {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func newEstimateCmd(opts *analysisOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Estimate VaR with each selected method",
		Long: `Estimate the one-day VaR of the portfolio with each selected method.

Examples:
  varctl estimate -i prices.csv
  varctl estimate -i returns.csv --kind returns -c 99 -m historical,garch
  varctl estimate -i prices.csv --assets SPY,TLT --weights 0.6,0.4 -f json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateFormat("table", "json", "yaml"); err != nil {
				return err
			}
			a, err := opts.run(cmd.Context(), false)
			if err != nil {
				return err
			}
			return opts.withOutput(cmd.OutOrStdout(), func(w io.Writer) error {
				switch opts.format {
				case "json":
					return writeJSON(w, a.Result.Estimates)
				case "yaml":
					return writeYAML(w, a.Result.Estimates)
				default:
					return writeEstimateTable(w, a.Result)
				}
			})
		},
	}
}

func newBacktestCmd(opts *analysisOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backtest",
		Short: "Backtest each method with the Kupiec, Christoffersen and Hurlin-Tokpavi tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateFormat("table", "json", "yaml"); err != nil {
				return err
			}
			a, err := opts.run(cmd.Context(), false)
			if err != nil {
				return err
			}
			payload := map[string]interface{}{
				"reports": a.Result.Reports,
				"joint":   a.Result.Joint,
			}
			return opts.withOutput(cmd.OutOrStdout(), func(w io.Writer) error {
				switch opts.format {
				case "json":
					return writeJSON(w, payload)
				case "yaml":
					return writeYAML(w, payload)
				default:
					return writeBacktestTable(w, a.Result)
				}
			})
		},
	}
}

func newOptimalCmd(opts *analysisOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimal",
		Short: "Pick the method with the lowest violation rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateFormat("table", "json", "yaml"); err != nil {
				return err
			}
			a, err := opts.run(cmd.Context(), true)
			if err != nil {
				return err
			}
			return opts.withOutput(cmd.OutOrStdout(), func(w io.Writer) error {
				switch opts.format {
				case "json":
					return writeJSON(w, a.Result)
				case "yaml":
					return writeYAML(w, a.Result)
				default:
					return writeOptimalTable(w, a.Result)
				}
			})
		},
	}
}

func newReportCmd(opts *analysisOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run the full analysis and render a markdown or CSV report",
		Long: `Run every selected method, the backtests and the optimal selection,
then render the result as a markdown document or a CSV table.

Examples:
  varctl report -i prices.csv -f markdown -o report.md
  varctl report -i prices.csv -f csv -o report.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.format == "table" {
				opts.format = "markdown"
			}
			if err := opts.validateFormat("markdown", "csv", "json"); err != nil {
				return err
			}
			a, err := opts.run(cmd.Context(), true)
			if err != nil {
				return err
			}
			report := reporting.Build(a.Result, a.Portfolio.Timestamps(), time.Now())
			return opts.withOutput(cmd.OutOrStdout(), func(w io.Writer) error {
				switch opts.format {
				case "csv":
					_, err := io.WriteString(w, reporting.RenderCSV(report))
					return err
				case "json":
					return writeJSON(w, report)
				default:
					_, err := io.WriteString(w, reporting.RenderMarkdown(report))
					return err
				}
			})
		},
	}
}

func newReturnsCmd(opts *analysisOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "returns",
		Short: "Write the aggregated portfolio return series as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			portfolio, _, err := opts.portfolio()
			if err != nil {
				return err
			}
			return opts.withOutput(cmd.OutOrStdout(), func(w io.Writer) error {
				_, err := io.WriteString(w, reporting.RenderReturnsCSV(portfolio.Timestamps(), portfolio.Values()))
				return err
			})
		},
	}
}
