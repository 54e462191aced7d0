package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the varctl command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &analysisOptions{}

	rootCmd := &cobra.Command{
		Use:   "varctl",
		Short: "Value-at-Risk estimation and backtesting",
		Long: `varctl estimates portfolio Value-at-Risk with seven methods, backtests
every estimate with the Kupiec and Christoffersen tests, runs the joint
Hurlin-Tokpavi test and picks the method with the fewest violations.

Input is a CSV file with a date column followed by one column per asset.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("VARLAB_CONFIG"), "Path to the YAML config file")
	flags.StringVarP(&opts.input, "input", "i", "", "CSV file with prices or returns")
	flags.StringVar(&opts.kind, "kind", "prices", "Column kind: prices or returns")
	flags.StringSliceVar(&opts.assets, "assets", nil, "Asset columns to read (default: all)")
	flags.Float64SliceVar(&opts.weights, "weights", nil, "Portfolio weights, one per asset (default: equal)")
	flags.Float64VarP(&opts.confidence, "confidence", "c", 0, "Confidence level as a fraction or percentage (default from config)")
	flags.StringSliceVarP(&opts.methods, "methods", "m", nil, "Methods to run (default: all)")
	flags.Float64SliceVar(&opts.jointTiers, "joint-tiers", nil, "Confidence levels stacked into the joint test")
	flags.StringVarP(&opts.format, "format", "f", "table", "Output format")
	flags.StringVarP(&opts.out, "out", "o", "", "Output file (default: stdout)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	rootCmd.AddCommand(
		newMethodsCmd(),
		newEstimateCmd(opts),
		newBacktestCmd(opts),
		newOptimalCmd(opts),
		newReportCmd(opts),
		newReturnsCmd(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
