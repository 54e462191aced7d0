package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	// Round-trip through JSON so the YAML keys match the JSON field names
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func formatFloat(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}

func writeEstimateTable(w io.Writer, run *risk.RunResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Confidence: %s\tObservations: %d\n\n", formatFloat(run.ConfidenceLevel, 4), run.Observations)
	fmt.Fprintln(tw, "METHOD\tVAR\tVOLATILITY\tTAIL")
	for _, method := range run.Methods() {
		estimate := run.Estimates[method]
		vol := "-"
		if v, ok := estimate.Diagnostic(risk.DiagVolatility); ok {
			vol = formatFloat(v, 6)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", method, formatFloat(estimate.PointEstimate, 6), vol, len(estimate.TailLosses))
	}
	writeFailures(tw, run)
	return tw.Flush()
}

func writeBacktestTable(w io.Writer, run *risk.RunResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tOBS\tEXCEPTIONS\tRATE\tEXPECTED\tKUPIEC LR\tKUPIEC P\tCHRIST LR\tCHRIST P")
	for _, method := range run.Methods() {
		report, ok := run.Reports[method]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			method,
			report.Observations,
			report.ExceptionCount,
			formatFloat(report.ExceptionRate, 4),
			formatFloat(report.ExpectedRate, 4),
			formatFloat(report.KupiecStatistic, 4),
			formatFloat(report.KupiecPValue, 6),
			formatFloat(report.ChristoffersenStatistic, 4),
			formatFloat(report.ChristoffersenPValue, 6),
		)
	}

	fmt.Fprintln(tw)
	switch {
	case run.Joint != nil:
		fmt.Fprintf(tw, "Hurlin-Tokpavi\tQ=%s\tdf=%d\tp=%s\n",
			formatFloat(run.Joint.Statistic, 4), run.Joint.DegreesOfFreedom, formatFloat(run.Joint.HurlinTokpaviPValue, 6))
	case run.JointError != "":
		fmt.Fprintf(tw, "Hurlin-Tokpavi\tnot computed: %s\n", run.JointError)
	}
	writeFailures(tw, run)
	return tw.Flush()
}

func writeOptimalTable(w io.Writer, run *risk.RunResult) error {
	if err := writeBacktestTable(w, run); err != nil {
		return err
	}
	if run.Selection == nil {
		return nil
	}

	chosen := run.Selection.Chosen()
	_, err := fmt.Fprintf(w, "\nOptimal method: %s (violation rate %s, VaR %s)\n",
		run.Selection.ChosenMethod, formatFloat(run.Selection.Score, 4), formatFloat(chosen.PointEstimate, 6))
	return err
}

func writeFailures(w io.Writer, run *risk.RunResult) {
	if len(run.Failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, method := range risk.AllMethods() {
		if reason, ok := run.Failures[method]; ok {
			fmt.Fprintf(w, "skipped %s\t%s\n", method, reason)
		}
	}
}
