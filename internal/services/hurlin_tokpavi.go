package services

import (
	"github.com/victoralfred/varlab/internal/domain/risk"
)

const (
	// portmanteauMaxLag caps the number of autocorrelation lags in the joint test
	portmanteauMaxLag = 10
	// portmanteauObsPerLag is the number of observations required per lag
	portmanteauObsPerLag = 5
)

// HurlinTokpavi runs the joint Portmanteau test over several exception series of equal
// length. Each series is centred by its own expected rate 1-c, the lag-k
// autocorrelations are pooled across series and combined in a Ljung-Box statistic
// compared against chi-squared with max_lag degrees of freedom.
func HurlinTokpavi(series []risk.ExceptionSeries) (risk.JointBacktestReport, error) {
	const op = "hurlin_tokpavi_test"
	if len(series) == 0 {
		return risk.JointBacktestReport{}, risk.NewEmptyInputError(op)
	}

	n := series[0].Len()
	for _, s := range series[1:] {
		if s.Len() != n {
			return risk.JointBacktestReport{}, risk.NewDimensionMismatchError(op, "exception_series", n, s.Len()).
				WithDetails("method", string(s.Method))
		}
	}
	if n == 0 {
		return risk.JointBacktestReport{}, risk.NewEmptyInputError(op)
	}
	for _, s := range series {
		if !risk.ValidConfidence(s.ConfidenceLevel) {
			return risk.JointBacktestReport{}, risk.NewInvalidConfidenceError(op, s.ConfidenceLevel)
		}
	}

	maxLag := n / portmanteauObsPerLag
	if maxLag > portmanteauMaxLag {
		maxLag = portmanteauMaxLag
	}
	if maxLag < 1 || n < portmanteauObsPerLag*maxLag {
		return risk.JointBacktestReport{}, risk.NewInsufficientSampleError(op, portmanteauObsPerLag, n).
			WithDetails("max_lag", maxLag)
	}

	centred := make([][]float64, len(series))
	methods := make([]risk.Method, len(series))
	levels := make([]float64, len(series))
	for i, s := range series {
		expected := s.ExpectedRate()
		row := make([]float64, n)
		for t, hit := range s.Hits {
			if hit {
				row[t] = 1 - expected
			} else {
				row[t] = -expected
			}
		}
		centred[i] = row
		methods[i] = s.Method
		levels[i] = s.ConfidenceLevel
	}

	report := risk.JointBacktestReport{
		Methods:             methods,
		ConfidenceLevels:    levels,
		Observations:        n,
		MaxLag:              maxLag,
		DegreesOfFreedom:    maxLag,
		HurlinTokpaviPValue: 1,
		Autocorrelations:    make([]float64, maxLag),
	}

	variance := 0.0
	for _, row := range centred {
		for _, v := range row {
			variance += v * v
		}
	}
	if variance == 0 {
		return report, nil
	}

	nf := float64(n)
	q := 0.0
	for k := 1; k <= maxLag; k++ {
		cov := 0.0
		for _, row := range centred {
			for t := k; t < n; t++ {
				cov += row[t] * row[t-k]
			}
		}
		rho := cov / variance
		report.Autocorrelations[k-1] = rho
		q += rho * rho / (nf - float64(k))
	}
	q *= nf * (nf + 2)

	report.Statistic = clampStatistic(q)
	report.HurlinTokpaviPValue = chiSquaredSurvival(report.Statistic, float64(maxLag))
	return report, nil
}
