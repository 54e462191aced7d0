package services

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// BacktestEngine validates VaR estimates against realised returns.
// p-values are reported as computed; no pass/fail decision is taken here.
type BacktestEngine struct {
	// ConfidenceLevel is the level the tested estimates were produced at
	ConfidenceLevel float64
	// UseThresholdSeries compares each day against the estimate's time-aligned
	// thresholds when the estimate carries them
	UseThresholdSeries bool
}

// NewBacktestEngine creates a backtest engine for the given confidence level
func NewBacktestEngine(confidence float64, useThresholdSeries bool) (*BacktestEngine, error) {
	if !risk.ValidConfidence(confidence) {
		return nil, risk.NewInvalidConfidenceError("backtest_engine", confidence)
	}
	return &BacktestEngine{
		ConfidenceLevel:    confidence,
		UseThresholdSeries: useThresholdSeries,
	}, nil
}

// Exceptions flags every day whose return fell below -VaR
func (b *BacktestEngine) Exceptions(returns risk.PortfolioReturn, estimate risk.VaREstimate) (risk.ExceptionSeries, error) {
	const op = "exceptions"
	if returns.Len() == 0 {
		return risk.ExceptionSeries{}, risk.NewEmptyInputError(op)
	}

	thresholds := []float64{estimate.PointEstimate}
	if b.UseThresholdSeries && len(estimate.Thresholds) > 0 {
		if len(estimate.Thresholds) != returns.Len() {
			return risk.ExceptionSeries{}, risk.NewDimensionMismatchError(op, "thresholds", returns.Len(), len(estimate.Thresholds))
		}
		thresholds = estimate.Thresholds
	}

	hits, err := ExceptionsAt(returns.Values(), thresholds)
	if err != nil {
		return risk.ExceptionSeries{}, err
	}

	confidence := estimate.ConfidenceLevel
	if !risk.ValidConfidence(confidence) {
		confidence = b.ConfidenceLevel
	}

	return risk.ExceptionSeries{
		Method:          estimate.Method,
		ConfidenceLevel: confidence,
		Hits:            hits,
	}, nil
}

// ExceptionsAt compares returns against a threshold sequence. A single threshold is
// applied to every day; otherwise the lengths must match.
func ExceptionsAt(returns []float64, thresholds []float64) ([]bool, error) {
	const op = "exceptions"
	if len(returns) == 0 {
		return nil, risk.NewEmptyInputError(op)
	}
	if len(thresholds) != 1 && len(thresholds) != len(returns) {
		return nil, risk.NewDimensionMismatchError(op, "thresholds", len(returns), len(thresholds))
	}

	hits := make([]bool, len(returns))
	for t, r := range returns {
		threshold := thresholds[0]
		if len(thresholds) > 1 {
			threshold = thresholds[t]
		}
		hits[t] = r < -threshold
	}
	return hits, nil
}

// Report runs exceptions, Kupiec and Christoffersen for one estimate
func (b *BacktestEngine) Report(returns risk.PortfolioReturn, estimate risk.VaREstimate) (risk.BacktestReport, risk.ExceptionSeries, error) {
	exceptions, err := b.Exceptions(returns, estimate)
	if err != nil {
		return risk.BacktestReport{}, risk.ExceptionSeries{}, err
	}

	kupiecStat, kupiecP, err := Kupiec(exceptions.Hits, exceptions.ConfidenceLevel)
	if err != nil {
		return risk.BacktestReport{}, risk.ExceptionSeries{}, err
	}
	christoffersenStat, christoffersenP := Christoffersen(exceptions.Hits)

	return risk.BacktestReport{
		Method:                  estimate.Method,
		Observations:            exceptions.Len(),
		ExceptionCount:          exceptions.Count(),
		ExceptionRate:           exceptions.Rate(),
		ExpectedRate:            exceptions.ExpectedRate(),
		KupiecStatistic:         kupiecStat,
		KupiecPValue:            kupiecP,
		ChristoffersenStatistic: christoffersenStat,
		ChristoffersenPValue:    christoffersenP,
	}, exceptions, nil
}

// Kupiec runs the proportion-of-failures likelihood ratio test on an exception sequence
func Kupiec(hits []bool, confidence float64) (statistic, pValue float64, err error) {
	x := 0
	for _, hit := range hits {
		if hit {
			x++
		}
	}
	return KupiecFromCounts(len(hits), x, confidence)
}

// KupiecFromCounts runs the proportion-of-failures test from n observations and x exceptions.
// The likelihood ratio uses 0*ln(0) = 0 so x = 0 and x = n are well defined.
func KupiecFromCounts(n, x int, confidence float64) (statistic, pValue float64, err error) {
	const op = "kupiec_test"
	if !risk.ValidConfidence(confidence) {
		return 0, 0, risk.NewInvalidConfidenceError(op, confidence)
	}
	if n < 0 || x < 0 || x > n {
		return 0, 0, risk.NewInvalidParameterError(op, "exception_count", x, "0 <= exceptions <= observations")
	}
	if n == 0 {
		return 0, 1, nil
	}

	p := 1 - confidence
	observed := float64(x) / float64(n)
	nf, xf := float64(n), float64(x)

	logNull := xlogy(nf-xf, 1-p) + xlogy(xf, p)
	logAlt := xlogy(nf-xf, 1-observed) + xlogy(xf, observed)

	statistic = clampStatistic(-2 * (logNull - logAlt))
	return statistic, chiSquaredSurvival(statistic, 1), nil
}

// Christoffersen runs the Markov independence test on an exception sequence
func Christoffersen(hits []bool) (statistic, pValue float64) {
	if len(hits) < 2 {
		return 0, 1
	}

	var n00, n01, n10, n11 float64
	for t := 1; t < len(hits); t++ {
		switch {
		case !hits[t-1] && !hits[t]:
			n00++
		case !hits[t-1] && hits[t]:
			n01++
		case hits[t-1] && !hits[t]:
			n10++
		default:
			n11++
		}
	}

	p0 := safeRatio(n01, n00+n01)
	p1 := safeRatio(n11, n10+n11)
	pooled := safeRatio(n01+n11, n00+n01+n10+n11)

	logNull := xlogy(n00+n10, 1-pooled) + xlogy(n01+n11, pooled)
	logAlt := xlogy(n00, 1-p0) + xlogy(n01, p0) + xlogy(n10, 1-p1) + xlogy(n11, p1)

	statistic = clampStatistic(-2 * (logNull - logAlt))
	return statistic, chiSquaredSurvival(statistic, 1)
}

// xlogy returns x*ln(y) with 0*ln(0) defined as 0
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// clampStatistic removes negative rounding noise from likelihood ratio statistics and
// caps an infinite ratio at math.MaxFloat64 so reports stay JSON encodable
func clampStatistic(s float64) float64 {
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	if math.IsInf(s, 1) {
		return math.MaxFloat64
	}
	return s
}

func chiSquaredSurvival(statistic float64, df float64) float64 {
	if statistic >= math.MaxFloat64 {
		return 0
	}
	return distuv.ChiSquared{K: df}.Survival(statistic)
}
