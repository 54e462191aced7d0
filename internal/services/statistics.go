package services

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// quantileEpsilon absorbs binary floating error in (1-c)*n, e.g. (1-0.9)*10 = 0.9999999999999998
const quantileEpsilon = 1e-9

// sampleMoments holds the descriptive statistics shared by the estimators
type sampleMoments struct {
	n        int
	mean     float64
	stdDev   float64
	skewness float64
	kurtosis float64
}

// describe computes mean, sample standard deviation (n-1), bias-corrected skewness and
// bias-corrected excess kurtosis. Higher moments are zero when they are undefined.
func describe(values []float64) sampleMoments {
	m := sampleMoments{n: len(values)}
	if m.n == 0 {
		return m
	}
	if m.n == 1 {
		m.mean = values[0]
		return m
	}

	m.mean, m.stdDev = stat.MeanStdDev(values, nil)
	if m.stdDev == 0 || math.IsNaN(m.stdDev) {
		m.stdDev = 0
		return m
	}

	if m.n >= 3 {
		m.skewness = stat.Skew(values, nil)
	}
	if m.n >= 4 {
		m.kurtosis = stat.ExKurtosis(values, nil)
	}
	return m
}

// sortedCopy returns an ascending copy of values; the input is left untouched
func sortedCopy(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted
}

// quantileIndex returns floor((1-c)*n) into an ascending sample of size n
func quantileIndex(n int, confidence float64) int {
	idx := int(math.Floor((1-confidence)*float64(n) + quantileEpsilon))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// empiricalZ returns the magnitude of the empirical quantile value used as the
// distribution-free multiplier by every parametric method
func empiricalZ(sorted []float64, confidence float64) (float64, int) {
	idx := quantileIndex(len(sorted), confidence)
	return math.Abs(sorted[idx]), idx
}

// sampleVariance returns the n-1 variance, zero for fewer than two observations
func sampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	v := stat.Variance(values, nil)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// tailMean returns the mean of the k smallest values of an ascending sample
func tailMean(sorted []float64, k int) float64 {
	return floats.Sum(sorted[:k]) / float64(k)
}

// validateEstimateInput performs the checks every estimator shares
func validateEstimateInput(operation string, returns risk.PortfolioReturn, confidence float64) ([]float64, error) {
	if returns.Len() == 0 {
		return nil, risk.NewEmptyInputError(operation)
	}
	if !risk.ValidConfidence(confidence) {
		return nil, risk.NewInvalidConfidenceError(operation, confidence)
	}

	values := returns.Values()
	if floats.HasNaN(values) {
		return nil, risk.NewInvalidParameterError(operation, "returns", "NaN", "returns must not contain NaN")
	}
	for _, v := range values {
		if math.IsInf(v, 0) {
			return nil, risk.NewInvalidParameterError(operation, "returns", v, "returns must be finite")
		}
	}
	return values, nil
}
