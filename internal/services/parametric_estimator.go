package services

import (
	"context"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// ParametricEstimator implements the variance-covariance method
type ParametricEstimator struct{}

// NewParametricEstimator creates a variance-covariance estimator
func NewParametricEstimator() *ParametricEstimator {
	return &ParametricEstimator{}
}

// Method returns the method identifier
func (e *ParametricEstimator) Method() risk.Method {
	return risk.MethodParametric
}

// Estimate returns z*sigma - mu where z is the magnitude of the empirical quantile
func (e *ParametricEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "parametric_var"
	if err := checkContext(ctx, op); err != nil {
		return risk.VaREstimate{}, err
	}
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	z, _ := empiricalZ(sortedCopy(values), confidence)
	m := describe(values)

	return risk.VaREstimate{
		Method:          risk.MethodParametric,
		ConfidenceLevel: confidence,
		PointEstimate:   z*m.stdDev - m.mean,
		Diagnostics: map[string]float64{
			risk.DiagZScore: z,
			risk.DiagMean:   m.mean,
			risk.DiagStdDev: m.stdDev,
		},
	}, nil
}
