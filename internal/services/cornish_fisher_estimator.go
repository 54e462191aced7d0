package services

import (
	"context"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// cornishFisherMinObservations is the smallest sample with a defined excess kurtosis
const cornishFisherMinObservations = 4

// CornishFisherEstimator adjusts the parametric quantile for skewness and excess kurtosis
type CornishFisherEstimator struct{}

// NewCornishFisherEstimator creates a Cornish-Fisher estimator
func NewCornishFisherEstimator() *CornishFisherEstimator {
	return &CornishFisherEstimator{}
}

// Method returns the method identifier
func (e *CornishFisherEstimator) Method() risk.Method {
	return risk.MethodCornishFisher
}

// Estimate returns z_adj*sigma - mu
func (e *CornishFisherEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "cornish_fisher_var"
	if err := checkContext(ctx, op); err != nil {
		return risk.VaREstimate{}, err
	}
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}
	if len(values) < cornishFisherMinObservations {
		return risk.VaREstimate{}, risk.NewInsufficientSampleError(op, cornishFisherMinObservations, len(values))
	}

	z, _ := empiricalZ(sortedCopy(values), confidence)
	m := describe(values)
	zAdj := CornishFisherZ(z, m.skewness, m.kurtosis)

	return risk.VaREstimate{
		Method:          risk.MethodCornishFisher,
		ConfidenceLevel: confidence,
		PointEstimate:   zAdj*m.stdDev - m.mean,
		Diagnostics: map[string]float64{
			risk.DiagZScore:    z,
			risk.DiagMean:      m.mean,
			risk.DiagStdDev:    m.stdDev,
			risk.DiagSkewness:  m.skewness,
			risk.DiagKurtosis:  m.kurtosis,
			risk.DiagAdjustedZ: zAdj,
		},
	}, nil
}

// CornishFisherZ expands z for skewness s and excess kurtosis k
func CornishFisherZ(z, s, k float64) float64 {
	z2 := z * z
	z3 := z2 * z
	return z +
		(z2-1)*s/6 +
		(z3-3*z)*k/24 -
		(2*z3-5*z)*s*s/36
}
