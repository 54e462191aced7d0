package services

import (
	"context"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// HistoricalEstimator reads VaR directly off the empirical return distribution
type HistoricalEstimator struct{}

// NewHistoricalEstimator creates a historical simulation estimator
func NewHistoricalEstimator() *HistoricalEstimator {
	return &HistoricalEstimator{}
}

// Method returns the method identifier
func (e *HistoricalEstimator) Method() risk.Method {
	return risk.MethodHistorical
}

// Estimate returns the negated empirical (1-c) quantile of the returns
func (e *HistoricalEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "historical_var"
	if err := checkContext(ctx, op); err != nil {
		return risk.VaREstimate{}, err
	}
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	sorted := sortedCopy(values)
	z, idx := empiricalZ(sorted, confidence)

	return risk.VaREstimate{
		Method:          risk.MethodHistorical,
		ConfidenceLevel: confidence,
		PointEstimate:   0 - sorted[idx],
		Diagnostics: map[string]float64{
			risk.DiagZScore:   z,
			risk.DiagTailSize: float64(idx),
		},
	}, nil
}
