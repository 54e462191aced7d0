package services

import (
	"context"
	"math"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// TVEEstimator estimates VaR as the average loss beyond the empirical quantile
type TVEEstimator struct{}

// NewTVEEstimator creates a tail value estimator
func NewTVEEstimator() *TVEEstimator {
	return &TVEEstimator{}
}

// Method returns the method identifier
func (e *TVEEstimator) Method() risk.Method {
	return risk.MethodTVE
}

// Estimate returns -mean of the floor((1-c)*n) most negative returns
func (e *TVEEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "tve_var"
	if err := checkContext(ctx, op); err != nil {
		return risk.VaREstimate{}, err
	}
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	sorted, tail, err := empiricalTail(op, values, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	return risk.VaREstimate{
		Method:          risk.MethodTVE,
		ConfidenceLevel: confidence,
		PointEstimate:   0 - tailMean(sorted, tail),
		Diagnostics: map[string]float64{
			risk.DiagTailSize: float64(tail),
		},
		TailLosses: append([]float64(nil), sorted[:tail]...),
	}, nil
}

// empiricalTail sorts values and sizes the tail, failing when it would be empty
func empiricalTail(operation string, values []float64, confidence float64) ([]float64, int, error) {
	sorted := sortedCopy(values)
	tail := quantileIndex(len(sorted), confidence)
	if tail < 1 {
		// no sample size yields a tail at c = 1
		required := 0
		if confidence < 1 {
			required = int(math.Ceil(1/(1-confidence) - quantileEpsilon))
		}
		return nil, 0, risk.NewInsufficientSampleError(operation, required, len(values)).
			WithDetails("tail_size", tail).
			WithDetails("confidence_level", confidence)
	}
	return sorted, tail, nil
}
