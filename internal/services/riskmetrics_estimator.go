package services

import (
	"context"
	"math"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// RiskMetricsEstimator scales the empirical multiplier by an EWMA volatility
type RiskMetricsEstimator struct {
	lambda float64
}

// NewRiskMetricsEstimator creates an EWMA estimator with decay factor lambda in (0, 1)
func NewRiskMetricsEstimator(lambda float64) (*RiskMetricsEstimator, error) {
	if !(lambda > 0 && lambda < 1) {
		return nil, risk.NewInvalidParameterError("riskmetrics_var", "lambda", lambda, "0 < lambda < 1")
	}
	return &RiskMetricsEstimator{lambda: lambda}, nil
}

// Method returns the method identifier
func (e *RiskMetricsEstimator) Method() risk.Method {
	return risk.MethodRiskMetrics
}

// Lambda returns the decay factor
func (e *RiskMetricsEstimator) Lambda() float64 {
	return e.lambda
}

// Estimate returns z*sigma_T together with the one-step-ahead threshold series
func (e *RiskMetricsEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "riskmetrics_var"
	if err := checkContext(ctx, op); err != nil {
		return risk.VaREstimate{}, err
	}
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	z, _ := empiricalZ(sortedCopy(values), confidence)
	variances := EWMAVariance(values, e.lambda)
	sigmaT := math.Sqrt(variances[len(variances)-1])

	// threshold for day t uses the volatility known at the close of day t-1
	thresholds := make([]float64, len(values))
	thresholds[0] = z * math.Sqrt(variances[0])
	for t := 1; t < len(values); t++ {
		thresholds[t] = z * math.Sqrt(variances[t-1])
	}

	return risk.VaREstimate{
		Method:          risk.MethodRiskMetrics,
		ConfidenceLevel: confidence,
		PointEstimate:   z * sigmaT,
		Diagnostics: map[string]float64{
			risk.DiagZScore:     z,
			risk.DiagVolatility: sigmaT,
			risk.DiagLambda:     e.lambda,
		},
		Thresholds: thresholds,
	}, nil
}

// EWMAVariance runs the recursion sigma2_t = lambda*sigma2_{t-1} + (1-lambda)*r_t^2
// seeded with sigma2_0 = r_0^2
func EWMAVariance(values []float64, lambda float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	variances := make([]float64, len(values))
	variances[0] = values[0] * values[0]
	for t := 1; t < len(values); t++ {
		variances[t] = lambda*variances[t-1] + (1-lambda)*values[t]*values[t]
	}
	return variances
}
