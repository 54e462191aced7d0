package services

import (
	"context"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// TVEGARCHEstimator scales the empirical tail mean by the GARCH volatility forecast
type TVEGARCHEstimator struct {
	garch *GARCHEstimator
}

// NewTVEGARCHEstimator creates a TVE-GARCH estimator around a GARCH fitter
func NewTVEGARCHEstimator(garch *GARCHEstimator) *TVEGARCHEstimator {
	if garch == nil {
		garch = NewGARCHEstimator(0, 0)
	}
	return &TVEGARCHEstimator{garch: garch}
}

// Method returns the method identifier
func (e *TVEGARCHEstimator) Method() risk.Method {
	return risk.MethodTVEGARCH
}

// Estimate returns -mean(tail)*sigma_hat
func (e *TVEGARCHEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "tve_garch_var"
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	sorted, tail, err := empiricalTail(op, values, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	fit, err := e.garch.fit(ctx, op, values)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	tailAverage := 0 - tailMean(sorted, tail)
	thresholds := make([]float64, len(fit.Conditional))
	for t, sigma := range fit.Conditional {
		thresholds[t] = tailAverage * sigma
	}

	return risk.VaREstimate{
		Method:          risk.MethodTVEGARCH,
		ConfidenceLevel: confidence,
		PointEstimate:   tailAverage * fit.Forecast,
		Diagnostics: map[string]float64{
			risk.DiagVolatility: fit.Forecast,
			risk.DiagTailSize:   float64(tail),
			risk.DiagAlpha:      fit.Alpha,
			risk.DiagBeta:       fit.Beta,
		},
		TailLosses: append([]float64(nil), sorted[:tail]...),
		Thresholds: thresholds,
	}, nil
}
