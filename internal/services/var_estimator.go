package services

import (
	"context"
	"time"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// DefaultEWMALambda is the RiskMetrics decay factor for daily data
const DefaultEWMALambda = 0.94

// EstimatorOptions configures the estimators that take parameters
type EstimatorOptions struct {
	// Lambda is the EWMA decay factor, must lie in (0, 1)
	Lambda float64 `json:"lambda" yaml:"lambda"`
	// GARCHTimeout bounds the wall-clock time of a single GARCH fit
	GARCHTimeout time.Duration `json:"garch_timeout" yaml:"garch_timeout"`
	// GARCHMaxEvaluations bounds the likelihood evaluations of a single GARCH fit
	GARCHMaxEvaluations int `json:"garch_max_evaluations" yaml:"garch_max_evaluations"`
}

// DefaultEstimatorOptions returns the options used when nothing is configured
func DefaultEstimatorOptions() EstimatorOptions {
	return EstimatorOptions{
		Lambda:              DefaultEWMALambda,
		GARCHTimeout:        10 * time.Second,
		GARCHMaxEvaluations: 5000,
	}
}

// Validate checks the option ranges
func (o EstimatorOptions) Validate() error {
	if !(o.Lambda > 0 && o.Lambda < 1) {
		return risk.NewInvalidParameterError("estimator_options", "lambda", o.Lambda, "0 < lambda < 1")
	}
	if o.GARCHTimeout < 0 {
		return risk.NewInvalidParameterError("estimator_options", "garch_timeout", o.GARCHTimeout, "must not be negative")
	}
	if o.GARCHMaxEvaluations < 0 {
		return risk.NewInvalidParameterError("estimator_options", "garch_max_evaluations", o.GARCHMaxEvaluations, "must not be negative")
	}
	return nil
}

// NewEstimator builds the estimator for a single method
func NewEstimator(method risk.Method, opts EstimatorOptions) (risk.Estimator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	switch method {
	case risk.MethodHistorical:
		return NewHistoricalEstimator(), nil
	case risk.MethodParametric:
		return NewParametricEstimator(), nil
	case risk.MethodCornishFisher:
		return NewCornishFisherEstimator(), nil
	case risk.MethodRiskMetrics:
		return NewRiskMetricsEstimator(opts.Lambda)
	case risk.MethodGARCH:
		return NewGARCHEstimator(opts.GARCHTimeout, opts.GARCHMaxEvaluations), nil
	case risk.MethodTVE:
		return NewTVEEstimator(), nil
	case risk.MethodTVEGARCH:
		return NewTVEGARCHEstimator(NewGARCHEstimator(opts.GARCHTimeout, opts.GARCHMaxEvaluations)), nil
	default:
		return nil, risk.NewRiskError(risk.ErrUnsupportedMethod, "no estimator registered for method", "new_estimator").
			WithDetails("method", string(method))
	}
}

// NewEstimators builds the estimators for the given methods. An empty list selects every method.
func NewEstimators(methods []risk.Method, opts EstimatorOptions) ([]risk.Estimator, error) {
	if len(methods) == 0 {
		return DefaultEstimators(opts)
	}

	seen := make(map[risk.Method]bool, len(methods))
	estimators := make([]risk.Estimator, 0, len(methods))
	for _, m := range risk.AllMethods() {
		for _, requested := range methods {
			if requested == m && !seen[m] {
				seen[m] = true
				est, err := NewEstimator(m, opts)
				if err != nil {
					return nil, err
				}
				estimators = append(estimators, est)
			}
		}
	}

	for _, requested := range methods {
		if !seen[requested] {
			return nil, risk.NewRiskError(risk.ErrUnsupportedMethod, "no estimator registered for method", "new_estimators").
				WithDetails("method", string(requested))
		}
	}
	return estimators, nil
}

// DefaultEstimators returns all seven estimators in declaration order
func DefaultEstimators(opts EstimatorOptions) ([]risk.Estimator, error) {
	return NewEstimators(risk.AllMethods(), opts)
}

// checkContext converts a done context into a timeout error
func checkContext(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return risk.NewRiskError(risk.ErrTimeout, "calculation cancelled", operation).WithCause(err)
	}
	return nil
}
