package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// stubEstimator returns a fixed VaR or a fixed error
type stubEstimator struct {
	method risk.Method
	value  float64
	err    error
	calls  *int32
}

func (s stubEstimator) Method() risk.Method { return s.method }

func (s stubEstimator) Estimate(_ context.Context, _ risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	if s.calls != nil {
		atomic.AddInt32(s.calls, 1)
	}
	if s.err != nil {
		return risk.VaREstimate{}, s.err
	}
	return risk.VaREstimate{Method: s.method, ConfidenceLevel: confidence, PointEstimate: s.value}, nil
}

func TestOptimalSelector(t *testing.T) {
	ctx := context.Background()
	// ten observations, three below -0.03 and one below -0.06
	returns := risk.PortfolioFromValues([]float64{-0.07, -0.04, -0.035, 0.01, 0.02, -0.01, 0.03, 0.00, 0.015, -0.005})

	t.Run("Lowest violation rate wins", func(t *testing.T) {
		selector := NewOptimalSelector([]risk.Estimator{
			stubEstimator{method: risk.MethodHistorical, value: 0.03},
			stubEstimator{method: risk.MethodParametric, value: 0.06},
			stubEstimator{method: risk.MethodTVE, value: 0.02},
		}, 2, nil)

		selection, err := selector.Select(ctx, returns, 0.9)
		require.NoError(t, err)
		assert.Equal(t, risk.MethodParametric, selection.ChosenMethod)
		assert.InDelta(t, 0.1, selection.Score, 1e-12)
		assert.Len(t, selection.AllEstimates, 3)
		assert.Len(t, selection.Reports, 3)
		assert.Equal(t, 3, selection.Reports[risk.MethodHistorical].ExceptionCount)
		assert.Equal(t, 0.06, selection.Chosen().PointEstimate)
	})

	t.Run("Ties go to method priority, not slice order", func(t *testing.T) {
		estimators := []risk.Estimator{
			stubEstimator{method: risk.MethodTVEGARCH, value: 0.1},
			stubEstimator{method: risk.MethodGARCH, value: 0.1},
			stubEstimator{method: risk.MethodCornishFisher, value: 0.1},
		}

		for _, order := range [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}} {
			shuffled := make([]risk.Estimator, 0, len(order))
			for _, i := range order {
				shuffled = append(shuffled, estimators[i])
			}
			selector := &OptimalSelector{Estimators: shuffled, Workers: 1}

			selection, err := selector.Select(ctx, returns, 0.9)
			require.NoError(t, err)
			assert.Equal(t, risk.MethodCornishFisher, selection.ChosenMethod, "order %v", order)
			assert.Zero(t, selection.Score)
		}
	})

	t.Run("Failures are skipped and logged", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		selector := NewOptimalSelector([]risk.Estimator{
			stubEstimator{method: risk.MethodHistorical, err: risk.NewInsufficientSampleError("historical_var", 20, 10)},
			stubEstimator{method: risk.MethodParametric, value: 0.03},
		}, 1, NewRiskLogger(zap.New(core)))

		selection, err := selector.Select(ctx, returns, 0.9)
		require.NoError(t, err)
		assert.Equal(t, risk.MethodParametric, selection.ChosenMethod)
		require.Contains(t, selection.Skipped, risk.MethodHistorical)
		assert.NotContains(t, selection.AllEstimates, risk.MethodHistorical)

		skipped := logs.FilterMessage("VaR method skipped").All()
		require.Len(t, skipped, 1)
		assert.Equal(t, string(risk.MethodHistorical), skipped[0].ContextMap()["method"])
	})

	t.Run("Every method failing joins the causes", func(t *testing.T) {
		first := errors.New("first failure")
		second := risk.NewConvergenceError("garch_var", errors.New("stalled"))
		selector := NewOptimalSelector([]risk.Estimator{
			stubEstimator{method: risk.MethodHistorical, err: first},
			stubEstimator{method: risk.MethodGARCH, err: second},
		}, 2, nil)

		_, err := selector.Select(ctx, returns, 0.9)
		require.Error(t, err)
		assert.True(t, risk.IsCode(err, risk.ErrCalculationFailed))
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, &risk.RiskError{Code: risk.ErrConvergence})
	})

	t.Run("Invalid confidence fails before estimating", func(t *testing.T) {
		var calls int32
		selector := NewOptimalSelector([]risk.Estimator{
			stubEstimator{method: risk.MethodHistorical, value: 0.03, calls: &calls},
		}, 1, nil)

		_, err := selector.Select(ctx, returns, 1.2)
		require.Error(t, err)
		assert.True(t, risk.IsCode(err, risk.ErrInvalidParameter))
		assert.Zero(t, atomic.LoadInt32(&calls))
	})

	t.Run("All zero returns", func(t *testing.T) {
		estimators, err := DefaultEstimators(DefaultEstimatorOptions())
		require.NoError(t, err)
		selector := NewOptimalSelector(estimators, 4, nil)

		selection, err := selector.Select(ctx, risk.PortfolioFromValues(make([]float64, 100)), 0.95)
		require.NoError(t, err)
		assert.Equal(t, risk.MethodHistorical, selection.ChosenMethod)
		assert.Zero(t, selection.Score)
		assert.Len(t, selection.AllEstimates, 7)
		for method, estimate := range selection.AllEstimates {
			assert.Zero(t, estimate.PointEstimate, "method %s", method)
		}
	})

	t.Run("Real estimators on a volatile sample", func(t *testing.T) {
		estimators, err := DefaultEstimators(EstimatorOptions{Lambda: 0.94, GARCHTimeout: 30 * time.Second})
		require.NoError(t, err)
		selector := NewOptimalSelector(estimators, 0, nil)

		selection, err := selector.Select(ctx, risk.PortfolioFromValues(garchReturns(600, 2e-6, 0.08, 0.9, 5)), 0.95)
		require.NoError(t, err)
		best := selection.Reports[selection.ChosenMethod].ExceptionRate
		for _, report := range selection.Reports {
			assert.GreaterOrEqual(t, report.ExceptionRate, best)
		}
	})
}
