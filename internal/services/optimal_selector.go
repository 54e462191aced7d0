package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// OptimalSelector runs a set of estimators, backtests each one and picks the method
// with the lowest observed violation rate
type OptimalSelector struct {
	// Estimators may come in any order; ties always go to the method with the
	// lower risk.Method priority, never to the earlier slice position
	Estimators         []risk.Estimator
	UseThresholdSeries bool
	Workers            int
	Logger             *RiskLogger
	Metrics            MetricsRecorder
}

// NewOptimalSelector creates a selector over the given estimators
func NewOptimalSelector(estimators []risk.Estimator, workers int, logger *RiskLogger) *OptimalSelector {
	return &OptimalSelector{
		Estimators: estimators,
		Workers:    workers,
		Logger:     logger,
		Metrics:    NoopMetrics(),
	}
}

// Select estimates VaR with every method, counts exceptions and returns the method with
// the smallest violation rate. Ties go to the method declared first in risk.AllMethods.
// Failing methods are skipped; the call fails only when no method succeeds.
func (s *OptimalSelector) Select(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.OptimalSelection, error) {
	const op = "select_optimal"
	if returns.Len() == 0 {
		return risk.OptimalSelection{}, risk.NewEmptyInputError(op)
	}
	engine, err := NewBacktestEngine(confidence, s.UseThresholdSeries)
	if err != nil {
		return risk.OptimalSelection{}, err
	}
	if len(s.Estimators) == 0 {
		return risk.OptimalSelection{}, risk.NewInvalidParameterError(op, "estimators", 0, "at least one estimator")
	}

	logger := s.logger().WithContext(ctx)
	estimates, failures := estimateAll(ctx, s.Estimators, returns, confidence, s.Workers, logger, s.metrics())
	if err := ctx.Err(); err != nil {
		return risk.OptimalSelection{}, risk.NewRiskError(risk.ErrTimeout, "selection cancelled", op).WithCause(err)
	}

	selection := risk.OptimalSelection{
		AllEstimates: make(map[risk.Method]risk.VaREstimate, len(estimates)),
		Reports:      make(map[risk.Method]risk.BacktestReport, len(estimates)),
		Skipped:      make(map[risk.Method]string),
	}

	for _, method := range orderedMethods(estimates) {
		estimate := estimates[method]
		report, _, err := engine.Report(returns, estimate)
		if err != nil {
			failures[method] = err
			logger.LogSkipped(method, err)
			continue
		}
		logger.LogBacktest(report)

		selection.AllEstimates[method] = estimate
		selection.Reports[method] = report
	}

	for method, err := range failures {
		selection.Skipped[method] = err.Error()
	}

	chosen, score, found := lowestViolationRate(selection.Reports)
	selection.ChosenMethod = chosen
	selection.Score = score
	if !found {
		return risk.OptimalSelection{}, risk.NewRiskError(risk.ErrCalculationFailed, "every VaR method failed", op).
			WithCause(joinFailures(failures)).
			WithDetails("methods", len(s.Estimators))
	}

	logger.LogSelection(selection)
	return selection, nil
}

func (s *OptimalSelector) logger() *RiskLogger {
	if s.Logger == nil {
		return NewRiskLogger(nil)
	}
	return s.Logger
}

func (s *OptimalSelector) metrics() MetricsRecorder {
	if s.Metrics == nil {
		return NoopMetrics()
	}
	return s.Metrics
}

// estimateAll runs the estimators concurrently with at most workers in flight.
// A failing estimator never cancels the others.
func estimateAll(
	ctx context.Context,
	estimators []risk.Estimator,
	returns risk.PortfolioReturn,
	confidence float64,
	workers int,
	logger *RiskLogger,
	metrics MetricsRecorder,
) (map[risk.Method]risk.VaREstimate, map[risk.Method]error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		mu        sync.Mutex
		estimates = make(map[risk.Method]risk.VaREstimate, len(estimators))
		failures  = make(map[risk.Method]error)
		g         errgroup.Group
	)
	g.SetLimit(workers)

	for _, estimator := range estimators {
		estimator := estimator
		g.Go(func() error {
			method := estimator.Method()
			logger.LogCalculationStart(method, returns.Len(), confidence)

			start := time.Now()
			estimate, err := estimator.Estimate(ctx, returns, confidence)
			elapsed := time.Since(start)
			metrics.ObserveEstimate(method, elapsed, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[method] = err
				logger.LogSkipped(method, err)
				return nil
			}
			estimates[method] = estimate
			logger.LogCalculationComplete(estimate, elapsed)
			return nil
		})
	}
	_ = g.Wait()

	return estimates, failures
}

// lowestViolationRate picks the report with the smallest exception rate, the method
// first in risk.AllMethods winning ties
func lowestViolationRate(reports map[risk.Method]risk.BacktestReport) (risk.Method, float64, bool) {
	var (
		chosen risk.Method
		score  float64
		found  bool
	)
	for _, method := range risk.AllMethods() {
		report, ok := reports[method]
		if !ok {
			continue
		}
		if !found || report.ExceptionRate < score {
			chosen, score, found = method, report.ExceptionRate, true
		}
	}
	return chosen, score, found
}

// orderedMethods returns the keys of estimates in declaration order
func orderedMethods(estimates map[risk.Method]risk.VaREstimate) []risk.Method {
	methods := make([]risk.Method, 0, len(estimates))
	for m := range estimates {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Priority() < methods[j].Priority()
	})
	return methods
}

// joinFailures combines per-method errors in declaration order
func joinFailures(failures map[risk.Method]error) error {
	errs := make([]error, 0, len(failures))
	for _, m := range risk.AllMethods() {
		if err, ok := failures[m]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
		}
	}
	for m, err := range failures {
		if m.Priority() == len(risk.AllMethods()) {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
		}
	}
	return errors.Join(errs...)
}
