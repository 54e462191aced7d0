package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// AnalysisRequest describes one analysis run
type AnalysisRequest struct {
	Series     []risk.ReturnSeries `json:"series"`
	Weights    []float64           `json:"weights,omitempty"`
	Confidence float64             `json:"confidence"`
	// Methods restricts the run; empty runs every method
	Methods       []risk.Method `json:"methods,omitempty"`
	SelectOptimal bool          `json:"select_optimal"`
	// JointTiers lists the confidence levels stacked into the joint test; empty uses Confidence
	JointTiers []float64 `json:"joint_tiers,omitempty"`
}

// AnalyzerConfig configures a VaRAnalyzer
type AnalyzerConfig struct {
	Options            EstimatorOptions
	UseThresholdSeries bool
	Workers            int
	DefaultJointTiers  []float64
}

// AnalyzerOption customises a VaRAnalyzer
type AnalyzerOption func(*VaRAnalyzer)

// WithResultCache enables result caching
func WithResultCache(cache risk.ResultCache) AnalyzerOption {
	return func(a *VaRAnalyzer) {
		a.cache = cache
	}
}

// WithRunRepository enables run persistence
func WithRunRepository(repo risk.RunRepository) AnalyzerOption {
	return func(a *VaRAnalyzer) {
		a.repo = repo
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics MetricsRecorder) AnalyzerOption {
	return func(a *VaRAnalyzer) {
		if metrics != nil {
			a.metrics = metrics
		}
	}
}

// VaRAnalyzer runs the full pipeline: preprocessing, estimation, backtesting,
// the joint test and the optional optimal method selection
type VaRAnalyzer struct {
	config       AnalyzerConfig
	preprocessor *ReturnsPreprocessor
	logger       *RiskLogger
	metrics      MetricsRecorder
	cache        risk.ResultCache
	repo         risk.RunRepository
}

// NewVaRAnalyzer creates a new analyzer
func NewVaRAnalyzer(config AnalyzerConfig, logger *RiskLogger, opts ...AnalyzerOption) (*VaRAnalyzer, error) {
	if err := config.Options.Validate(); err != nil {
		return nil, err
	}
	for _, tier := range config.DefaultJointTiers {
		if !risk.ValidConfidence(tier) {
			return nil, risk.NewInvalidConfidenceError("new_analyzer", tier)
		}
	}
	if logger == nil {
		logger = NewRiskLogger(nil)
	}

	a := &VaRAnalyzer{
		config:       config,
		preprocessor: NewReturnsPreprocessor(),
		logger:       logger,
		metrics:      NoopMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run executes one analysis. Individual method failures are recorded in the result;
// the run fails only on invalid input or when every method fails.
func (a *VaRAnalyzer) Run(ctx context.Context, req AnalysisRequest) (*risk.RunResult, error) {
	const op = "analyze"
	started := time.Now()

	if !risk.ValidConfidence(req.Confidence) {
		return nil, risk.NewInvalidConfidenceError(op, req.Confidence)
	}
	tiers := a.jointTiers(req)
	for _, tier := range tiers {
		if !risk.ValidConfidence(tier) {
			return nil, risk.NewInvalidConfidenceError(op, tier)
		}
	}

	portfolio, err := a.preprocessor.Preprocess(req.Series, req.Weights)
	if err != nil {
		return nil, err
	}

	estimators, err := NewEstimators(req.Methods, a.config.Options)
	if err != nil {
		return nil, err
	}

	key := a.cacheKey(portfolio, req, tiers)
	if cached := a.lookup(ctx, key); cached != nil {
		return cached, nil
	}

	runID := uuid.New()
	ctx = context.WithValue(ctx, ContextKeyRunID, runID.String())
	logger := a.logger.WithContext(ctx)

	estimates, failures := estimateAll(ctx, estimators, portfolio, req.Confidence, a.config.Workers, logger, a.metrics)
	if err := ctx.Err(); err != nil {
		return nil, risk.NewRiskError(risk.ErrTimeout, "analysis cancelled", op).WithCause(err)
	}

	engine := &BacktestEngine{ConfidenceLevel: req.Confidence, UseThresholdSeries: a.config.UseThresholdSeries}
	reports := make(map[risk.Method]risk.BacktestReport, len(estimates))
	succeeded := make(map[risk.Method]risk.VaREstimate, len(estimates))
	exceptionsByMethod := make(map[risk.Method]risk.ExceptionSeries, len(estimates))
	for _, method := range orderedMethods(estimates) {
		report, exceptions, err := engine.Report(portfolio, estimates[method])
		if err != nil {
			failures[method] = err
			logger.LogSkipped(method, err)
			continue
		}
		logger.LogBacktest(report)
		reports[method] = report
		succeeded[method] = estimates[method]
		exceptionsByMethod[method] = exceptions
	}

	if len(succeeded) == 0 {
		a.metrics.ObserveRun(time.Since(started), len(failures))
		return nil, risk.NewRiskError(risk.ErrCalculationFailed, "every VaR method failed", op).
			WithCause(joinFailures(failures))
	}

	result := &risk.RunResult{
		ID:              runID,
		ConfidenceLevel: req.Confidence,
		Observations:    portfolio.Len(),
		Assets:          portfolio.Assets(),
		Weights:         portfolio.Weights(),
		Estimates:       succeeded,
		Reports:         reports,
		StartedAt:       started.UTC(),
	}

	joint, err := a.jointTest(ctx, portfolio, req, tiers, exceptionsByMethod, logger)
	if err != nil {
		result.JointError = err.Error()
		logger.Logger().Info("joint backtest unavailable", zap.Error(err))
	} else {
		result.Joint = &joint
	}

	if req.SelectOptimal {
		chosen, score, _ := lowestViolationRate(reports)
		selection := risk.OptimalSelection{
			ChosenMethod: chosen,
			Score:        score,
			AllEstimates: succeeded,
			Reports:      reports,
		}
		if len(failures) > 0 {
			selection.Skipped = make(map[risk.Method]string, len(failures))
			for method, ferr := range failures {
				selection.Skipped[method] = ferr.Error()
			}
		}
		logger.LogSelection(selection)
		result.Selection = &selection
	}

	if len(failures) > 0 {
		result.Failures = make(map[risk.Method]string, len(failures))
		for method, ferr := range failures {
			result.Failures[method] = ferr.Error()
		}
	}

	result.Duration = time.Since(started)
	a.metrics.ObserveRun(result.Duration, len(failures))
	a.store(ctx, key, result, logger)
	return result, nil
}

// GetRun loads a stored run by ID
func (a *VaRAnalyzer) GetRun(ctx context.Context, id uuid.UUID) (*risk.RunResult, error) {
	if a.repo == nil {
		return nil, risk.ErrRunNotFound
	}
	return a.repo.FindByID(ctx, id)
}

// ListRuns returns the most recent stored runs
func (a *VaRAnalyzer) ListRuns(ctx context.Context, limit int) ([]*risk.RunResult, error) {
	if a.repo == nil {
		return []*risk.RunResult{}, nil
	}
	return a.repo.ListRecent(ctx, limit)
}

// jointTest stacks the exception series of every successful method at every tier.
// Tiers other than the run confidence are estimated afresh.
func (a *VaRAnalyzer) jointTest(
	ctx context.Context,
	portfolio risk.PortfolioReturn,
	req AnalysisRequest,
	tiers []float64,
	atConfidence map[risk.Method]risk.ExceptionSeries,
	logger *RiskLogger,
) (risk.JointBacktestReport, error) {
	methods := make([]risk.Method, 0, len(atConfidence))
	for _, m := range risk.AllMethods() {
		if _, ok := atConfidence[m]; ok {
			methods = append(methods, m)
		}
	}

	series := make([]risk.ExceptionSeries, 0, len(methods)*len(tiers))
	for _, tier := range tiers {
		if tier == req.Confidence {
			for _, m := range methods {
				series = append(series, atConfidence[m])
			}
			continue
		}

		estimators, err := NewEstimators(methods, a.config.Options)
		if err != nil {
			return risk.JointBacktestReport{}, err
		}
		estimates, _ := estimateAll(ctx, estimators, portfolio, tier, a.config.Workers, logger, a.metrics)
		engine := &BacktestEngine{ConfidenceLevel: tier, UseThresholdSeries: a.config.UseThresholdSeries}
		for _, m := range orderedMethods(estimates) {
			exceptions, err := engine.Exceptions(portfolio, estimates[m])
			if err != nil {
				logger.LogSkipped(m, err)
				continue
			}
			series = append(series, exceptions)
		}
	}

	return HurlinTokpavi(series)
}

func (a *VaRAnalyzer) jointTiers(req AnalysisRequest) []float64 {
	if len(req.JointTiers) > 0 {
		return req.JointTiers
	}
	if len(a.config.DefaultJointTiers) > 0 {
		return a.config.DefaultJointTiers
	}
	return []float64{req.Confidence}
}

func (a *VaRAnalyzer) lookup(ctx context.Context, key string) *risk.RunResult {
	if a.cache == nil {
		return nil
	}
	cached, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, risk.ErrCacheMiss) {
			a.logger.Logger().Warn("result cache lookup failed", zap.Error(err))
		}
		a.metrics.ObserveCache(false)
		return nil
	}
	a.metrics.ObserveCache(true)
	return cached
}

func (a *VaRAnalyzer) store(ctx context.Context, key string, result *risk.RunResult, logger *RiskLogger) {
	if a.repo != nil {
		if err := a.repo.Save(ctx, result); err != nil {
			logger.Logger().Warn("failed to persist run", zap.String("run_id", result.ID.String()), zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, key, result); err != nil {
			logger.Logger().Warn("failed to cache run", zap.String("run_id", result.ID.String()), zap.Error(err))
		}
	}
}

// cacheKey digests everything that determines the outcome of a run
func (a *VaRAnalyzer) cacheKey(portfolio risk.PortfolioReturn, req AnalysisRequest, tiers []float64) string {
	methods := req.Methods
	if len(methods) == 0 {
		methods = risk.AllMethods()
	}
	payload := struct {
		Values             []float64        `json:"values"`
		Weights            []float64        `json:"weights"`
		Assets             []string         `json:"assets"`
		Confidence         float64          `json:"confidence"`
		Methods            []risk.Method    `json:"methods"`
		SelectOptimal      bool             `json:"select_optimal"`
		Tiers              []float64        `json:"tiers"`
		Options            EstimatorOptions `json:"options"`
		UseThresholdSeries bool             `json:"use_threshold_series"`
	}{
		Values:             portfolio.Values(),
		Weights:            portfolio.Weights(),
		Assets:             portfolio.Assets(),
		Confidence:         req.Confidence,
		Methods:            methods,
		SelectOptimal:      req.SelectOptimal,
		Tiers:              tiers,
		Options:            a.config.Options,
		UseThresholdSeries: a.config.UseThresholdSeries,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
