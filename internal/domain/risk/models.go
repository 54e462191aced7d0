package risk

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Method identifies a VaR estimation strategy
type Method string

const (
	MethodHistorical    Method = "Historical"
	MethodParametric    Method = "Variance-Covariance"
	MethodCornishFisher Method = "Cornish-Fisher"
	MethodRiskMetrics   Method = "Risk-Metrics"
	MethodGARCH         Method = "GARCH"
	MethodTVE           Method = "TVE"
	MethodTVEGARCH      Method = "TVE-GARCH"
)

// AllMethods returns every method in declaration order. The order doubles as
// the tie-break priority of the optimal method selection.
func AllMethods() []Method {
	return []Method{
		MethodHistorical,
		MethodParametric,
		MethodCornishFisher,
		MethodRiskMetrics,
		MethodGARCH,
		MethodTVE,
		MethodTVEGARCH,
	}
}

// Priority returns the declaration index of m, or len(AllMethods()) when unknown
func (m Method) Priority() int {
	for i, candidate := range AllMethods() {
		if candidate == m {
			return i
		}
	}
	return len(AllMethods())
}

// ParseMethod resolves a method from its display name. Matching ignores case
// and accepts the short aliases used by the CLI ("parametric", "ewma").
func ParseMethod(name string) (Method, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, m := range AllMethods() {
		if strings.ToLower(string(m)) == normalized {
			return m, nil
		}
	}

	switch normalized {
	case "parametric", "variance_covariance", "varcov":
		return MethodParametric, nil
	case "cornish_fisher", "cf":
		return MethodCornishFisher, nil
	case "riskmetrics", "risk_metrics", "ewma":
		return MethodRiskMetrics, nil
	case "tve_garch", "tvegarch":
		return MethodTVEGARCH, nil
	}

	return "", NewRiskError(ErrUnsupportedMethod, "unknown VaR method", "parse_method").
		WithDetails("method", name)
}

// Diagnostic keys emitted by the estimators
const (
	DiagZScore        = "z_score"
	DiagMean          = "mean"
	DiagStdDev        = "std_dev"
	DiagSkewness      = "skewness"
	DiagKurtosis      = "kurtosis"
	DiagAdjustedZ     = "adjusted_z"
	DiagVolatility    = "volatility"
	DiagLambda        = "lambda"
	DiagMu            = "mu"
	DiagOmega         = "omega"
	DiagAlpha         = "alpha"
	DiagBeta          = "beta"
	DiagLogLikelihood = "log_likelihood"
	DiagTailSize      = "tail_size"
)

// ReturnSeries is the return history of a single asset
type ReturnSeries struct {
	Asset      string      `json:"asset"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Values     []float64   `json:"values"`
}

// Len returns the number of observations
func (rs ReturnSeries) Len() int {
	return len(rs.Values)
}

// PortfolioReturn is the weighted portfolio return sequence every estimator consumes.
// It is built once by the preprocessor and never modified afterwards.
type PortfolioReturn struct {
	assets     []string
	weights    []float64
	timestamps []time.Time
	values     []float64
}

// NewPortfolioReturn assembles a PortfolioReturn. The slices are copied.
func NewPortfolioReturn(assets []string, weights []float64, timestamps []time.Time, values []float64) PortfolioReturn {
	return PortfolioReturn{
		assets:     append([]string(nil), assets...),
		weights:    append([]float64(nil), weights...),
		timestamps: append([]time.Time(nil), timestamps...),
		values:     append([]float64(nil), values...),
	}
}

// PortfolioFromValues wraps an already aggregated return sequence
func PortfolioFromValues(values []float64) PortfolioReturn {
	return NewPortfolioReturn([]string{"portfolio"}, []float64{1}, nil, values)
}

// Len returns the number of observations
func (p PortfolioReturn) Len() int {
	return len(p.values)
}

// Values returns a copy of the return sequence
func (p PortfolioReturn) Values() []float64 {
	return append([]float64(nil), p.values...)
}

// At returns the return at index i
func (p PortfolioReturn) At(i int) float64 {
	return p.values[i]
}

// Weights returns a copy of the asset weights
func (p PortfolioReturn) Weights() []float64 {
	return append([]float64(nil), p.weights...)
}

// Assets returns a copy of the asset names
func (p PortfolioReturn) Assets() []string {
	return append([]string(nil), p.assets...)
}

// Timestamps returns a copy of the observation timestamps (may be empty)
func (p PortfolioReturn) Timestamps() []time.Time {
	return append([]time.Time(nil), p.timestamps...)
}

// VaREstimate is the canonical output of every estimator
type VaREstimate struct {
	Method          Method             `json:"method"`
	ConfidenceLevel float64            `json:"confidence_level"`
	PointEstimate   float64            `json:"var"`
	Diagnostics     map[string]float64 `json:"diagnostics"`
	TailLosses      []float64          `json:"tail_losses,omitempty"`
	Thresholds      []float64          `json:"thresholds,omitempty"`
}

// Diagnostic returns a diagnostic value and whether the estimator emitted it
func (e VaREstimate) Diagnostic(key string) (float64, bool) {
	v, ok := e.Diagnostics[key]
	return v, ok
}

// ExceptionSeries flags the days whose return breached the VaR threshold
type ExceptionSeries struct {
	Method          Method  `json:"method"`
	ConfidenceLevel float64 `json:"confidence_level"`
	Hits            []bool  `json:"hits"`
}

// Len returns the number of observations
func (es ExceptionSeries) Len() int {
	return len(es.Hits)
}

// Count returns the number of exceptions
func (es ExceptionSeries) Count() int {
	count := 0
	for _, hit := range es.Hits {
		if hit {
			count++
		}
	}
	return count
}

// Rate returns the observed violation rate, zero for an empty series
func (es ExceptionSeries) Rate() float64 {
	if len(es.Hits) == 0 {
		return 0
	}
	return float64(es.Count()) / float64(len(es.Hits))
}

// ExpectedRate returns 1 - confidence level
func (es ExceptionSeries) ExpectedRate() float64 {
	return 1 - es.ConfidenceLevel
}

// BacktestReport contains the per-method backtest results
type BacktestReport struct {
	Method                  Method  `json:"method"`
	Observations            int     `json:"observations"`
	ExceptionCount          int     `json:"exception_count"`
	ExceptionRate           float64 `json:"exception_rate"`
	ExpectedRate            float64 `json:"expected_rate"`
	KupiecStatistic         float64 `json:"kupiec_statistic"`
	KupiecPValue            float64 `json:"kupiec_p_value"`
	ChristoffersenStatistic float64 `json:"christoffersen_statistic"`
	ChristoffersenPValue    float64 `json:"christoffersen_p_value"`
}

// JointBacktestReport holds the joint Portmanteau test over several exception series
type JointBacktestReport struct {
	Methods             []Method  `json:"methods"`
	ConfidenceLevels    []float64 `json:"confidence_levels"`
	Observations        int       `json:"observations"`
	MaxLag              int       `json:"max_lag"`
	Statistic           float64   `json:"statistic"`
	DegreesOfFreedom    int       `json:"degrees_of_freedom"`
	HurlinTokpaviPValue float64   `json:"hurlin_tokpavi_p_value"`
	Autocorrelations    []float64 `json:"autocorrelations"`
}

// OptimalSelection is the method with the lowest observed violation rate
type OptimalSelection struct {
	ChosenMethod Method                    `json:"chosen_method"`
	Score        float64                   `json:"score"`
	AllEstimates map[Method]VaREstimate    `json:"all_estimates"`
	Reports      map[Method]BacktestReport `json:"reports"`
	Skipped      map[Method]string         `json:"skipped,omitempty"`
}

// Chosen returns the estimate of the selected method
func (s OptimalSelection) Chosen() VaREstimate {
	return s.AllEstimates[s.ChosenMethod]
}

// RunResult bundles everything one analysis run produced
type RunResult struct {
	ID              uuid.UUID                 `json:"id"`
	ConfidenceLevel float64                   `json:"confidence_level"`
	Observations    int                       `json:"observations"`
	Assets          []string                  `json:"assets"`
	Weights         []float64                 `json:"weights"`
	Estimates       map[Method]VaREstimate    `json:"estimates"`
	Reports         map[Method]BacktestReport `json:"reports"`
	Joint           *JointBacktestReport      `json:"joint,omitempty"`
	JointError      string                    `json:"joint_error,omitempty"`
	Selection       *OptimalSelection         `json:"selection,omitempty"`
	Failures        map[Method]string         `json:"failures,omitempty"`
	StartedAt       time.Time                 `json:"started_at"`
	Duration        time.Duration             `json:"duration"`
}

// Methods returns the methods that produced an estimate, in declaration order
func (r RunResult) Methods() []Method {
	methods := make([]Method, 0, len(r.Estimates))
	for _, m := range AllMethods() {
		if _, ok := r.Estimates[m]; ok {
			methods = append(methods, m)
		}
	}
	return methods
}

// ValidConfidence reports whether c lies in (0, 1]
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c > 0 && c <= 1
}

// NormalizeConfidence accepts a fraction (0.95) or a percentage (95) and returns the fraction
func NormalizeConfidence(c float64) (float64, error) {
	if c > 1 && c <= 100 {
		c /= 100
	}
	if !ValidConfidence(c) {
		return 0, NewInvalidConfidenceError("normalize_confidence", c)
	}
	return c, nil
}

// ParseMethods resolves a list of method names; an empty list stays empty
func ParseMethods(names []string) ([]Method, error) {
	methods := make([]Method, 0, len(names))
	for _, name := range names {
		m, err := ParseMethod(name)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}
