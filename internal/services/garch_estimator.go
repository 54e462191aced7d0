package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

const (
	// garchMinObservations is the smallest sample the four-parameter fit accepts
	garchMinObservations = 10
	// garchPersistenceCap keeps alpha + beta strictly below one
	garchPersistenceCap = 0.9999

	garchStartAlpha = 0.05
	garchStartBeta  = 0.90
)

var garchConvergedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.FunctionConvergence: true,
	optimize.GradientThreshold:   true,
	optimize.StepConvergence:     true,
	optimize.MethodConverge:      true,
}

// GARCHFit is a fitted constant-mean GARCH(1,1) model expressed in return units
type GARCHFit struct {
	Mu            float64
	Omega         float64
	Alpha         float64
	Beta          float64
	LogLikelihood float64
	// Forecast is the one-step-ahead conditional volatility
	Forecast float64
	// Conditional holds the in-sample conditional volatility of each observation
	Conditional []float64
	Evaluations int
	Status      optimize.Status
}

// Persistence returns alpha + beta
func (f GARCHFit) Persistence() float64 {
	return f.Alpha + f.Beta
}

// GARCHEstimator fits GARCH(1,1) by Gaussian maximum likelihood and scales the
// empirical multiplier by the forecast volatility
type GARCHEstimator struct {
	timeout        time.Duration
	maxEvaluations int
}

// NewGARCHEstimator creates a GARCH estimator. Zero values disable the respective limit.
func NewGARCHEstimator(timeout time.Duration, maxEvaluations int) *GARCHEstimator {
	return &GARCHEstimator{
		timeout:        timeout,
		maxEvaluations: maxEvaluations,
	}
}

// Method returns the method identifier
func (g *GARCHEstimator) Method() risk.Method {
	return risk.MethodGARCH
}

// Estimate returns z*sigma_hat with the in-sample threshold series z*sigma_t
func (g *GARCHEstimator) Estimate(ctx context.Context, returns risk.PortfolioReturn, confidence float64) (risk.VaREstimate, error) {
	const op = "garch_var"
	values, err := validateEstimateInput(op, returns, confidence)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	fit, err := g.fit(ctx, op, values)
	if err != nil {
		return risk.VaREstimate{}, err
	}

	z, _ := empiricalZ(sortedCopy(values), confidence)
	thresholds := make([]float64, len(fit.Conditional))
	for t, sigma := range fit.Conditional {
		thresholds[t] = z * sigma
	}

	return risk.VaREstimate{
		Method:          risk.MethodGARCH,
		ConfidenceLevel: confidence,
		PointEstimate:   z * fit.Forecast,
		Diagnostics: map[string]float64{
			risk.DiagZScore:        z,
			risk.DiagVolatility:    fit.Forecast,
			risk.DiagMu:            fit.Mu,
			risk.DiagOmega:         fit.Omega,
			risk.DiagAlpha:         fit.Alpha,
			risk.DiagBeta:          fit.Beta,
			risk.DiagLogLikelihood: fit.LogLikelihood,
		},
		Thresholds: thresholds,
	}, nil
}

// Fit estimates the model on a raw return sequence
func (g *GARCHEstimator) Fit(ctx context.Context, values []float64) (GARCHFit, error) {
	return g.fit(ctx, "garch_fit", values)
}

func (g *GARCHEstimator) fit(ctx context.Context, op string, values []float64) (GARCHFit, error) {
	if err := ctx.Err(); err != nil {
		return GARCHFit{}, risk.NewConvergenceError(op, err)
	}
	n := len(values)
	if n < garchMinObservations {
		return GARCHFit{}, risk.NewInsufficientSampleError(op, garchMinObservations, n)
	}

	mean, sd := stat.MeanStdDev(values, nil)
	if sd == 0 || math.IsNaN(sd) {
		// a constant series has no volatility to model
		return GARCHFit{
			Mu:          mean,
			Conditional: make([]float64, n),
			Status:      optimize.Success,
		}, nil
	}

	// fit on returns scaled to unit variance
	scaled := make([]float64, n)
	for i, v := range values {
		scaled[i] = v / sd
	}
	backcast := sampleVariance(scaled)

	objective := func(theta []float64) float64 {
		p := unpackGARCH(theta)
		nll, ok := garchNegLogLikelihood(scaled, p, backcast, nil)
		if !ok {
			return math.MaxFloat64 / 4
		}
		return nll
	}
	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, theta []float64) {
			fd.Gradient(grad, objective, theta, nil)
		},
	}

	initial := packGARCH(garchParams{
		mu:    stat.Mean(scaled, nil),
		omega: backcast * (1 - garchStartAlpha - garchStartBeta),
		alpha: garchStartAlpha,
		beta:  garchStartBeta,
	})

	var deadline time.Time
	if g.timeout > 0 {
		deadline = time.Now().Add(g.timeout)
	}

	result, err := g.minimize(ctx, problem, initial, deadline, &optimize.NelderMead{})
	if !garchAccepted(result, err) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return GARCHFit{}, risk.NewConvergenceError(op, ctxErr)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return GARCHFit{}, risk.NewConvergenceError(op, garchFailure(result, err))
		}
		result, err = g.minimize(ctx, problem, initial, deadline, &optimize.BFGS{})
		if !garchAccepted(result, err) {
			return GARCHFit{}, risk.NewConvergenceError(op, garchFailure(result, err)).
				WithDetails("observations", n)
		}
	}

	params := unpackGARCH(result.X)
	conditional := make([]float64, n)
	nll, ok := garchNegLogLikelihood(scaled, params, backcast, conditional)
	if !ok {
		return GARCHFit{}, risk.NewConvergenceError(op, errors.New("non-finite likelihood at optimum"))
	}

	last := n - 1
	eps := scaled[last] - params.mu
	forecastVar := params.omega + params.alpha*eps*eps + params.beta*conditional[last]*conditional[last]

	for t := range conditional {
		conditional[t] *= sd
	}

	return GARCHFit{
		Mu:    params.mu * sd,
		Omega: params.omega * sd * sd,
		Alpha: params.alpha,
		Beta:  params.beta,
		// likelihood of the unscaled data differs by the Jacobian of the scaling
		LogLikelihood: -nll - float64(n)*math.Log(sd),
		Forecast:      math.Sqrt(forecastVar) * sd,
		Conditional:   conditional,
		Evaluations:   result.Stats.FuncEvaluations,
		Status:        result.Status,
	}, nil
}

func (g *GARCHEstimator) minimize(ctx context.Context, problem optimize.Problem, initial []float64, deadline time.Time, method optimize.Method) (*optimize.Result, error) {
	settings := &optimize.Settings{
		FuncEvaluations: g.maxEvaluations,
		Recorder:        &contextRecorder{ctx: ctx},
	}
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		settings.Runtime = remaining
	}
	return optimize.Minimize(problem, initial, settings, method)
}

func garchAccepted(result *optimize.Result, err error) bool {
	if err != nil || result == nil {
		return false
	}
	if !garchConvergedStatuses[result.Status] {
		return false
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func garchFailure(result *optimize.Result, err error) error {
	if err != nil {
		return err
	}
	if result == nil {
		return errors.New("optimizer returned no result")
	}
	return fmt.Errorf("optimizer stopped with status %v", result.Status)
}

// contextRecorder aborts the optimization once the context is done
type contextRecorder struct {
	ctx context.Context
}

func (r *contextRecorder) Init() error {
	return r.ctx.Err()
}

func (r *contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

type garchParams struct {
	mu    float64
	omega float64
	alpha float64
	beta  float64
}

// packGARCH maps constrained parameters to the unconstrained optimizer space:
// omega = exp(t1), alpha + beta = logistic(t2)*cap, alpha share = logistic(t3)
func packGARCH(p garchParams) []float64 {
	persistence := p.alpha + p.beta
	return []float64{
		p.mu,
		math.Log(p.omega),
		logit(persistence / garchPersistenceCap),
		logit(p.alpha / persistence),
	}
}

func unpackGARCH(theta []float64) garchParams {
	persistence := logistic(theta[2]) * garchPersistenceCap
	share := logistic(theta[3])
	return garchParams{
		mu:    theta[0],
		omega: math.Exp(theta[1]),
		alpha: persistence * share,
		beta:  persistence * (1 - share),
	}
}

// garchNegLogLikelihood evaluates the Gaussian negative log-likelihood. When sigma is
// non-nil it receives the conditional standard deviations.
func garchNegLogLikelihood(x []float64, p garchParams, backcast float64, sigma []float64) (float64, bool) {
	const ln2Pi = 1.8378770664093453

	variance := backcast
	nll := 0.0
	for t, v := range x {
		if t > 0 {
			prev := x[t-1] - p.mu
			variance = p.omega + p.alpha*prev*prev + p.beta*variance
		}
		if !(variance > 0) || math.IsInf(variance, 0) {
			return 0, false
		}
		eps := v - p.mu
		nll += 0.5 * (ln2Pi + math.Log(variance) + eps*eps/variance)
		if sigma != nil {
			sigma[t] = math.Sqrt(variance)
		}
	}
	if math.IsNaN(nll) || math.IsInf(nll, 0) {
		return 0, false
	}
	return nll, true
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}
