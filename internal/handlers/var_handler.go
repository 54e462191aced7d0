package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/services"
)

// Analyzer is the part of services.VaRAnalyzer the HTTP layer depends on
type Analyzer interface {
	Run(ctx context.Context, req services.AnalysisRequest) (*risk.RunResult, error)
	GetRun(ctx context.Context, id uuid.UUID) (*risk.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]*risk.RunResult, error)
}

// VaRHandler handles VaR estimation and backtesting HTTP requests
type VaRHandler struct {
	analyzer          Analyzer
	defaultConfidence float64
	timeout           time.Duration
	logger            *zap.Logger
}

// NewVaRHandler creates a new VaR handler. A zero timeout leaves requests unbounded.
func NewVaRHandler(analyzer Analyzer, defaultConfidence float64, timeout time.Duration, logger *zap.Logger) *VaRHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaRHandler{
		analyzer:          analyzer,
		defaultConfidence: defaultConfidence,
		timeout:           timeout,
		logger:            logger,
	}
}

// AnalysisRequestBody is the JSON body shared by the estimate, backtest and optimal endpoints
type AnalysisRequestBody struct {
	Series []risk.ReturnSeries `json:"series" binding:"required,min=1"`
	// Weights default to equal weights
	Weights []float64 `json:"weights"`
	// Confidence accepts a fraction (0.95) or a percentage (95); zero uses the server default
	Confidence float64   `json:"confidence"`
	Methods    []string  `json:"methods"`
	JointTiers []float64 `json:"joint_tiers"`
}

// EstimateResponse is returned by POST /v1/var/estimate
type EstimateResponse struct {
	RunID           uuid.UUID                        `json:"run_id"`
	ConfidenceLevel float64                          `json:"confidence_level"`
	Observations    int                              `json:"observations"`
	Estimates       map[risk.Method]risk.VaREstimate `json:"estimates"`
	Failures        map[risk.Method]string           `json:"failures,omitempty"`
}

// BacktestResponse is returned by POST /v1/var/backtest
type BacktestResponse struct {
	RunID           uuid.UUID                           `json:"run_id"`
	ConfidenceLevel float64                             `json:"confidence_level"`
	Observations    int                                 `json:"observations"`
	Reports         map[risk.Method]risk.BacktestReport `json:"reports"`
	Joint           *risk.JointBacktestReport           `json:"joint,omitempty"`
	JointError      string                              `json:"joint_error,omitempty"`
	Failures        map[risk.Method]string              `json:"failures,omitempty"`
}

// Methods lists the supported VaR methods in priority order
func (h *VaRHandler) Methods(c *gin.Context) {
	names := make([]string, 0, len(risk.AllMethods()))
	for _, m := range risk.AllMethods() {
		names = append(names, string(m))
	}
	respondOK(c, http.StatusOK, gin.H{"methods": names})
}

// Estimate runs the requested estimators
func (h *VaRHandler) Estimate(c *gin.Context) {
	result, ok := h.run(c, false)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, EstimateResponse{
		RunID:           result.ID,
		ConfidenceLevel: result.ConfidenceLevel,
		Observations:    result.Observations,
		Estimates:       result.Estimates,
		Failures:        result.Failures,
	})
}

// Backtest runs the estimators and returns the per-method and joint backtests
func (h *VaRHandler) Backtest(c *gin.Context) {
	result, ok := h.run(c, false)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, BacktestResponse{
		RunID:           result.ID,
		ConfidenceLevel: result.ConfidenceLevel,
		Observations:    result.Observations,
		Reports:         result.Reports,
		Joint:           result.Joint,
		JointError:      result.JointError,
		Failures:        result.Failures,
	})
}

// Optimal runs the full analysis including the optimal method selection
func (h *VaRHandler) Optimal(c *gin.Context) {
	result, ok := h.run(c, true)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, result)
}

// GetRun returns a stored run
func (h *VaRHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "run ID must be a UUID", nil)
		return
	}

	result, err := h.analyzer.GetRun(c.Request.Context(), id)
	if err != nil {
		h.respondRiskError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// ListRuns returns the most recent stored runs
func (h *VaRHandler) ListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	runs, err := h.analyzer.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.respondRiskError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *VaRHandler) run(c *gin.Context, selectOptimal bool) (*risk.RunResult, bool) {
	var body AnalysisRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}

	req, err := h.toAnalysisRequest(body)
	if err != nil {
		h.respondRiskError(c, err)
		return nil, false
	}
	req.SelectOptimal = selectOptimal

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.analyzer.Run(ctx, req)
	if err != nil {
		h.respondRiskError(c, err)
		return nil, false
	}
	return result, true
}

func (h *VaRHandler) toAnalysisRequest(body AnalysisRequestBody) (services.AnalysisRequest, error) {
	confidence := body.Confidence
	if confidence == 0 {
		confidence = h.defaultConfidence
	}
	confidence, err := risk.NormalizeConfidence(confidence)
	if err != nil {
		return services.AnalysisRequest{}, err
	}

	tiers := make([]float64, 0, len(body.JointTiers))
	for _, tier := range body.JointTiers {
		normalized, err := risk.NormalizeConfidence(tier)
		if err != nil {
			return services.AnalysisRequest{}, err
		}
		tiers = append(tiers, normalized)
	}

	methods, err := risk.ParseMethods(body.Methods)
	if err != nil {
		return services.AnalysisRequest{}, err
	}

	return services.AnalysisRequest{
		Series:     body.Series,
		Weights:    body.Weights,
		Confidence: confidence,
		Methods:    methods,
		JointTiers: tiers,
	}, nil
}

func (h *VaRHandler) respondRiskError(c *gin.Context, err error) {
	respondRiskError(c, h.logger, err)
}

func respondRiskError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusForError(err)

	var re *risk.RiskError
	if errors.As(err, &re) {
		if status >= http.StatusInternalServerError {
			logger.Error("VaR request failed", zap.String("code", string(re.Code)), zap.Error(err))
		}
		respondError(c, status, string(re.Code), re.Message, re.Details)
		return
	}

	if errors.Is(err, risk.ErrRunNotFound) {
		respondError(c, status, "RUN_NOT_FOUND", err.Error(), nil)
		return
	}

	logger.Error("VaR request failed", zap.Error(err))
	respondError(c, status, "INTERNAL_ERROR", "internal server error", nil)
}

// StatusForError maps an error to its HTTP status code
func StatusForError(err error) int {
	if errors.Is(err, risk.ErrRunNotFound) {
		return http.StatusNotFound
	}
	switch risk.CodeOf(err) {
	case risk.ErrEmptyInput, risk.ErrDimensionMismatch, risk.ErrInvalidParameter, risk.ErrUnsupportedMethod:
		return http.StatusBadRequest
	case risk.ErrInsufficientSample, risk.ErrConvergence, risk.ErrCalculationFailed:
		return http.StatusUnprocessableEntity
	case risk.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   body,
	})
}
