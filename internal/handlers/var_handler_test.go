package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/services"
)

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Run(ctx context.Context, req services.AnalysisRequest) (*risk.RunResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*risk.RunResult), args.Error(1)
}

func (m *MockAnalyzer) GetRun(ctx context.Context, id uuid.UUID) (*risk.RunResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*risk.RunResult), args.Error(1)
}

func (m *MockAnalyzer) ListRuns(ctx context.Context, limit int) ([]*risk.RunResult, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*risk.RunResult), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupVaRRouter(analyzer Analyzer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewVaRHandler(analyzer, 0.95, time.Second, nil)

	router := gin.New()
	router.GET("/v1/methods", h.Methods)
	router.POST("/v1/var/estimate", h.Estimate)
	router.POST("/v1/var/backtest", h.Backtest)
	router.POST("/v1/var/optimal", h.Optimal)
	router.GET("/v1/runs", h.ListRuns)
	router.GET("/v1/runs/:id", h.GetRun)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return resp, env
}

func sampleBody() AnalysisRequestBody {
	return AnalysisRequestBody{
		Series: []risk.ReturnSeries{
			{Asset: "SPY", Values: []float64{0.01, -0.02, 0.005, -0.01}},
		},
	}
}

func sampleRun() *risk.RunResult {
	return &risk.RunResult{
		ID:              uuid.New(),
		ConfidenceLevel: 0.95,
		Observations:    4,
		Estimates: map[risk.Method]risk.VaREstimate{
			risk.MethodHistorical: {Method: risk.MethodHistorical, ConfidenceLevel: 0.95, PointEstimate: 0.02},
		},
		Reports: map[risk.Method]risk.BacktestReport{
			risk.MethodHistorical: {Method: risk.MethodHistorical, Observations: 4, ExceptionCount: 0},
		},
		Failures: map[risk.Method]string{risk.MethodGARCH: "insufficient sample"},
	}
}

func TestVaRHandler_Methods(t *testing.T) {
	router := setupVaRRouter(new(MockAnalyzer))

	resp, env := doRequest(t, router, http.MethodGet, "/v1/methods", nil)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.Success)

	var data struct {
		Methods []string `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, []string{
		"Historical", "Variance-Covariance", "Cornish-Fisher", "Risk-Metrics", "GARCH", "TVE", "TVE-GARCH",
	}, data.Methods)
}

func TestVaRHandler_Estimate(t *testing.T) {
	t.Run("should use the default confidence", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		run := sampleRun()
		analyzer.On("Run", mock.Anything, mock.MatchedBy(func(req services.AnalysisRequest) bool {
			return req.Confidence == 0.95 && !req.SelectOptimal && len(req.Methods) == 0
		})).Return(run, nil)

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/estimate", sampleBody())

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.True(t, env.Success)

		var data EstimateResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, run.ID, data.RunID)
		assert.Equal(t, 4, data.Observations)
		assert.InDelta(t, 0.02, data.Estimates[risk.MethodHistorical].PointEstimate, 1e-12)
		assert.Equal(t, "insufficient sample", data.Failures[risk.MethodGARCH])
		analyzer.AssertExpectations(t)
	})

	t.Run("should normalize a percentage confidence and parse methods", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		analyzer.On("Run", mock.Anything, mock.MatchedBy(func(req services.AnalysisRequest) bool {
			return req.Confidence == 0.99 &&
				len(req.Methods) == 2 &&
				req.Methods[0] == risk.MethodRiskMetrics &&
				req.Methods[1] == risk.MethodGARCH &&
				len(req.JointTiers) == 1 && req.JointTiers[0] == 0.95
		})).Return(sampleRun(), nil)

		body := sampleBody()
		body.Confidence = 99
		body.Methods = []string{"ewma", "garch"}
		body.JointTiers = []float64{95}

		resp, _ := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/estimate", body)

		assert.Equal(t, http.StatusOK, resp.Code)
		analyzer.AssertExpectations(t)
	})

	t.Run("should reject a missing series", func(t *testing.T) {
		analyzer := new(MockAnalyzer)

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/estimate", gin.H{"confidence": 0.95})

		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
		analyzer.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})

	t.Run("should reject an unknown method", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		body := sampleBody()
		body.Methods = []string{"monte-carlo"}

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/estimate", body)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, string(risk.ErrUnsupportedMethod), env.Error.Code)
		analyzer.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})

	t.Run("should reject an out of range confidence", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		body := sampleBody()
		body.Confidence = 150

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/estimate", body)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, string(risk.ErrInvalidParameter), env.Error.Code)
	})
}

func TestVaRHandler_Backtest(t *testing.T) {
	analyzer := new(MockAnalyzer)
	run := sampleRun()
	run.Joint = &risk.JointBacktestReport{
		Methods:             []risk.Method{risk.MethodHistorical},
		Observations:        4,
		MaxLag:              1,
		DegreesOfFreedom:    1,
		HurlinTokpaviPValue: 0.5,
	}
	analyzer.On("Run", mock.Anything, mock.Anything).Return(run, nil)

	resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/backtest", sampleBody())

	assert.Equal(t, http.StatusOK, resp.Code)

	var data BacktestResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 4, data.Reports[risk.MethodHistorical].Observations)
	require.NotNil(t, data.Joint)
	assert.Equal(t, 0.5, data.Joint.HurlinTokpaviPValue)
}

func TestVaRHandler_Optimal(t *testing.T) {
	analyzer := new(MockAnalyzer)
	run := sampleRun()
	run.Selection = &risk.OptimalSelection{ChosenMethod: risk.MethodHistorical, Score: 0}
	analyzer.On("Run", mock.Anything, mock.MatchedBy(func(req services.AnalysisRequest) bool {
		return req.SelectOptimal
	})).Return(run, nil)

	resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/optimal", sampleBody())

	assert.Equal(t, http.StatusOK, resp.Code)

	var data risk.RunResult
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotNil(t, data.Selection)
	assert.Equal(t, risk.MethodHistorical, data.Selection.ChosenMethod)
	analyzer.AssertExpectations(t)
}

func TestVaRHandler_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"empty input", risk.NewEmptyInputError("preprocess"), http.StatusBadRequest, string(risk.ErrEmptyInput)},
		{"dimension mismatch", risk.NewDimensionMismatchError("preprocess", "weights", 2, 1), http.StatusBadRequest, string(risk.ErrDimensionMismatch)},
		{"insufficient sample", risk.NewInsufficientSampleError("tve_var", 20, 5), http.StatusUnprocessableEntity, string(risk.ErrInsufficientSample)},
		{"calculation failed", risk.NewRiskError(risk.ErrCalculationFailed, "every VaR method failed", "run"), http.StatusUnprocessableEntity, string(risk.ErrCalculationFailed)},
		{"timeout", risk.NewRiskError(risk.ErrTimeout, "analysis timed out", "run"), http.StatusGatewayTimeout, string(risk.ErrTimeout)},
		{"unknown", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := new(MockAnalyzer)
			analyzer.On("Run", mock.Anything, mock.Anything).Return(nil, tt.err)

			resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodPost, "/v1/var/estimate", sampleBody())

			assert.Equal(t, tt.status, resp.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestVaRHandler_GetRun(t *testing.T) {
	t.Run("should return a stored run", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		run := sampleRun()
		analyzer.On("GetRun", mock.Anything, run.ID).Return(run, nil)

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodGet, "/v1/runs/"+run.ID.String(), nil)

		assert.Equal(t, http.StatusOK, resp.Code)
		var data risk.RunResult
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, run.ID, data.ID)
	})

	t.Run("should reject a malformed ID", func(t *testing.T) {
		analyzer := new(MockAnalyzer)

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodGet, "/v1/runs/not-a-uuid", nil)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "INVALID_ID", env.Error.Code)
		analyzer.AssertNotCalled(t, "GetRun", mock.Anything, mock.Anything)
	})

	t.Run("should return 404 for an unknown run", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		id := uuid.New()
		analyzer.On("GetRun", mock.Anything, id).Return(nil, risk.ErrRunNotFound)

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodGet, "/v1/runs/"+id.String(), nil)

		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "RUN_NOT_FOUND", env.Error.Code)
	})
}

func TestVaRHandler_ListRuns(t *testing.T) {
	t.Run("should default the limit", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		analyzer.On("ListRuns", mock.Anything, 20).Return([]*risk.RunResult{sampleRun(), sampleRun()}, nil)

		resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodGet, "/v1/runs", nil)

		assert.Equal(t, http.StatusOK, resp.Code)
		var data struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, 2, data.Count)
		analyzer.AssertExpectations(t)
	})

	t.Run("should pass an explicit limit", func(t *testing.T) {
		analyzer := new(MockAnalyzer)
		analyzer.On("ListRuns", mock.Anything, 5).Return([]*risk.RunResult{}, nil)

		resp, _ := doRequest(t, setupVaRRouter(analyzer), http.MethodGet, "/v1/runs?limit=5", nil)

		assert.Equal(t, http.StatusOK, resp.Code)
		analyzer.AssertExpectations(t)
	})

	for _, limit := range []string{"0", "501", "ten"} {
		t.Run("should reject limit "+limit, func(t *testing.T) {
			analyzer := new(MockAnalyzer)

			resp, env := doRequest(t, setupVaRRouter(analyzer), http.MethodGet, "/v1/runs?limit="+limit, nil)

			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, "INVALID_LIMIT", env.Error.Code)
		})
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusForError(risk.ErrRunNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusForError(risk.NewInvalidConfidenceError("x", 2)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusForError(risk.NewConvergenceError("garch_var", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(assert.AnError))
}
