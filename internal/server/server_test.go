package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/config"
	"github.com/victoralfred/varlab/internal/domain/ratelimit"
	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/handlers"
	"github.com/victoralfred/varlab/internal/services"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Version = "test"
	cfg.StartTime = time.Now()
	cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	return cfg
}

func testServices(t *testing.T, cfg *config.Config) (*Services, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	metrics := services.NewPrometheusMetrics(registry)

	analyzer, err := services.NewVaRAnalyzer(services.AnalyzerConfig{
		Options: services.EstimatorOptions{
			Lambda:              cfg.Risk.EWMALambda,
			GARCHTimeout:        cfg.Risk.GARCHTimeout,
			GARCHMaxEvaluations: cfg.Risk.GARCHMaxEvaluations,
		},
		Workers: cfg.Risk.Workers,
	}, services.NewRiskLogger(zap.NewNop()), services.WithMetrics(metrics))
	require.NoError(t, err)

	return &Services{
		VaRHandler: handlers.NewVaRHandler(analyzer, cfg.Risk.Confidence, cfg.Risk.RequestTimeout, zap.NewNop()),
		Gatherer:   registry,
	}, registry
}

func setupServer(t *testing.T) *HTTPServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	svcs, _ := testServices(t, cfg)
	server := New(cfg, svcs, zap.NewNop())
	server.Setup()
	return server
}

func syntheticReturns(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = 0.01*math.Sin(float64(i)*0.7) + 0.004*math.Cos(float64(i)*1.9)
	}
	return values
}

func TestNewServer(t *testing.T) {
	cfg := testConfig()
	logger := zap.NewNop()
	svcs := &Services{}

	server := New(cfg, svcs, logger)

	assert.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, svcs, server.services)
	assert.Equal(t, logger, server.logger)

	assert.NotNil(t, New(cfg, svcs, nil).logger)
}

func TestServer_HealthCheck(t *testing.T) {
	server := setupServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/health", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "test", response["version"])
	assert.Contains(t, response, "uptime")
}

func TestServer_Info(t *testing.T) {
	server := setupServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/info", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, 0.95, response.Data["confidence"])
	assert.Equal(t, "test", response.Data["environment"])
}

func TestServer_ReadinessCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()

	t.Run("should be ready when every check passes", func(t *testing.T) {
		svcs, _ := testServices(t, cfg)
		svcs.Checks = map[string]func(context.Context) error{
			"cache": func(context.Context) error { return nil },
		}
		server := New(cfg, svcs, zap.NewNop())
		server.Setup()

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/v1/ready", nil)
		server.Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"cache":"ok"`)
	})

	t.Run("should report a failing component", func(t *testing.T) {
		svcs, _ := testServices(t, cfg)
		svcs.Checks = map[string]func(context.Context) error{
			"database": func(context.Context) error { return errors.New("connection refused") },
		}
		server := New(cfg, svcs, zap.NewNop())
		server.Setup()

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/v1/ready", nil)
		server.Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")
	})
}

func TestServer_Methods(t *testing.T) {
	server := setupServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/methods", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "TVE-GARCH")
}

func TestServer_EstimateEndToEnd(t *testing.T) {
	server := setupServer(t)

	body, err := json.Marshal(gin.H{
		"series":     []risk.ReturnSeries{{Asset: "SPY", Values: syntheticReturns(250)}},
		"confidence": 95,
		"methods":    []string{"historical", "parametric"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/var/estimate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Success bool                      `json:"success"`
		Data    handlers.EstimateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, 0.95, response.Data.ConfidenceLevel)
	assert.Equal(t, 250, response.Data.Observations)
	assert.Len(t, response.Data.Estimates, 2)
	assert.Greater(t, response.Data.Estimates[risk.MethodHistorical].PointEstimate, 0.0)
}

func TestServer_EstimateRejectsEmptySeries(t *testing.T) {
	server := setupServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/var/estimate", bytes.NewBufferString(`{"series":[]}`))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestServer_RunNotFoundWithoutRepository(t *testing.T) {
	server := setupServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/runs/7f1c1a9e-6a4f-4b55-9df0-3c0d8f3f4e21", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	server := setupServer(t)

	body, err := json.Marshal(gin.H{
		"series":  []risk.ReturnSeries{{Asset: "SPY", Values: syntheticReturns(100)}},
		"methods": []string{"historical"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/var/estimate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/metrics", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "varlab_runs_total 1")
}

func TestServer_MetricsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	svcs, _ := testServices(t, cfg)
	server := New(cfg, svcs, zap.NewNop())
	server.Setup()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CORS(t *testing.T) {
	server := setupServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", "/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, quota ratelimit.Quota) (*ratelimit.Result, error) {
	return &ratelimit.Result{Allowed: false, Limit: quota.Limit, ResetTime: time.Now().Add(quota.Window), RetryAfter: quota.Window}, nil
}

func (denyLimiter) Reset(context.Context, string) error { return nil }

func TestServer_AnalysisQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.Cache.Enabled = true
	cfg.RateLimit.Enabled = true
	svcs, _ := testServices(t, cfg)
	svcs.Limiter = denyLimiter{}
	server := New(cfg, svcs, zap.NewNop())
	server.Setup()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/var/estimate", bytes.NewBufferString(`{"series":[{"asset":"SPY","values":[0.01]}]}`))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Non-analysis routes are not limited
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/methods", nil)
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
