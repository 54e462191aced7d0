package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// ContextKey represents keys used for context values
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyRunID     ContextKey = "run_id"
)

// RiskLogger provides structured logging for VaR and backtest operations
type RiskLogger struct {
	logger *zap.Logger
}

// NewRiskLogger wraps a zap logger. A nil logger discards everything.
func NewRiskLogger(logger *zap.Logger) *RiskLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskLogger{logger: logger.Named("risk")}
}

// Logger returns the underlying zap logger
func (rl *RiskLogger) Logger() *zap.Logger {
	return rl.logger
}

// WithContext adds known context values to the logger
func (rl *RiskLogger) WithContext(ctx context.Context) *RiskLogger {
	fields := make([]zap.Field, 0, 2)
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok && runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}
	if len(fields) == 0 {
		return rl
	}
	return &RiskLogger{logger: rl.logger.With(fields...)}
}

// LogCalculationStart logs the start of an estimation
func (rl *RiskLogger) LogCalculationStart(method risk.Method, observations int, confidence float64) {
	rl.logger.Debug("VaR calculation started",
		zap.String("method", string(method)),
		zap.Int("observations", observations),
		zap.Float64("confidence_level", confidence),
	)
}

// LogCalculationComplete logs a finished estimation
func (rl *RiskLogger) LogCalculationComplete(estimate risk.VaREstimate, duration time.Duration) {
	rl.logger.Info("VaR calculation completed",
		zap.String("method", string(estimate.Method)),
		zap.Float64("var", estimate.PointEstimate),
		zap.Float64("confidence_level", estimate.ConfidenceLevel),
		zap.Duration("duration", duration),
	)
}

// LogSkipped logs a method that failed and was left out of a run
func (rl *RiskLogger) LogSkipped(method risk.Method, err error) {
	fields := []zap.Field{
		zap.String("method", string(method)),
		zap.Error(err),
	}
	var re *risk.RiskError
	if errors.As(err, &re) {
		fields = append(fields,
			zap.String("error_code", string(re.Code)),
			zap.String("error_category", string(re.Category)),
		)
	}
	rl.logger.Warn("VaR method skipped", fields...)
}

// LogError logs a RiskError with its full details
func (rl *RiskLogger) LogError(err *risk.RiskError) {
	fields := []zap.Field{
		zap.String("error_code", string(err.Code)),
		zap.String("error_severity", string(err.Severity)),
		zap.String("error_category", string(err.Category)),
		zap.String("operation", err.Details.Operation),
		zap.Time("error_timestamp", err.Timestamp),
	}
	if len(err.Details.ActualData) > 0 {
		fields = append(fields, zap.Any("actual_data", err.Details.ActualData))
	}
	if len(err.Details.ExpectedData) > 0 {
		fields = append(fields, zap.Any("expected_data", err.Details.ExpectedData))
	}
	if len(err.Details.Constraints) > 0 {
		fields = append(fields, zap.Any("constraints", err.Details.Constraints))
	}
	if err.Cause != nil {
		fields = append(fields, zap.NamedError("cause", err.Cause))
	}

	switch err.Severity {
	case risk.SeverityHigh:
		rl.logger.Error(err.Message, fields...)
	case risk.SeverityMedium:
		rl.logger.Warn(err.Message, fields...)
	default:
		rl.logger.Info(err.Message, fields...)
	}
}

// LogBacktest logs the outcome of a per-method backtest
func (rl *RiskLogger) LogBacktest(report risk.BacktestReport) {
	rl.logger.Info("backtest completed",
		zap.String("method", string(report.Method)),
		zap.Int("observations", report.Observations),
		zap.Int("exceptions", report.ExceptionCount),
		zap.Float64("kupiec_p_value", report.KupiecPValue),
		zap.Float64("christoffersen_p_value", report.ChristoffersenPValue),
	)
}

// LogSelection logs the chosen optimal method
func (rl *RiskLogger) LogSelection(selection risk.OptimalSelection) {
	rl.logger.Info("optimal method selected",
		zap.String("method", string(selection.ChosenMethod)),
		zap.Float64("violation_rate", selection.Score),
		zap.Int("candidates", len(selection.AllEstimates)),
		zap.Int("skipped", len(selection.Skipped)),
	)
}
