package risk

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a categorized error code for VaR operations
type ErrorCode string

const (
	// Input validation errors
	ErrEmptyInput         ErrorCode = "EMPTY_INPUT"
	ErrDimensionMismatch  ErrorCode = "DIMENSION_MISMATCH"
	ErrInsufficientSample ErrorCode = "INSUFFICIENT_SAMPLE"
	ErrInvalidParameter   ErrorCode = "INVALID_PARAMETER"

	// Calculation errors
	ErrConvergence       ErrorCode = "CONVERGENCE_FAILED"
	ErrCalculationFailed ErrorCode = "CALCULATION_FAILED"

	// Configuration errors
	ErrUnsupportedMethod ErrorCode = "UNSUPPORTED_METHOD"

	// System errors
	ErrTimeout ErrorCode = "TIMEOUT"
)

// ErrorSeverity indicates the severity level of an error
type ErrorSeverity string

const (
	SeverityLow    ErrorSeverity = "LOW"    // Caller supplied bad input
	SeverityMedium ErrorSeverity = "MEDIUM" // Method could not produce a result
	SeverityHigh   ErrorSeverity = "HIGH"   // Unexpected numerical failure
)

// ErrorCategory groups related error types
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "VALIDATION"
	CategoryCalculation   ErrorCategory = "CALCULATION"
	CategoryConfiguration ErrorCategory = "CONFIGURATION"
	CategorySystem        ErrorCategory = "SYSTEM"
)

// RiskError is the error type returned by every VaR and backtest operation
type RiskError struct {
	Code      ErrorCode     `json:"code"`
	Message   string        `json:"message"`
	Severity  ErrorSeverity `json:"severity"`
	Category  ErrorCategory `json:"category"`
	Details   ErrorDetails  `json:"details"`
	Timestamp time.Time     `json:"timestamp"`
	Cause     error         `json:"-"`
}

// ErrorDetails contains specific information about the error
type ErrorDetails struct {
	Operation    string                 `json:"operation"`
	ExpectedData map[string]interface{} `json:"expected_data,omitempty"`
	ActualData   map[string]interface{} `json:"actual_data,omitempty"`
	Constraints  map[string]interface{} `json:"constraints,omitempty"`
}

// NewRiskError creates a new RiskError with severity and category derived from the code
func NewRiskError(code ErrorCode, message string, operation string) *RiskError {
	return &RiskError{
		Code:      code,
		Message:   message,
		Severity:  determineSeverity(code),
		Category:  determineCategory(code),
		Timestamp: time.Now(),
		Details: ErrorDetails{
			Operation: operation,
		},
	}
}

// Error implements the error interface
func (re *RiskError) Error() string {
	msg := fmt.Sprintf("%s: %s (operation: %s)", re.Code, re.Message, re.Details.Operation)
	if re.Cause != nil {
		msg += ": " + re.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (re *RiskError) Unwrap() error {
	return re.Cause
}

// Is matches another RiskError by code, so errors.Is(err, &RiskError{Code: ErrConvergence}) works
func (re *RiskError) Is(target error) bool {
	var other *RiskError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == re.Code
}

// WithDetails adds detailed information to the error
func (re *RiskError) WithDetails(key string, value interface{}) *RiskError {
	if re.Details.ActualData == nil {
		re.Details.ActualData = make(map[string]interface{})
	}
	re.Details.ActualData[key] = value
	return re
}

// WithExpected adds expected value information
func (re *RiskError) WithExpected(key string, value interface{}) *RiskError {
	if re.Details.ExpectedData == nil {
		re.Details.ExpectedData = make(map[string]interface{})
	}
	re.Details.ExpectedData[key] = value
	return re
}

// WithConstraint adds constraint violation information
func (re *RiskError) WithConstraint(key string, value interface{}) *RiskError {
	if re.Details.Constraints == nil {
		re.Details.Constraints = make(map[string]interface{})
	}
	re.Details.Constraints[key] = value
	return re
}

// WithCause wraps an underlying error
func (re *RiskError) WithCause(cause error) *RiskError {
	re.Cause = cause
	return re
}

// IsValidation reports whether the caller supplied bad input
func (re *RiskError) IsValidation() bool {
	return re.Category == CategoryValidation
}

// IsCode reports whether err carries a RiskError with the given code anywhere in its chain
func IsCode(err error, code ErrorCode) bool {
	var re *RiskError
	if !errors.As(err, &re) {
		return false
	}
	if re.Code == code {
		return true
	}
	return re.Cause != nil && IsCode(re.Cause, code)
}

// CodeOf returns the code of the first RiskError in err's chain, or "" when there is none
func CodeOf(err error) ErrorCode {
	var re *RiskError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func determineSeverity(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCalculationFailed, ErrTimeout:
		return SeverityHigh
	case ErrConvergence, ErrUnsupportedMethod:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func determineCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrEmptyInput, ErrDimensionMismatch, ErrInsufficientSample, ErrInvalidParameter:
		return CategoryValidation
	case ErrConvergence, ErrCalculationFailed:
		return CategoryCalculation
	case ErrUnsupportedMethod:
		return CategoryConfiguration
	default:
		return CategorySystem
	}
}

// Convenience constructors for common error scenarios

// NewEmptyInputError creates an error for missing return data
func NewEmptyInputError(operation string) *RiskError {
	return NewRiskError(ErrEmptyInput, "no usable return data", operation)
}

// NewDimensionMismatchError creates an error for inconsistent input dimensions
func NewDimensionMismatchError(operation, what string, expected, actual int) *RiskError {
	return NewRiskError(ErrDimensionMismatch,
		fmt.Sprintf("%s length mismatch", what), operation).
		WithExpected(what, expected).
		WithDetails(what, actual)
}

// NewInsufficientSampleError creates an error for unmet tail or lag requirements
func NewInsufficientSampleError(operation string, required, provided int) *RiskError {
	return NewRiskError(ErrInsufficientSample,
		fmt.Sprintf("insufficient sample for %s", operation), operation).
		WithExpected("min_observations", required).
		WithDetails("provided_observations", provided).
		WithConstraint("minimum_required", required)
}

// NewInvalidConfidenceError creates an error for a confidence level outside (0, 1]
func NewInvalidConfidenceError(operation string, confidence float64) *RiskError {
	return NewRiskError(ErrInvalidParameter,
		fmt.Sprintf("invalid confidence level for %s", operation), operation).
		WithDetails("confidence_level", confidence).
		WithConstraint("valid_range", "0 < confidence <= 1")
}

// NewInvalidParameterError creates an error for any other out-of-range parameter
func NewInvalidParameterError(operation, parameter string, value interface{}, constraint string) *RiskError {
	return NewRiskError(ErrInvalidParameter,
		fmt.Sprintf("invalid %s for %s", parameter, operation), operation).
		WithDetails(parameter, value).
		WithConstraint(parameter, constraint)
}

// NewConvergenceError creates an error for a volatility model fit that did not converge
func NewConvergenceError(operation string, cause error) *RiskError {
	return NewRiskError(ErrConvergence,
		fmt.Sprintf("model fit did not converge for %s", operation), operation).
		WithCause(cause)
}

var (
	// ErrRunNotFound is returned when a run ID is unknown to the repository
	ErrRunNotFound = errors.New("run not found")

	// ErrCacheMiss is returned when no cached result exists for a key
	ErrCacheMiss = errors.New("cache miss")
)
