package risk

import (
	"context"

	"github.com/google/uuid"
)

// Estimator produces a one-period VaR estimate from a portfolio return sequence.
// Implementations are pure: they never mutate the input and are safe for concurrent use.
type Estimator interface {
	Method() Method
	Estimate(ctx context.Context, returns PortfolioReturn, confidence float64) (VaREstimate, error)
}

// ResultCache stores completed runs keyed by a digest of their inputs
type ResultCache interface {
	Get(ctx context.Context, key string) (*RunResult, error)
	Set(ctx context.Context, key string, result *RunResult) error
}

// RunRepository persists run results for later retrieval
type RunRepository interface {
	Save(ctx context.Context, result *RunResult) error
	FindByID(ctx context.Context, id uuid.UUID) (*RunResult, error)
	ListRecent(ctx context.Context, limit int) ([]*RunResult, error)
}
