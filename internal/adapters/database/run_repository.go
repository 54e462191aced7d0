package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

const defaultListLimit = 20

// RunRepository implements risk.RunRepository on PostgreSQL. Summary columns are
// kept alongside the full run in a JSONB column.
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// Save stores a run; saving the same ID twice replaces the stored run
func (r *RunRepository) Save(ctx context.Context, result *risk.RunResult) error {
	if result == nil {
		return fmt.Errorf("run result is required")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	methods := make([]string, 0, len(result.Estimates))
	for _, m := range result.Methods() {
		methods = append(methods, string(m))
	}

	var chosen *string
	if result.Selection != nil {
		name := string(result.Selection.ChosenMethod)
		chosen = &name
	}

	query := `
		INSERT INTO var_runs (id, confidence_level, observations, methods, chosen_method, started_at, duration_ms, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			confidence_level = EXCLUDED.confidence_level,
			observations = EXCLUDED.observations,
			methods = EXCLUDED.methods,
			chosen_method = EXCLUDED.chosen_method,
			started_at = EXCLUDED.started_at,
			duration_ms = EXCLUDED.duration_ms,
			result = EXCLUDED.result`

	_, err = r.pool.Exec(ctx, query,
		result.ID,
		result.ConfidenceLevel,
		result.Observations,
		methods,
		chosen,
		result.StartedAt,
		result.Duration.Milliseconds(),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// FindByID loads a run; an unknown ID yields risk.ErrRunNotFound
func (r *RunRepository) FindByID(ctx context.Context, id uuid.UUID) (*risk.RunResult, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT result FROM var_runs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, risk.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	return decodeRun(payload)
}

// ListRecent returns up to limit runs, newest first
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*risk.RunResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx, `SELECT result FROM var_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*risk.RunResult, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := decodeRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func decodeRun(payload []byte) (*risk.RunResult, error) {
	var result risk.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return &result, nil
}
