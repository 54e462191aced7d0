package ratelimit

import (
	"context"
	"time"
)

// Quota caps the number of requests a client may make inside a sliding window
type Quota struct {
	Limit  int
	Window time.Duration
}

// Result reports the outcome of one quota check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter enforces a Quota per client key
type Limiter interface {
	// Allow records a request for key and reports whether it fits the quota
	Allow(ctx context.Context, key string, quota Quota) (*Result, error)

	// Reset clears the recorded requests of key
	Reset(ctx context.Context, key string) error
}
