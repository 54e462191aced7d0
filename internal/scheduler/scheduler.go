// Package scheduler re-runs configured analyses on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/config"
	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/ingest"
	"github.com/victoralfred/varlab/internal/services"
)

// Runner executes one analysis; *services.VaRAnalyzer satisfies it
type Runner interface {
	Run(ctx context.Context, req services.AnalysisRequest) (*risk.RunResult, error)
}

// ErrJobNotFound is returned for an unknown job name
var ErrJobNotFound = errors.New("scheduled analysis not found")

// Status is the latest state of one scheduled analysis
type Status struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	Input        string    `json:"input"`
	NextRun      time.Time `json:"next_run,omitempty"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastRunID    uuid.UUID `json:"last_run_id,omitempty"`
	ChosenMethod string    `json:"chosen_method,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Runs         int       `json:"runs"`
}

type job struct {
	spec       config.ScheduledAnalysis
	confidence float64
	methods    []risk.Method
	entryID    cron.EntryID
	// running serialises manual and scheduled executions of the same job
	running sync.Mutex
}

// Scheduler manages the scheduled analyses
type Scheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
	jobs    map[string]*job
	status  map[string]*Status
}

// New creates a scheduler. Every run is bounded by timeout when it is positive.
func New(runner Runner, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner:  runner,
		timeout: timeout,
		logger:  logger,
		jobs:    make(map[string]*job),
		status:  make(map[string]*Status),
	}
}

// Add registers a scheduled analysis. defaultConfidence applies when the job sets none.
func (s *Scheduler) Add(spec config.ScheduledAnalysis, defaultConfidence float64) error {
	if spec.Name == "" || spec.Input == "" {
		return fmt.Errorf("scheduled analysis needs a name and an input")
	}

	confidence := spec.Confidence
	if confidence == 0 {
		confidence = defaultConfidence
	}
	confidence, err := risk.NormalizeConfidence(confidence)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", spec.Name, err)
	}
	methods, err := risk.ParseMethods(spec.Methods)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", spec.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[spec.Name]; exists {
		return fmt.Errorf("schedule %s already registered", spec.Name)
	}

	j := &job{spec: spec, confidence: confidence, methods: methods}
	entryID, err := s.cron.AddFunc(spec.Schedule, func() {
		_, _ = s.execute(context.Background(), j)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression %q: %w", spec.Name, spec.Schedule, err)
	}
	j.entryID = entryID

	s.jobs[spec.Name] = j
	s.status[spec.Name] = &Status{Name: spec.Name, Schedule: spec.Schedule, Input: spec.Input}
	return nil
}

// Start starts the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new runs; the returned context is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow executes the named analysis immediately
func (s *Scheduler) RunNow(ctx context.Context, name string) (*risk.RunResult, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return s.execute(ctx, j)
}

// Statuses returns the state of every job ordered by name
func (s *Scheduler) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.status))
	for name, st := range s.status {
		copied := *st
		if j, ok := s.jobs[name]; ok {
			copied.NextRun = s.cron.Entry(j.entryID).Next
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) execute(ctx context.Context, j *job) (*risk.RunResult, error) {
	j.running.Lock()
	defer j.running.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger := s.logger.With(zap.String("schedule", j.spec.Name), zap.String("input", j.spec.Input))
	started := time.Now()

	result, err := s.analyze(ctx, j)

	s.mu.Lock()
	st := s.status[j.spec.Name]
	st.LastRun = started
	st.Runs++
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
		st.LastRunID = result.ID
		st.ChosenMethod = ""
		if result.Selection != nil {
			st.ChosenMethod = string(result.Selection.ChosenMethod)
		}
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("Scheduled analysis failed", zap.Error(err))
		return nil, err
	}

	logger.Info("Scheduled analysis completed",
		zap.String("run_id", result.ID.String()),
		zap.Int("observations", result.Observations),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

func (s *Scheduler) analyze(ctx context.Context, j *job) (*risk.RunResult, error) {
	series, err := ingest.ReadFile(j.spec.Input, ingest.Options{
		Kind:   ingest.Kind(j.spec.Kind),
		Assets: j.spec.Assets,
	})
	if err != nil {
		return nil, err
	}

	return s.runner.Run(ctx, services.AnalysisRequest{
		Series:        series,
		Weights:       j.spec.Weights,
		Confidence:    j.confidence,
		Methods:       j.methods,
		SelectOptimal: true,
	})
}

// cronLogger routes cron's own log lines to zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
