package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/config"
	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/ingest"
	"github.com/victoralfred/varlab/internal/logging"
	"github.com/victoralfred/varlab/internal/services"
)

type analysisOptions struct {
	configPath string
	input      string
	kind       string
	assets     []string
	weights    []float64
	confidence float64
	methods    []string
	jointTiers []float64
	format     string
	out        string
	logLevel   string
}

// analysis is one completed run plus the portfolio it was computed on
type analysis struct {
	Result    *risk.RunResult
	Portfolio risk.PortfolioReturn
}

func (o *analysisOptions) validateFormat(allowed ...string) error {
	for _, f := range allowed {
		if o.format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q, must be one of %v", o.format, allowed)
}

func (o *analysisOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Log.Output = "stderr"
	cfg.Log.Format = "console"
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func (o *analysisOptions) portfolio() (risk.PortfolioReturn, []risk.ReturnSeries, error) {
	if o.input == "" {
		return risk.PortfolioReturn{}, nil, fmt.Errorf("--input is required")
	}

	series, err := ingest.ReadFile(o.input, ingest.Options{
		Kind:   ingest.Kind(o.kind),
		Assets: o.assets,
	})
	if err != nil {
		return risk.PortfolioReturn{}, nil, err
	}

	portfolio, err := services.NewReturnsPreprocessor().Preprocess(series, o.weights)
	if err != nil {
		return risk.PortfolioReturn{}, nil, err
	}
	return portfolio, series, nil
}

func (o *analysisOptions) run(ctx context.Context, selectOptimal bool) (*analysis, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	portfolio, series, err := o.portfolio()
	if err != nil {
		return nil, err
	}

	confidence := o.confidence
	if confidence == 0 {
		confidence = cfg.Risk.Confidence
	}
	if confidence, err = risk.NormalizeConfidence(confidence); err != nil {
		return nil, err
	}

	tiers := make([]float64, 0, len(o.jointTiers))
	for _, tier := range o.jointTiers {
		normalized, err := risk.NormalizeConfidence(tier)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, normalized)
	}

	methods, err := risk.ParseMethods(o.methods)
	if err != nil {
		return nil, err
	}

	analyzer, err := services.NewVaRAnalyzer(services.AnalyzerConfig{
		Options: services.EstimatorOptions{
			Lambda:              cfg.Risk.EWMALambda,
			GARCHTimeout:        cfg.Risk.GARCHTimeout,
			GARCHMaxEvaluations: cfg.Risk.GARCHMaxEvaluations,
		},
		UseThresholdSeries: cfg.Risk.UseThresholdSeries,
		Workers:            cfg.Risk.Workers,
		DefaultJointTiers:  cfg.Risk.JointTiers,
	}, services.NewRiskLogger(logger))
	if err != nil {
		return nil, err
	}

	if cfg.Risk.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Risk.RequestTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := analyzer.Run(ctx, services.AnalysisRequest{
		Series:        series,
		Weights:       o.weights,
		Confidence:    confidence,
		Methods:       methods,
		SelectOptimal: selectOptimal,
		JointTiers:    tiers,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("analysis finished",
		zap.String("input", o.input),
		zap.Int("observations", result.Observations),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &analysis{Result: result, Portfolio: portfolio}, nil
}

// withOutput runs write against the --out file, or w when no file is set
func (o *analysisOptions) withOutput(w io.Writer, write func(io.Writer) error) error {
	if o.out == "" {
		return write(w)
	}

	f, err := os.Create(o.out)
	if err != nil {
		return fmt.Errorf("create %s: %w", o.out, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
