package services

import (
	"context"
	"testing"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

func BenchmarkEstimators(b *testing.B) {
	ctx := context.Background()
	sizes := []struct {
		name string
		n    int
	}{
		{"Small_250", 250},
		{"Medium_1000", 1000},
		{"Large_5000", 5000},
	}

	for _, method := range risk.AllMethods() {
		est, err := NewEstimator(method, DefaultEstimatorOptions())
		if err != nil {
			b.Fatalf("create %s: %v", method, err)
		}

		for _, size := range sizes {
			returns := risk.PortfolioFromValues(garchReturns(size.n, 1e-6, 0.08, 0.9, 42))

			b.Run(string(method)+"/"+size.name, func(b *testing.B) {
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := est.Estimate(ctx, returns, 0.99); err != nil {
						b.Fatalf("%s failed: %v", method, err)
					}
				}
			})
		}
	}
}

func BenchmarkBacktest(b *testing.B) {
	ctx := context.Background()
	returns := risk.PortfolioFromValues(normalReturns(2500, 0, 0.01, 7))

	est, err := NewRiskMetricsEstimator(DefaultEWMALambda)
	if err != nil {
		b.Fatalf("create estimator: %v", err)
	}
	estimate, err := est.Estimate(ctx, returns, 0.99)
	if err != nil {
		b.Fatalf("estimate: %v", err)
	}
	engine, err := NewBacktestEngine(0.99, true)
	if err != nil {
		b.Fatalf("engine: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := engine.Report(returns, estimate); err != nil {
			b.Fatalf("backtest failed: %v", err)
		}
	}
}

func BenchmarkHurlinTokpavi(b *testing.B) {
	series := make([]risk.ExceptionSeries, 0, 4)
	for seed := int64(1); seed <= 4; seed++ {
		values := normalReturns(2500, 0, 1, seed)
		hits := make([]bool, len(values))
		for i, v := range values {
			hits[i] = v < -1.645
		}
		series = append(series, risk.ExceptionSeries{ConfidenceLevel: 0.95, Hits: hits})
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := HurlinTokpavi(series); err != nil {
			b.Fatalf("joint test failed: %v", err)
		}
	}
}
