package services

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

// weightTolerance is the allowed deviation of the weight sum from one
const weightTolerance = 1e-9

// minPortfolioObservations is the shortest usable portfolio return sequence
const minPortfolioObservations = 2

// ReturnsPreprocessor turns per-asset return histories into a single portfolio return sequence
type ReturnsPreprocessor struct{}

// NewReturnsPreprocessor creates a new preprocessor
func NewReturnsPreprocessor() *ReturnsPreprocessor {
	return &ReturnsPreprocessor{}
}

// Preprocess validates the input, drops rows with a missing value in any asset and
// aggregates the assets with the given weights (equal weights when nil)
func (p *ReturnsPreprocessor) Preprocess(series []risk.ReturnSeries, weights []float64) (risk.PortfolioReturn, error) {
	const op = "preprocess_returns"
	if len(series) == 0 {
		return risk.PortfolioReturn{}, risk.NewEmptyInputError(op)
	}

	n := series[0].Len()
	for _, s := range series {
		if s.Len() == 0 {
			return risk.PortfolioReturn{}, risk.NewEmptyInputError(op).WithDetails("asset", s.Asset)
		}
		if s.Len() != n {
			return risk.PortfolioReturn{}, risk.NewDimensionMismatchError(op, "series", n, s.Len()).
				WithDetails("asset", s.Asset)
		}
	}

	timestamps, err := alignedTimestamps(op, series)
	if err != nil {
		return risk.PortfolioReturn{}, err
	}

	weights, err = resolveWeights(op, len(series), weights)
	if err != nil {
		return risk.PortfolioReturn{}, err
	}

	keep := make([]int, 0, n)
	for t := 0; t < n; t++ {
		complete := true
		for _, s := range series {
			v := s.Values[t]
			if math.IsInf(v, 0) {
				return risk.PortfolioReturn{}, risk.NewInvalidParameterError(op, "returns", v, "returns must be finite").
					WithDetails("asset", s.Asset).
					WithDetails("index", t)
			}
			if math.IsNaN(v) {
				complete = false
			}
		}
		if complete {
			keep = append(keep, t)
		}
	}
	if len(keep) == 0 {
		return risk.PortfolioReturn{}, risk.NewEmptyInputError(op).WithDetails("reason", "every row has a missing value")
	}
	if len(keep) < minPortfolioObservations {
		return risk.PortfolioReturn{}, risk.NewInsufficientSampleError(op, minPortfolioObservations, len(keep))
	}

	values := make([]float64, len(keep))
	assetRow := make([]float64, len(keep))
	for i, s := range series {
		for j, t := range keep {
			assetRow[j] = s.Values[t]
		}
		if len(series) == 1 {
			copy(values, assetRow)
			break
		}
		floats.AddScaled(values, weights[i], assetRow)
	}

	var stamps []time.Time
	if timestamps != nil {
		stamps = make([]time.Time, len(keep))
		for j, t := range keep {
			stamps[j] = timestamps[t]
		}
	}

	assets := make([]string, len(series))
	for i, s := range series {
		assets[i] = s.Asset
	}

	return risk.NewPortfolioReturn(assets, weights, stamps, values), nil
}

// alignedTimestamps returns the shared timestamp index, or nil when no series carries one
func alignedTimestamps(op string, series []risk.ReturnSeries) ([]time.Time, error) {
	var reference []time.Time
	for _, s := range series {
		if len(s.Timestamps) == 0 {
			continue
		}
		if len(s.Timestamps) != s.Len() {
			return nil, risk.NewDimensionMismatchError(op, "timestamps", s.Len(), len(s.Timestamps)).
				WithDetails("asset", s.Asset)
		}
		for t := 1; t < len(s.Timestamps); t++ {
			if !s.Timestamps[t].After(s.Timestamps[t-1]) {
				return nil, risk.NewInvalidParameterError(op, "timestamps", s.Timestamps[t], "strictly increasing").
					WithDetails("asset", s.Asset).
					WithDetails("index", t)
			}
		}
		if reference == nil {
			reference = s.Timestamps
			continue
		}
		for t := range reference {
			if !reference[t].Equal(s.Timestamps[t]) {
				return nil, risk.NewDimensionMismatchError(op, "timestamps", len(reference), len(s.Timestamps)).
					WithDetails("asset", s.Asset).
					WithDetails("misaligned_index", t)
			}
		}
	}
	return reference, nil
}

// resolveWeights applies equal weights when none are given and validates explicit ones
func resolveWeights(op string, assets int, weights []float64) ([]float64, error) {
	if len(weights) == 0 {
		equal := make([]float64, assets)
		for i := range equal {
			equal[i] = 1 / float64(assets)
		}
		return equal, nil
	}
	if len(weights) != assets {
		return nil, risk.NewDimensionMismatchError(op, "weights", assets, len(weights))
	}
	if floats.HasNaN(weights) {
		return nil, risk.NewInvalidParameterError(op, "weights", "NaN", "weights must be finite")
	}
	sum := floats.Sum(weights)
	if math.Abs(sum-1) > weightTolerance {
		return nil, risk.NewInvalidParameterError(op, "weights", sum, "weights must sum to 1")
	}
	return append([]float64(nil), weights...), nil
}

// ReturnsFromPrices converts a price history into simple returns p_t/p_{t-1} - 1.
// A missing price yields a missing return so multi-asset rows stay aligned. Every present
// price must be positive.
func ReturnsFromPrices(prices []float64) ([]float64, error) {
	const op = "returns_from_prices"
	if len(prices) == 0 {
		return nil, risk.NewEmptyInputError(op)
	}
	if len(prices) < 2 {
		return nil, risk.NewInsufficientSampleError(op, 2, len(prices))
	}

	for i, price := range prices {
		if price <= 0 {
			return nil, risk.NewInvalidParameterError(op, "price", price, "prices must be positive").
				WithDetails("index", i)
		}
	}

	returns := make([]float64, len(prices)-1)
	for t := 1; t < len(prices); t++ {
		prev, cur := prices[t-1], prices[t]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			returns[t-1] = math.NaN()
			continue
		}
		returns[t-1] = cur/prev - 1
	}
	return returns, nil
}
