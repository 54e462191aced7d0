package ingest

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/varlab/internal/services"
)

const pricesCSV = `date,SPY,TLT
2024-01-02,100,50
2024-01-03,110,
2024-01-04,99,51
`

func TestReadPrices(t *testing.T) {
	series, err := Read(strings.NewReader(pricesCSV), Options{})
	require.NoError(t, err)
	require.Len(t, series, 2)

	spy := series[0]
	assert.Equal(t, "SPY", spy.Asset)
	assert.InDeltaSlice(t, []float64{0.10, -0.10}, spy.Values, 1e-12)
	require.Len(t, spy.Timestamps, 2)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), spy.Timestamps[0])

	tlt := series[1]
	assert.True(t, math.IsNaN(tlt.Values[0]))
	assert.True(t, math.IsNaN(tlt.Values[1]))
}

func TestReadReturnsFeedsPreprocessor(t *testing.T) {
	input := `date,A,B
2024-01-02,0.01,0.03
2024-01-03,NaN,0.02
2024-01-04,-0.02,0.00
2024-01-05,0.04,-0.02
`
	series, err := Read(strings.NewReader(input), Options{Kind: KindReturns})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Len(t, series[0].Values, 4)

	portfolio, err := services.NewReturnsPreprocessor().Preprocess(series, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, portfolio.Len())
	assert.InDeltaSlice(t, []float64{0.02, -0.01, 0.01}, portfolio.Values(), 1e-12)
}

func TestReadSelectsAssets(t *testing.T) {
	series, err := Read(strings.NewReader(pricesCSV), Options{Assets: []string{"TLT"}})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "TLT", series[0].Asset)

	_, err = Read(strings.NewReader(pricesCSV), Options{Assets: []string{"QQQ"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"QQQ" not found`)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(pricesCSV), 0o600))

	series, err := ReadFile(path, Options{Kind: KindPrices})
	require.NoError(t, err)
	assert.Len(t, series, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.Error(t, err)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		opts   Options
		errMsg string
	}{
		{"empty input", "", Options{}, "empty CSV input"},
		{"no asset column", "date\n2024-01-02\n", Options{}, "at least one asset column"},
		{"no rows", "date,A\n", Options{}, "no data rows"},
		{"bad date", "date,A\nyesterday,1\n", Options{}, "unrecognised date"},
		{"dates out of order", "date,A\n2024-01-03,1\n2024-01-02,2\n", Options{}, "strictly increasing"},
		{"bad number", "date,A\n2024-01-02,abc\n", Options{}, `column "A"`},
		{"ragged row", "date,A,B\n2024-01-02,1\n", Options{}, "line 2"},
		{"non-positive price", "date,A\n2024-01-02,10\n2024-01-03,0\n", Options{}, `asset "A"`},
		{"unknown kind", "date,A\n2024-01-02,1\n", Options{Kind: "volumes"}, "unknown column kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseDateLayouts(t *testing.T) {
	for _, s := range []string{"2024-03-01", "2024-03-01T00:00:00Z", "2024-03-01 00:00:00", "03/01/2024"} {
		d, err := parseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2024, d.Year())
		assert.Equal(t, time.March, d.Month())
		assert.Equal(t, 1, d.Day())
	}
}
