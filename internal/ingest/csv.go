// Package ingest loads asset price or return histories from CSV files.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/services"
)

// Kind tells whether the value columns hold prices or returns
type Kind string

const (
	KindPrices  Kind = "prices"
	KindReturns Kind = "returns"
)

// dateLayouts are tried in order for the first column
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"}

// Options controls how a CSV file is read
type Options struct {
	Kind Kind
	// Assets selects value columns by header name; empty reads every column
	Assets []string
}

// ReadFile reads a CSV file, see Read
func ReadFile(path string, opts Options) ([]risk.ReturnSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Read(f, opts)
}

// Read parses a header row followed by one row per date. The first column is the
// date, every other column one asset. Empty cells and "NaN" become missing values.
// Price columns are converted to simple returns, so the result is one row shorter.
func Read(r io.Reader, opts Options) ([]risk.ReturnSeries, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindPrices
	}
	if kind != KindPrices && kind != KindReturns {
		return nil, fmt.Errorf("unknown column kind %q", kind)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header needs a date column and at least one asset column")
	}

	columns, err := selectColumns(header, opts.Assets)
	if err != nil {
		return nil, err
	}

	var stamps []time.Time
	values := make([][]float64, len(columns))
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		stamp, err := parseDate(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(stamps); n > 0 && !stamp.After(stamps[n-1]) {
			return nil, fmt.Errorf("line %d: dates must be strictly increasing", line)
		}
		stamps = append(stamps, stamp)

		for i, col := range columns {
			v, err := parseValue(record[col])
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, header[col], err)
			}
			values[i] = append(values[i], v)
		}
	}

	if len(stamps) == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	series := make([]risk.ReturnSeries, len(columns))
	for i, col := range columns {
		s := risk.ReturnSeries{Asset: header[col], Timestamps: stamps, Values: values[i]}
		if kind == KindPrices {
			returns, err := services.ReturnsFromPrices(values[i])
			if err != nil {
				return nil, fmt.Errorf("asset %q: %w", header[col], err)
			}
			s.Timestamps = stamps[1:]
			s.Values = returns
		}
		series[i] = s
	}

	return series, nil
}

func selectColumns(header []string, assets []string) ([]int, error) {
	if len(assets) == 0 {
		columns := make([]int, 0, len(header)-1)
		for i := 1; i < len(header); i++ {
			columns = append(columns, i)
		}
		return columns, nil
	}

	index := make(map[string]int, len(header))
	for i, name := range header[1:] {
		index[strings.TrimSpace(name)] = i + 1
	}
	columns := make([]int, 0, len(assets))
	for _, asset := range assets {
		col, ok := index[asset]
		if !ok {
			return nil, fmt.Errorf("asset column %q not found", asset)
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("infinite value")
	}
	return v, nil
}
