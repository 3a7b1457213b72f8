// Package reports renders analysis results into shareable artifacts: a
// PNG chart of the fund against the scaled index, and a CSV metrics
// summary.
package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/vicanso/go-charts/v2"

	"github.com/aristath/beacon/internal/modules/alignment"
)

// maxChartPoints caps how many grid points end up on the x axis; longer
// series are downsampled evenly.
const maxChartPoints = 520

// Service renders report artifacts. Stateless.
type Service struct {
	log zerolog.Logger
}

// NewService creates a reports service.
func NewService(log zerolog.Logger) *Service {
	return &Service{log: log.With().Str("component", "reports").Logger()}
}

// RenderChart draws the fund NAV trajectory against the index, with the
// index rescaled to the fund's starting level so both lines share one
// axis. Returns PNG bytes.
func (s *Service) RenderChart(title string, pair *alignment.AlignedPair, navValues []float64) ([]byte, error) {
	if pair == nil || pair.Len() < 2 {
		return nil, fmt.Errorf("not enough points to chart")
	}

	fund := navValues
	fundName := "Fund NAV"
	if fund == nil {
		// Without NAVs, chart cumulative net cash flow instead.
		fund = cumulative(pair.FundValues)
		fundName = "Cumulative Net Cash Flow"
	}

	index := rescale(pair.IndexValues, firstKnown(fund))
	labels := dateLabels(pair.Dates)

	fund, index, labels = downsample(fund, index, labels)
	replaceNaN(fund)
	replaceNaN(index)

	yMin, yMax := valueRange(fund, index)
	names := []string{fundName, "Index (rescaled)"}

	painter, err := charts.LineRender([][]float64{fund, index},
		charts.TitleTextOptionFunc(title),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, BoundaryGap: charts.FalseFlag(), SplitNumber: 8}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{Data: names}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(1000),
		charts.HeightOptionFunc(500),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	img, err := painter.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}
	s.log.Debug().Int("bytes", len(img)).Str("title", title).Msg("Rendered analysis chart")
	return img, nil
}

// RenderSummaryCSV writes the metrics dictionary as a two-column CSV in
// a stable key order. Undefined metrics render as empty cells.
func (s *Service) RenderSummaryCSV(metrics map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"metric", "value"}); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := w.Write([]string{k, formatCell(metrics[k])}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

// rescale multiplies the column so its first finite value equals base.
func rescale(col []float64, base float64) []float64 {
	out := make([]float64, len(col))
	first := firstKnown(col)
	if math.IsNaN(first) || first == 0 || math.IsNaN(base) || base == 0 {
		copy(out, col)
		return out
	}
	factor := base / first
	for i, v := range col {
		out[i] = v * factor
	}
	return out
}

func cumulative(flows []float64) []float64 {
	out := make([]float64, len(flows))
	total := 0.0
	for i, v := range flows {
		if !math.IsNaN(v) {
			// Contributions are negative; the chart shows money at work.
			total += -v
		}
		out[i] = total
	}
	return out
}

func firstKnown(col []float64) float64 {
	for _, v := range col {
		if !math.IsNaN(v) {
			return v
		}
	}
	return math.NaN()
}

func dateLabels(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format("2006-01")
	}
	return out
}

// downsample keeps an even subset of points when the grid is too dense
// to chart.
func downsample(a, b []float64, labels []string) ([]float64, []float64, []string) {
	n := len(a)
	if n <= maxChartPoints {
		return a, b, labels
	}
	step := float64(n-1) / float64(maxChartPoints-1)
	outA := make([]float64, maxChartPoints)
	outB := make([]float64, maxChartPoints)
	outL := make([]string, maxChartPoints)
	for i := 0; i < maxChartPoints; i++ {
		j := int(math.Round(float64(i) * step))
		outA[i], outB[i], outL[i] = a[j], b[j], labels[j]
	}
	return outA, outB, outL
}

// replaceNaN substitutes remaining gaps with the nearest prior value so
// the renderer never sees NaN.
func replaceNaN(col []float64) {
	last := 0.0
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
}

func valueRange(cols ...[]float64) (yMin, yMax float64) {
	yMin, yMax = math.Inf(1), math.Inf(-1)
	for _, col := range cols {
		for _, v := range col {
			if v < yMin {
				yMin = v
			}
			if v > yMax {
				yMax = v
			}
		}
	}
	if math.IsInf(yMin, 0) {
		return 0, 1
	}
	pad := (yMax - yMin) * 0.05
	if pad == 0 {
		pad = math.Abs(yMax) * 0.05
	}
	if pad == 0 {
		pad = 1
	}
	return yMin - pad, yMax + pad
}
