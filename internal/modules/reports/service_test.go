package reports

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/beacon/internal/modules/alignment"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func samplePair(n int) *alignment.AlignedPair {
	pair := &alignment.AlignedPair{}
	d := day(2022, 1, 3)
	level := 100.0
	for len(pair.Dates) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			pair.Dates = append(pair.Dates, d)
			pair.FundValues = append(pair.FundValues, -100)
			pair.IndexValues = append(pair.IndexValues, level)
			level *= 1.001
		}
		d = d.AddDate(0, 0, 1)
	}
	return pair
}

func TestRenderChart_ProducesPNG(t *testing.T) {
	svc := NewService(zerolog.Nop())
	pair := samplePair(100)

	nav := make([]float64, pair.Len())
	for i := range nav {
		nav[i] = 1000 + float64(i)*5
	}

	img, err := svc.RenderChart("Fund IV vs SPX", pair, nav)
	require.NoError(t, err)
	require.NotEmpty(t, img)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img[:4], "output must be a PNG")
}

func TestRenderChart_NoNAVFallsBackToCashflows(t *testing.T) {
	svc := NewService(zerolog.Nop())
	pair := samplePair(50)

	img, err := svc.RenderChart("Fund IV", pair, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}

func TestRenderChart_DownsamplesLongSeries(t *testing.T) {
	svc := NewService(zerolog.Nop())
	pair := samplePair(2000)

	nav := make([]float64, pair.Len())
	for i := range nav {
		nav[i] = 1000 + float64(i)
	}

	img, err := svc.RenderChart("Long Fund", pair, nav)
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}

func TestRenderChart_TooFewPoints(t *testing.T) {
	svc := NewService(zerolog.Nop())
	_, err := svc.RenderChart("x", &alignment.AlignedPair{}, nil)
	assert.Error(t, err)
}

func TestRenderSummaryCSV(t *testing.T) {
	svc := NewService(zerolog.Nop())

	out, err := svc.RenderSummaryCSV(map[string]any{
		"Fund IRR":    0.125,
		"RVPI":        math.NaN(),
		"Method Used": "kaplan_schoar",
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"metric", "value"}, rows[0])
	// Keys are sorted for stable diffs.
	assert.Equal(t, []string{"Fund IRR", "0.125"}, rows[1])
	assert.Equal(t, []string{"Method Used", "kaplan_schoar"}, rows[2])
	assert.Equal(t, []string{"RVPI", ""}, rows[3], "undefined metrics are empty cells, not NaN text")
}
