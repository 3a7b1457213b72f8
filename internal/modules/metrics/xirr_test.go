package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestXIRR_KnownOneYearReturn(t *testing.T) {
	flows := []DatedCashFlow{
		{Date: day(2023, 1, 1), Amount: -1000},
		{Date: day(2024, 1, 1), Amount: 1100},
	}

	irr := XIRR(flows)

	require.False(t, math.IsNaN(irr), "two-flow series with a sign change must have an IRR")
	assert.InDelta(t, 0.10, irr, 1e-3, "investing 1000 and receiving 1100 a year later is ~10%%")
}

func TestXIRR_QuarterlyFlows(t *testing.T) {
	flows := []DatedCashFlow{
		{Date: day(2022, 1, 1), Amount: -1_000_000},
		{Date: day(2022, 4, 1), Amount: -500_000},
		{Date: day(2022, 10, 1), Amount: 200_000},
		{Date: day(2023, 4, 1), Amount: 300_000},
		{Date: day(2023, 10, 1), Amount: 1_400_000},
	}

	irr := XIRR(flows)
	require.False(t, math.IsNaN(irr))

	// The rate must actually zero the NPV.
	npv := 0.0
	t0 := flows[0].Date
	for _, f := range flows {
		years := f.Date.Sub(t0).Hours() / 24 / 365.25
		npv += f.Amount / math.Pow(1+irr, years)
	}
	assert.InDelta(t, 0.0, npv, 1e-2, "XIRR must be a root of the NPV function")
}

func TestXIRR_UnsortedInputHandled(t *testing.T) {
	flows := []DatedCashFlow{
		{Date: day(2024, 1, 1), Amount: 1100},
		{Date: day(2023, 1, 1), Amount: -1000},
	}
	assert.InDelta(t, 0.10, XIRR(flows), 1e-3, "order of input flows must not matter")
}

func TestXIRR_Degenerate(t *testing.T) {
	tests := []struct {
		name  string
		flows []DatedCashFlow
	}{
		{"empty", nil},
		{"single flow", []DatedCashFlow{{Date: day(2023, 1, 1), Amount: -1000}}},
		{"all negative", []DatedCashFlow{
			{Date: day(2023, 1, 1), Amount: -1000},
			{Date: day(2024, 1, 1), Amount: -500},
		}},
		{"all positive", []DatedCashFlow{
			{Date: day(2023, 1, 1), Amount: 1000},
			{Date: day(2024, 1, 1), Amount: 500},
		}},
		{"all zero", []DatedCashFlow{
			{Date: day(2023, 1, 1), Amount: 0},
			{Date: day(2024, 1, 1), Amount: 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, math.IsNaN(XIRR(tt.flows)), "degenerate input must yield NaN, never panic")
		})
	}
}

func TestXIRR_NegativeReturn(t *testing.T) {
	flows := []DatedCashFlow{
		{Date: day(2023, 1, 1), Amount: -1000},
		{Date: day(2024, 1, 1), Amount: 600},
	}
	assert.InDelta(t, -0.40, XIRR(flows), 1e-3)
}

func TestBrent_NoSignChange(t *testing.T) {
	f := func(x float64) float64 { return x*x + 1 }
	assert.True(t, math.IsNaN(brent(f, -10, 10, 1e-9, 100)))
}

func TestBrent_SimpleRoot(t *testing.T) {
	f := func(x float64) float64 { return x*x - 4 }
	assert.InDelta(t, 2.0, brent(f, 0, 10, 1e-9, 100), 1e-6)
}
