package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/beacon/internal/domain"
)

// ksPME unwraps the co-indexing contract for fixtures that are aligned
// by construction.
func ksPME(t *testing.T, cashflows, indexValues []float64) float64 {
	t.Helper()
	v, err := KSPME(cashflows, indexValues)
	require.NoError(t, err)
	return v
}

func TestKSPME_FlatIndexIsMultiple(t *testing.T) {
	// With a flat index the scaling is a no-op, so KS-PME collapses to
	// plain distributions over contributions.
	cashflows := []float64{-1000, 0, 400, 0, 800}
	index := []float64{100, 100, 100, 100, 100}

	assert.InDelta(t, 1.2, ksPME(t, cashflows, index), 1e-12)
}

func TestKSPME_RisingIndexDiscountsEarlyDistributions(t *testing.T) {
	cashflows := []float64{-1000, 500, 700}
	index := []float64{100, 110, 120}

	// Contribution scales by 120/100, distributions by 120/110 and 120/120.
	contrib := 1000 * 120.0 / 100.0
	dist := 500*120.0/110.0 + 700.0
	assert.InDelta(t, dist/contrib, ksPME(t, cashflows, index), 1e-12)
}

func TestKSPME_IndexMonotonicity(t *testing.T) {
	// A stronger index makes the same fund flows look worse.
	cashflows := []float64{-1000, 0, 1500}
	weak := []float64{100, 105, 110}
	strong := []float64{100, 130, 160}

	assert.Greater(t, ksPME(t, cashflows, weak), ksPME(t, cashflows, strong))
}

func TestKSPME_EdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.True(t, math.IsNaN(ksPME(t, nil, nil)))
	})
	t.Run("no contributions", func(t *testing.T) {
		assert.True(t, math.IsNaN(ksPME(t, []float64{0, 500}, []float64{100, 110})))
	})
	t.Run("no distributions", func(t *testing.T) {
		assert.Equal(t, 0.0, ksPME(t, []float64{-1000, 0}, []float64{100, 110}))
	})
	t.Run("non-positive index on a flow date", func(t *testing.T) {
		assert.True(t, math.IsNaN(ksPME(t, []float64{-1000, 500}, []float64{0, 110})))
	})
	t.Run("NaN final index", func(t *testing.T) {
		assert.True(t, math.IsNaN(ksPME(t, []float64{-1000, 500}, []float64{100, math.NaN()})))
	})
	t.Run("mismatched lengths", func(t *testing.T) {
		v, err := KSPME([]float64{-1000, 500}, []float64{100})
		assert.ErrorIs(t, err, domain.ErrLengthMismatch)
		assert.True(t, math.IsNaN(v))
	})
}

func TestDirectAlpha(t *testing.T) {
	assert.InDelta(t, 0.0454545, DirectAlpha(0.15, 0.10), 1e-6)
	assert.InDelta(t, 0.0, DirectAlpha(0.10, 0.10), 1e-12)
	assert.Less(t, DirectAlpha(0.05, 0.10), 0.0)

	assert.True(t, math.IsNaN(DirectAlpha(math.NaN(), 0.10)))
	assert.True(t, math.IsNaN(DirectAlpha(0.15, math.NaN())))
	assert.True(t, math.IsNaN(DirectAlpha(0.15, -1.0)), "a -100%% index IRR has no defined excess")
}

func TestLNPME_FlatIndexEarnsZero(t *testing.T) {
	// On a flat index the replicating portfolio earns nothing: the
	// terminal unwind exactly cancels the flows and the IRR is zero.
	dates := []time.Time{day(2022, 1, 3), day(2022, 7, 1), day(2023, 1, 2)}
	cashflows := []float64{-1000, 0, 1150}
	index := []float64{250, 250, 250}

	irr, final := LNPME(cashflows, index, dates)

	require.False(t, math.IsNaN(irr))
	assert.InDelta(t, 0.0, irr, 1e-6)
	// Units: 1000/250 bought, 1150/250 sold, net -0.6 units at 250.
	assert.InDelta(t, -150.0, final, 1e-9)
}

func TestLNPME_TracksIndexReturn(t *testing.T) {
	// A single contribution held to the end replicates the index exactly:
	// the LN IRR is the index's own return.
	dates := []time.Time{day(2022, 1, 3), day(2023, 1, 3)}
	cashflows := []float64{-1000, 0}
	index := []float64{100, 120}

	irr, final := LNPME(cashflows, index, dates)

	require.False(t, math.IsNaN(irr))
	assert.InDelta(t, 1200.0, final, 1e-9)
	assert.InDelta(t, 0.20, irr, 5e-3)
}

func TestLNPME_DegenerateReturnsZeros(t *testing.T) {
	tests := []struct {
		name      string
		cashflows []float64
		index     []float64
		dates     []time.Time
	}{
		{"empty", nil, nil, nil},
		{"length mismatch", []float64{-1000}, []float64{100, 110}, []time.Time{day(2022, 1, 3)}},
		{"zero index price", []float64{-1000, 1100}, []float64{0, 110}, []time.Time{day(2022, 1, 3), day(2023, 1, 3)}},
		{"only zero flows", []float64{0, 0}, []float64{100, 110}, []time.Time{day(2022, 1, 3), day(2023, 1, 3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			irr, final := LNPME(tt.cashflows, tt.index, tt.dates)
			assert.Equal(t, 0.0, irr)
			assert.Equal(t, 0.0, final)
		})
	}
}

func TestPMEPlus(t *testing.T) {
	dates := []time.Time{day(2022, 1, 3), day(2022, 7, 1), day(2023, 1, 2)}

	t.Run("flat index with residual NAV", func(t *testing.T) {
		cashflows := []float64{-1000, 400, 0}
		navs := []float64{1000, 700, 750}
		index := []float64{100, 100, 100}

		lambda, excess := PMEPlus(cashflows, navs, index, dates)

		// (400 + 750) / 1000 on a flat index.
		assert.InDelta(t, 1.15, lambda, 1e-12)
		assert.InDelta(t, 1.0/1.15-1.0, excess, 1e-12)
	})

	t.Run("no contributions is neutral", func(t *testing.T) {
		lambda, excess := PMEPlus([]float64{0, 0, 0}, []float64{0, 0, 0}, []float64{100, 100, 100}, dates)
		assert.Equal(t, 1.0, lambda)
		assert.Equal(t, 0.0, excess)
	})

	t.Run("nav trailing NaN uses last finite value", func(t *testing.T) {
		cashflows := []float64{-1000, 0, 0}
		navs := []float64{1000, 1100, math.NaN()}
		index := []float64{100, 100, 100}

		lambda, _ := PMEPlus(cashflows, navs, index, dates)
		assert.InDelta(t, 1.1, lambda, 1e-12)
	})

	t.Run("total loss yields undefined excess", func(t *testing.T) {
		cashflows := []float64{-1000, 0, 0}
		navs := []float64{0, 0, 0}
		index := []float64{100, 100, 100}

		lambda, excess := PMEPlus(cashflows, navs, index, dates)
		assert.Equal(t, 0.0, lambda)
		assert.True(t, math.IsNaN(excess))
	})
}

func TestSafeDiv(t *testing.T) {
	assert.InDelta(t, 2.5, SafeDiv(5, 2), 1e-12)
	assert.True(t, math.IsNaN(SafeDiv(5, 0)))
	assert.True(t, math.IsNaN(SafeDiv(math.NaN(), 2)))
	assert.True(t, math.IsNaN(SafeDiv(5, math.NaN())))
}
