package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/beacon/internal/domain"
)

// KSPME computes the Kaplan-Schoar public market equivalent: every
// contribution and distribution is scaled to the final index date
// (amount * index_final / index_on_date), then the ratio of scaled
// distributions to scaled contributions is returned.
//
// Both slices must already be co-indexed by the alignment engine;
// mismatched lengths are a caller contract violation and return
// ErrLengthMismatch rather than silently truncating. Degenerate inputs
// follow the documented policy: no contributions or empty input yield
// NaN (the ratio has no denominator); contributions but no
// distributions yield 0.0 (the value exists and is zero).
func KSPME(cashflows, indexValues []float64) (float64, error) {
	if len(cashflows) != len(indexValues) {
		return math.NaN(), fmt.Errorf("%w: %d cash flows vs %d index values",
			domain.ErrLengthMismatch, len(cashflows), len(indexValues))
	}
	n := len(cashflows)
	if n == 0 {
		return math.NaN(), nil
	}

	finalIndex := indexValues[n-1]
	if math.IsNaN(finalIndex) || finalIndex <= 0 {
		return math.NaN(), nil
	}

	var scaledContrib, scaledDist float64
	for i := 0; i < n; i++ {
		cf := cashflows[i]
		if cf == 0 || math.IsNaN(cf) {
			continue
		}
		idx := indexValues[i]
		if math.IsNaN(idx) || idx <= 0 {
			return math.NaN(), nil
		}
		scaled := math.Abs(cf) * finalIndex / idx
		if cf < 0 {
			scaledContrib += scaled
		} else {
			scaledDist += scaled
		}
	}

	if scaledContrib == 0 {
		return math.NaN(), nil
	}
	return scaledDist / scaledContrib, nil
}

// DirectAlpha converts a fund IRR and an index IRR into a compounded
// excess return: (1+fund)/(1+index) - 1. NaN inputs propagate and a
// -100% index IRR (division by zero) is undefined.
func DirectAlpha(fundIRR, indexIRR float64) float64 {
	if math.IsNaN(fundIRR) || math.IsNaN(indexIRR) {
		return math.NaN()
	}
	if 1.0+indexIRR == 0 {
		return math.NaN()
	}
	return (1.0+fundIRR)/(1.0+indexIRR) - 1.0
}

// LNPME computes the Long-Nickels PME: a replicating portfolio buys
// index units with every fund contribution and sells them with every
// distribution; the ending unit balance is unwound at the final index
// price and the IRR of that synthetic flow series is returned together
// with the terminal portfolio value.
//
// Unlike KSPME and XIRR, degenerate input returns (0, 0) instead of
// NaN. This softer failure mode is preserved deliberately because
// LN-PME is a derived, secondary metric; see DESIGN.md for the
// recorded inconsistency.
func LNPME(cashflows, indexValues []float64, dates []time.Time) (irr, finalValue float64) {
	n := len(cashflows)
	if n == 0 || len(indexValues) != n || len(dates) != n {
		return 0, 0
	}

	units := 0.0
	flows := make([]DatedCashFlow, 0, n+1)
	for i := 0; i < n; i++ {
		cf := cashflows[i]
		if cf == 0 || math.IsNaN(cf) {
			continue
		}
		price := indexValues[i]
		if math.IsNaN(price) || price <= 0 {
			return 0, 0
		}
		// Contributions buy units, distributions sell them.
		units -= cf / price
		flows = append(flows, DatedCashFlow{Date: dates[i], Amount: cf})
	}
	if len(flows) == 0 {
		return 0, 0
	}

	finalPrice := indexValues[n-1]
	if math.IsNaN(finalPrice) || finalPrice <= 0 {
		return 0, 0
	}
	finalValue = units * finalPrice
	flows = append(flows, DatedCashFlow{Date: dates[n-1], Amount: finalValue})

	irr = XIRR(flows)
	if math.IsNaN(irr) {
		return 0, 0
	}
	return irr, finalValue
}

// PMEPlus computes the PME+ scaling factor lambda: scaled distributions
// plus the (unscaled) final NAV over scaled contributions, scaling as
// in KSPME. Zero contributions yield the neutral (1.0, 0.0). The excess
// value is 1/lambda - 1.
func PMEPlus(cashflows, navValues, indexValues []float64, dates []time.Time) (lambda, excess float64) {
	n := len(cashflows)
	if n == 0 || len(indexValues) != n {
		return 1.0, 0.0
	}

	finalIndex := indexValues[n-1]
	if math.IsNaN(finalIndex) || finalIndex <= 0 {
		return 1.0, 0.0
	}

	var scaledContrib, scaledDist float64
	for i := 0; i < n; i++ {
		cf := cashflows[i]
		if cf == 0 || math.IsNaN(cf) {
			continue
		}
		idx := indexValues[i]
		if math.IsNaN(idx) || idx <= 0 {
			return 1.0, 0.0
		}
		scaled := math.Abs(cf) * finalIndex / idx
		if cf < 0 {
			scaledContrib += scaled
		} else {
			scaledDist += scaled
		}
	}

	finalNAV := 0.0
	for i := len(navValues) - 1; i >= 0; i-- {
		if !math.IsNaN(navValues[i]) {
			finalNAV = navValues[i]
			break
		}
	}

	if scaledContrib == 0 {
		return 1.0, 0.0
	}
	lambda = (scaledDist + finalNAV) / scaledContrib
	if lambda == 0 {
		return lambda, math.NaN()
	}
	return lambda, 1.0/lambda - 1.0
}

// SafeDiv divides num by den, returning NaN for a zero or NaN
// denominator. This is the "undefined ratio" policy used throughout the
// metric set.
func SafeDiv(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) || math.IsNaN(num) {
		return math.NaN()
	}
	return num / den
}
