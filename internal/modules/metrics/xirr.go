// Package metrics contains the pure numeric functions behind the PME
// analysis: XIRR root-finding, the PME family (Kaplan-Schoar,
// Long-Nickels, PME+, Direct Alpha) and the supporting risk statistics.
// Every function is free of I/O and retains no state between calls;
// mathematically undefined results are reported as NaN, never coerced
// to zero.
package metrics

import (
	"math"
	"sort"
	"time"
)

// DatedCashFlow is one signed flow on a date. Negative amounts are
// contributions (money out of the investor), positive are distributions.
type DatedCashFlow struct {
	Date   time.Time
	Amount float64
}

// XIRR bracket and convergence bounds. The bracket reflects realistic
// fund return ranges: -99.99% to 1000% annualized.
const (
	xirrLowerBound = -0.9999
	xirrUpperBound = 10.0
	xirrTolerance  = 1e-9
	xirrMaxIter    = 200

	daysPerYear = 365.25
)

// XIRR computes the internal rate of return for irregularly-dated cash
// flows by solving sum(amount_i / (1+r)^t_i) == 0 with Brent's method
// over a fixed bracket. Time offsets are day counts from the first flow
// divided by 365.25, so irregular spacing is handled exactly.
//
// Fewer than two flows, all flows of one sign, no sign change of the
// NPV over the bracket, or non-convergence all yield NaN. These are
// documented non-existence of a root, not errors.
func XIRR(flows []DatedCashFlow) float64 {
	if len(flows) < 2 {
		return math.NaN()
	}

	hasPositive, hasNegative := false, false
	for _, f := range flows {
		if f.Amount > 0 {
			hasPositive = true
		}
		if f.Amount < 0 {
			hasNegative = true
		}
	}
	if !hasPositive || !hasNegative {
		return math.NaN()
	}

	ordered := make([]DatedCashFlow, len(flows))
	copy(ordered, flows)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	t0 := ordered[0].Date
	years := make([]float64, len(ordered))
	amounts := make([]float64, len(ordered))
	for i, f := range ordered {
		years[i] = f.Date.Sub(t0).Hours() / 24.0 / daysPerYear
		amounts[i] = f.Amount
	}

	npv := func(rate float64) float64 {
		total := 0.0
		for i := range amounts {
			total += amounts[i] / math.Pow(1.0+rate, years[i])
		}
		return total
	}

	return brent(npv, xirrLowerBound, xirrUpperBound, xirrTolerance, xirrMaxIter)
}

// brent finds a root of f in [a, b] using Brent's method: inverse
// quadratic interpolation and secant steps with a bisection fallback,
// so convergence is guaranteed once the bracket holds a sign change.
// Returns NaN when f(a) and f(b) share a sign or the iteration budget
// is exhausted.
func brent(f func(float64) float64, a, b, tol float64, maxIter int) float64 {
	fa := f(a)
	fb := f(b)
	if math.IsNaN(fa) || math.IsNaN(fb) || fa*fb > 0 {
		return math.NaN()
	}
	if fa == 0 {
		return a
	}
	if fb == 0 {
		return b
	}

	// Ensure b is the better estimate.
	if math.Abs(fa) < math.Abs(fb) {
		a, b = b, a
		fa, fb = fb, fa
	}

	c, fc := a, fa
	d := b - a
	mflag := true

	for i := 0; i < maxIter; i++ {
		if fb == 0 || math.Abs(b-a) < tol {
			return b
		}

		var s float64
		if fa != fc && fb != fc {
			// Inverse quadratic interpolation.
			s = a*fb*fc/((fa-fb)*(fa-fc)) +
				b*fa*fc/((fb-fa)*(fb-fc)) +
				c*fa*fb/((fc-fa)*(fc-fb))
		} else {
			// Secant step.
			s = b - fb*(b-a)/(fb-fa)
		}

		lo, hi := (3*a+b)/4, b
		if lo > hi {
			lo, hi = hi, lo
		}
		bisect := s < lo || s > hi ||
			(mflag && math.Abs(s-b) >= math.Abs(b-c)/2) ||
			(!mflag && math.Abs(s-b) >= math.Abs(c-d)/2) ||
			(mflag && math.Abs(b-c) < tol) ||
			(!mflag && math.Abs(c-d) < tol)

		if bisect {
			s = (a + b) / 2
			mflag = true
		} else {
			mflag = false
		}

		fs := f(s)
		d = c
		c, fc = b, fb

		if fa*fs < 0 {
			b, fb = s, fs
		} else {
			a, fa = s, fs
		}

		if math.Abs(fa) < math.Abs(fb) {
			a, b = b, a
			fa, fb = fb, fa
		}
	}

	return math.NaN()
}
