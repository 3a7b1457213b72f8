package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Periods per year for the supported sampling frequencies.
const (
	PeriodsDaily     = 252
	PeriodsMonthly   = 12
	PeriodsQuarterly = 4
)

// clean returns the finite observations of a series, preserving order.
func clean(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// PctChange derives simple returns from a level series. Cells where the
// previous level is missing or non-positive are NaN, not zero: an
// unknown return must stay distinguishable from a flat one.
func PctChange(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev, cur := values[i-1], values[i]
		if math.IsNaN(prev) || math.IsNaN(cur) || prev <= 0 {
			out[i-1] = math.NaN()
			continue
		}
		out[i-1] = (cur - prev) / prev
	}
	return out
}

// Volatility is the sample standard deviation of the returns scaled to
// annual terms by sqrt(periods per year). Fewer than two finite
// observations make it undefined.
func Volatility(returns []float64, periodsPerYear float64) float64 {
	obs := clean(returns)
	if len(obs) < 2 || periodsPerYear <= 0 {
		return math.NaN()
	}
	return stat.StdDev(obs, nil) * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the worst peak-to-trough decline of a level series:
// min((v_t - runningMax_t) / runningMax_t). A monotonically
// non-decreasing series has drawdown 0; fewer than two points is
// undefined.
func MaxDrawdown(values []float64) float64 {
	obs := clean(values)
	if len(obs) < 2 {
		return math.NaN()
	}
	runningMax := obs[0]
	worst := 0.0
	for _, v := range obs[1:] {
		if v > runningMax {
			runningMax = v
			continue
		}
		if runningMax > 0 {
			dd := (v - runningMax) / runningMax
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// AlphaBeta regresses fund returns on index returns with an intercept
// (ordinary least squares). Observations where either side is missing
// are dropped pair-wise; fewer than three overlapping points, or an
// index with zero variance, make the regression singular and both
// coefficients undefined.
func AlphaBeta(fundReturns, indexReturns []float64) (alpha, beta float64) {
	n := len(fundReturns)
	if len(indexReturns) < n {
		n = len(indexReturns)
	}

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x, y := indexReturns[i], fundReturns[i]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}

	if len(xs) < 3 {
		return math.NaN(), math.NaN()
	}
	if stat.Variance(xs, nil) == 0 {
		return math.NaN(), math.NaN()
	}

	alpha, beta = stat.LinearRegression(xs, ys, nil, false)
	return alpha, beta
}

// AnnualizedReturn compounds a return series to annual terms using the
// mean of log(1+r), which avoids overflow on long series. Any single
// return at or below -100% makes the cumulative product non-positive
// and the result undefined.
func AnnualizedReturn(returns []float64, periodsPerYear float64) float64 {
	obs := clean(returns)
	if len(obs) == 0 || periodsPerYear <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, r := range obs {
		if 1.0+r <= 0 {
			return math.NaN()
		}
		sum += math.Log1p(r)
	}
	mean := sum / float64(len(obs))
	return math.Expm1(mean * periodsPerYear)
}

// BestWorstWindow scans rolling windows of the given length and returns
// the best and worst compounded window return. A series shorter than
// one window has no defined answer.
func BestWorstWindow(returns []float64, window int) (best, worst float64) {
	obs := clean(returns)
	if window <= 0 || len(obs) < window {
		return math.NaN(), math.NaN()
	}

	best = math.Inf(-1)
	worst = math.Inf(1)
	for start := 0; start+window <= len(obs); start++ {
		cum := 1.0
		for _, r := range obs[start : start+window] {
			cum *= 1.0 + r
		}
		ret := cum - 1.0
		if ret > best {
			best = ret
		}
		if ret < worst {
			worst = ret
		}
	}
	return best, worst
}
