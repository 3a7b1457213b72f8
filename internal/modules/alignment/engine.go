// Package alignment reconciles two unevenly-sampled time series onto a
// single business-day grid. The output guarantee is the length
// invariant: both value columns and the date column always have the
// same length, no matter how mismatched the inputs were.
package alignment

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/domain"
)

// MissingStrategy selects how null cells are filled after the join.
type MissingStrategy string

const (
	ForwardFill  MissingStrategy = "forward_fill"
	BackwardFill MissingStrategy = "backward_fill"
	Interpolate  MissingStrategy = "interpolate"
	ZeroFill     MissingStrategy = "zero_fill"
	Drop         MissingStrategy = "drop"
)

// ParseStrategy validates a wire-format strategy name.
func ParseStrategy(s string) (MissingStrategy, error) {
	switch MissingStrategy(s) {
	case ForwardFill, BackwardFill, Interpolate, ZeroFill, Drop:
		return MissingStrategy(s), nil
	case "":
		return ForwardFill, nil
	}
	return "", fmt.Errorf("unknown missing strategy %q", s)
}

// AlignedPair is two value columns co-indexed by one ordered date grid.
// Invariant: len(Dates) == len(FundValues) == len(IndexValues).
// NaN marks a cell that is still unknown after filling.
type AlignedPair struct {
	Dates       []time.Time
	FundValues  []float64
	IndexValues []float64

	// Observations that fell outside the business-day grid (weekend or
	// holiday-dated inputs). They are not silently moved; callers decide
	// whether to warn.
	FundOffGrid  int
	IndexOffGrid int
}

// Len returns the grid length.
func (p *AlignedPair) Len() int { return len(p.Dates) }

// Start returns the first grid date.
func (p *AlignedPair) Start() time.Time { return p.Dates[0] }

// End returns the last grid date.
func (p *AlignedPair) End() time.Time { return p.Dates[len(p.Dates)-1] }

// ColumnStats summarizes one column of an aligned pair.
type ColumnStats struct {
	Known   int     `json:"known"`
	Missing int     `json:"missing"`
	Filled  int     `json:"filled"`
	OffGrid int     `json:"off_grid"`
	First   float64 `json:"first"`
	Last    float64 `json:"last"`
}

// Summary is the diagnostic readout for one alignment.
type Summary struct {
	TotalDates int         `json:"total_dates"`
	Start      string      `json:"start"`
	End        string      `json:"end"`
	FundStats  ColumnStats `json:"fund_stats"`
	IndexStats ColumnStats `json:"index_stats"`
}

// Engine performs the alignment. It holds no state between calls and is
// safe for concurrent use.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates an alignment engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "alignment").Logger()}
}

// Align joins fund and index onto the shared business-day grid spanning
// both series, then applies the missing-value strategy to each column
// independently. Inputs are not mutated.
func (e *Engine) Align(fund, index domain.Series, strategy MissingStrategy) (*AlignedPair, error) {
	fund = sorted(fund)
	index = sorted(index)

	if err := fund.Validate(); err != nil {
		return nil, err
	}
	if err := index.Validate(); err != nil {
		return nil, err
	}

	minDate := fund.MinDate()
	if index.MinDate().Before(minDate) {
		minDate = index.MinDate()
	}
	maxDate := fund.MaxDate()
	if index.MaxDate().After(maxDate) {
		maxDate = index.MaxDate()
	}

	grid := BusinessDayGrid(minDate, maxDate)
	if len(grid) == 0 {
		// Both series live entirely on a weekend. Degenerate but valid
		// input; fall back to the raw date span so the invariant holds.
		grid = calendarGrid(minDate, maxDate)
	}

	fundCol, fundOff := joinToGrid(fund, grid)
	indexCol, indexOff := joinToGrid(index, grid)

	Fill(fundCol, grid, strategy)
	Fill(indexCol, grid, strategy)

	pair := &AlignedPair{
		Dates:        grid,
		FundValues:   fundCol,
		IndexValues:  indexCol,
		FundOffGrid:  fundOff,
		IndexOffGrid: indexOff,
	}

	e.log.Debug().
		Int("grid_len", len(grid)).
		Int("fund_points", fund.Len()).
		Int("index_points", index.Len()).
		Str("strategy", string(strategy)).
		Msg("Aligned series onto business-day grid")

	return pair, nil
}

// Reindex joins a single series onto an existing grid and fills it. Used
// by the orchestrator for the NAV column.
func (e *Engine) Reindex(s domain.Series, grid []time.Time, strategy MissingStrategy) ([]float64, error) {
	s = sorted(s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	col, _ := joinToGrid(s, grid)
	Fill(col, grid, strategy)
	return col, nil
}

// GetSummary computes the diagnostic readout for an aligned pair. The
// filled counts require the pre-fill column, so the summary recomputes
// membership from the pair's own grid.
func (e *Engine) GetSummary(p *AlignedPair, fund, index domain.Series) Summary {
	return Summary{
		TotalDates: p.Len(),
		Start:      p.Start().Format(domain.DateLayout),
		End:        p.End().Format(domain.DateLayout),
		FundStats:  columnStats(p.FundValues, sorted(fund), p.Dates, p.FundOffGrid),
		IndexStats: columnStats(p.IndexValues, sorted(index), p.Dates, p.IndexOffGrid),
	}
}

// BusinessDayGrid returns every Mon-Fri calendar day in [start, end].
func BusinessDayGrid(start, end time.Time) []time.Time {
	var grid []time.Time
	for d := domain.Normalize(start); !d.After(domain.Normalize(end)); d = d.AddDate(0, 0, 1) {
		if domain.IsBusinessDay(d) {
			grid = append(grid, d)
		}
	}
	return grid
}

func calendarGrid(start, end time.Time) []time.Time {
	var grid []time.Time
	for d := domain.Normalize(start); !d.After(domain.Normalize(end)); d = d.AddDate(0, 0, 1) {
		grid = append(grid, d)
	}
	return grid
}

// sorted returns a copy of s with points ordered by date. Ordering is
// normalization; duplicate detection stays in Validate.
func sorted(s domain.Series) domain.Series {
	out := domain.Series{Name: s.Name, Points: make([]domain.Point, len(s.Points))}
	copy(out.Points, s.Points)
	sort.Slice(out.Points, func(i, j int) bool {
		return out.Points[i].Date.Before(out.Points[j].Date)
	})
	return out
}

// joinToGrid left-joins the series onto the grid. Cells without an
// observation become NaN. Returns the column and the count of
// observations whose date is not on the grid.
func joinToGrid(s domain.Series, grid []time.Time) ([]float64, int) {
	byDate := make(map[int64]float64, s.Len())
	for _, p := range s.Points {
		byDate[p.Date.Unix()] = p.Value
	}

	col := make([]float64, len(grid))
	matched := 0
	for i, d := range grid {
		if v, ok := byDate[d.Unix()]; ok {
			col[i] = v
			matched++
		} else {
			col[i] = math.NaN()
		}
	}
	return col, s.Len() - matched
}

// Fill applies the missing-value strategy to a column in place. Drop
// leaves NaNs for the caller to handle.
func Fill(col []float64, grid []time.Time, strategy MissingStrategy) {
	switch strategy {
	case ForwardFill:
		forwardFill(col)
	case BackwardFill:
		backwardFill(col)
	case Interpolate:
		interpolate(col, grid)
	case ZeroFill:
		for i := range col {
			if math.IsNaN(col[i]) {
				col[i] = 0.0
			}
		}
	case Drop:
		// Caller handles remaining NaNs.
	}
}

// forwardFill propagates the last known value forward. Leading NaNs stay.
func forwardFill(col []float64) {
	last := math.NaN()
	for i := range col {
		if math.IsNaN(col[i]) {
			col[i] = last
		} else {
			last = col[i]
		}
	}
}

// backwardFill propagates the next known value backward. Trailing NaNs stay.
func backwardFill(col []float64) {
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
		} else {
			next = col[i]
		}
	}
}

// interpolate fills interior gaps linearly in calendar time. No
// extrapolation beyond the first or last known value.
func interpolate(col []float64, grid []time.Time) {
	n := len(col)
	i := 0
	for i < n {
		if !math.IsNaN(col[i]) {
			i++
			continue
		}
		// Find the known bounds of this gap.
		lo := i - 1
		hi := i
		for hi < n && math.IsNaN(col[hi]) {
			hi++
		}
		if lo < 0 || hi >= n {
			// Leading or trailing gap: leave as NaN.
			i = hi
			continue
		}
		x0 := float64(grid[lo].Unix())
		x1 := float64(grid[hi].Unix())
		for j := i; j < hi; j++ {
			x := float64(grid[j].Unix())
			frac := (x - x0) / (x1 - x0)
			col[j] = col[lo] + frac*(col[hi]-col[lo])
		}
		i = hi
	}
}

func columnStats(col []float64, src domain.Series, grid []time.Time, offGrid int) ColumnStats {
	onGrid := make(map[int64]bool, len(grid))
	for _, d := range grid {
		onGrid[d.Unix()] = true
	}
	known := 0
	for _, p := range src.Points {
		if onGrid[p.Date.Unix()] {
			known++
		}
	}
	missing := 0
	for _, v := range col {
		if math.IsNaN(v) {
			missing++
		}
	}
	stats := ColumnStats{
		Known:   known,
		Missing: missing,
		Filled:  len(col) - known - missing,
		OffGrid: offGrid,
		First:   math.NaN(),
		Last:    math.NaN(),
	}
	for _, v := range col {
		if !math.IsNaN(v) {
			stats.First = v
			break
		}
	}
	for i := len(col) - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			stats.Last = col[i]
			break
		}
	}
	return stats
}
