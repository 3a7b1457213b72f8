// Package domain defines the core data model shared by the alignment
// engine, the metric library and the analysis orchestrator. The domain
// layer is pure: no infrastructure dependencies.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for series validation. Callers classify these into the
// envelope taxonomy (data_validation) at the orchestrator boundary.
var (
	ErrEmptySeries    = errors.New("series has no observations")
	ErrDuplicateDate  = errors.New("series contains duplicate dates")
	ErrUnsortedSeries = errors.New("series dates are not strictly increasing")
	ErrLengthMismatch = errors.New("aligned slices have mismatched lengths")
)

// Point is a single (date, value) observation.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is an ordered sequence of (date, value) pairs with unique,
// strictly increasing dates. A value of NaN marks a known date with an
// unknown value.
type Series struct {
	Name   string  `json:"name,omitempty"`
	Points []Point `json:"points"`
}

// FundRecord is one fund observation: a signed cash flow (negative =
// contribution from the investor, positive = distribution back) and an
// optional NAV on the same date (NaN when not reported).
type FundRecord struct {
	Date     time.Time `json:"date"`
	Cashflow float64   `json:"cashflow"`
	NAV      float64   `json:"nav"`
}

// PricePoint is one index observation: a positive level or price.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// Wire formats: dates travel as ISO-8601 strings and a missing NAV is
// null or absent, never zero. NaN is the in-memory marker only.

type fundRecordWire struct {
	Date     string   `json:"date"`
	Cashflow float64  `json:"cashflow"`
	NAV      *float64 `json:"nav,omitempty"`
}

// MarshalJSON encodes the record with an omitted NAV when none was
// reported.
func (r FundRecord) MarshalJSON() ([]byte, error) {
	wire := fundRecordWire{Date: r.Date.Format(DateLayout), Cashflow: r.Cashflow}
	if !math.IsNaN(r.NAV) {
		nav := r.NAV
		wire.NAV = &nav
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the record, mapping a null or absent NAV to NaN.
func (r *FundRecord) UnmarshalJSON(data []byte) error {
	var wire fundRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	date, err := ParseDate(wire.Date)
	if err != nil {
		return err
	}
	r.Date = date
	r.Cashflow = wire.Cashflow
	if wire.NAV != nil {
		r.NAV = *wire.NAV
	} else {
		r.NAV = math.NaN()
	}
	return nil
}

type pricePointWire struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// MarshalJSON encodes the point with an ISO-8601 date.
func (p PricePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(pricePointWire{Date: p.Date.Format(DateLayout), Price: p.Price})
}

// UnmarshalJSON decodes the point, accepting ISO-8601 or RFC3339 dates.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var wire pricePointWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	date, err := ParseDate(wire.Date)
	if err != nil {
		return err
	}
	p.Date = date
	p.Price = wire.Price
	return nil
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Points) }

// MinDate returns the first observation date. Callers must check Len first.
func (s Series) MinDate() time.Time { return s.Points[0].Date }

// MaxDate returns the last observation date. Callers must check Len first.
func (s Series) MaxDate() time.Time { return s.Points[len(s.Points)-1].Date }

// Values returns the value column as a slice.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Dates returns the date column as a slice.
func (s Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// Validate checks the series invariants: at least one observation and
// unique, strictly increasing dates. Duplicate dates are a validation
// error, never a silent dedup.
func (s Series) Validate() error {
	if len(s.Points) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptySeries, s.Name)
	}
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1].Date, s.Points[i].Date
		if cur.Equal(prev) {
			return fmt.Errorf("%w: %q at %s", ErrDuplicateDate, s.Name, cur.Format(DateLayout))
		}
		if cur.Before(prev) {
			return fmt.Errorf("%w: %q at %s", ErrUnsortedSeries, s.Name, cur.Format(DateLayout))
		}
	}
	return nil
}

// DateLayout is the canonical wire format for dates (ISO-8601 date).
const DateLayout = "2006-01-02"

// ParseDate parses an ISO-8601 date (with an RFC3339 fallback for
// timestamped inputs) and normalizes it to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Normalize(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q: %w", s, err)
	}
	return Normalize(t), nil
}

// Normalize truncates a timestamp to UTC midnight so that dates from
// different calendars and timezones land on one comparable grid.
func Normalize(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports whether t falls on Mon-Fri.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// FundSeries converts fund records to the cash-flow Series used by the
// alignment engine.
func FundSeries(records []FundRecord) Series {
	s := Series{Name: "fund"}
	for _, r := range records {
		s.Points = append(s.Points, Point{Date: Normalize(r.Date), Value: r.Cashflow})
	}
	return s
}

// NAVSeries extracts the NAV column from fund records, skipping dates
// where no NAV was reported.
func NAVSeries(records []FundRecord) Series {
	s := Series{Name: "nav"}
	for _, r := range records {
		if !math.IsNaN(r.NAV) {
			s.Points = append(s.Points, Point{Date: Normalize(r.Date), Value: r.NAV})
		}
	}
	return s
}

// IndexSeries converts index price points to a Series.
func IndexSeries(points []PricePoint) Series {
	s := Series{Name: "index"}
	for _, p := range points {
		s.Points = append(s.Points, Point{Date: Normalize(p.Date), Value: p.Price})
	}
	return s
}
