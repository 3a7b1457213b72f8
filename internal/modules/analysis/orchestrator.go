// Package analysis hosts the orchestrator that turns raw fund and index
// series into the PME metrics dictionary. It owns sequencing, option
// handling and anomaly collection; all numeric work lives in the
// metrics package and all grid work in the alignment package.
package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/domain"
	"github.com/aristath/beacon/internal/envelope"
	"github.com/aristath/beacon/internal/modules/alignment"
	"github.com/aristath/beacon/internal/modules/metrics"
)

// fillWarnRatio is the fraction of synthesized cells in a column above
// which the result is flagged as partial.
const fillWarnRatio = 0.10

// bestWorstWindow is the rolling window, in business days, behind the
// best/worst 1Y return metrics.
const bestWorstWindow = 252

// Orchestrator wires the alignment engine and the metric library into
// the single ComputePMEMetrics entry point. Stateless and safe for
// concurrent use.
type Orchestrator struct {
	aligner *alignment.Engine
	log     zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		aligner: alignment.NewEngine(log),
		log:     log.With().Str("component", "analysis").Logger(),
	}
}

// ComputePMEMetrics runs the full pipeline: validate, align, derive the
// cash-flow and level columns, compute every metric, and classify the
// outcome. The returned envelope is always well-formed; panics inside
// the pipeline surface as system-category errors.
func (o *Orchestrator) ComputePMEMetrics(req Request) envelope.Envelope {
	return envelope.Run("compute_pme_metrics", o.log, func(c *envelope.Collector) any {
		return o.compute(req, c)
	})
}

// Preview is the payload of an alignment dry run: the aligned columns
// and the fill diagnostics, before any metric is computed.
type Preview struct {
	Dates       []time.Time       `json:"dates"`
	FundValues  []float64         `json:"fund_values"`
	IndexValues []float64         `json:"index_values"`
	Summary     alignment.Summary `json:"summary"`
}

// PreviewAlignment runs the alignment stage alone, so callers can
// inspect the grid and fill behavior before committing to an analysis.
func (o *Orchestrator) PreviewAlignment(req Request) envelope.Envelope {
	return envelope.Run("preview_alignment", o.log, func(c *envelope.Collector) any {
		strategy, err := alignment.ParseStrategy(req.Options.MissingStrategy)
		if err != nil {
			c.AddValidationError("bad_strategy", err.Error(), nil)
			return nil
		}
		if len(req.Fund) == 0 {
			c.AddValidationError("empty_fund", "fund series has no records", nil)
		}
		if len(req.Index) == 0 {
			c.AddValidationError("empty_index", "index series has no records", nil)
		}
		if c.HasErrors() {
			return nil
		}

		fundSeries := domain.FundSeries(req.Fund)
		indexSeries := domain.IndexSeries(req.Index)

		pair, err := o.aligner.Align(fundSeries, indexSeries, strategy)
		if err != nil {
			c.AddValidationError("invalid_series", err.Error(), nil)
			return nil
		}
		summary := o.aligner.GetSummary(pair, fundSeries, indexSeries)
		warnOnFill(c, "fund", summary.FundStats, summary.TotalDates)
		warnOnFill(c, "index", summary.IndexStats, summary.TotalDates)

		return Preview{
			Dates:       pair.Dates,
			FundValues:  pair.FundValues,
			IndexValues: pair.IndexValues,
			Summary:     summary,
		}
	})
}

func (o *Orchestrator) compute(req Request, c *envelope.Collector) any {
	method, err := ParseMethod(req.Options.Method)
	if err != nil {
		c.AddValidationError("bad_method", err.Error(), nil)
		return nil
	}
	strategy, err := alignment.ParseStrategy(req.Options.MissingStrategy)
	if err != nil {
		c.AddValidationError("bad_strategy", err.Error(), nil)
		return nil
	}
	confidence := req.Options.ConfidenceLevel
	if confidence == 0 {
		confidence = defaultConfidence
	}
	if confidence <= 0 || confidence >= 1 {
		c.AddValidationError("bad_confidence", "confidence level must be in (0, 1)", map[string]any{
			"confidence_level": req.Options.ConfidenceLevel,
		})
		return nil
	}

	if len(req.Fund) == 0 {
		c.AddValidationError("empty_fund", "fund series has no records", nil)
	}
	if len(req.Index) == 0 {
		c.AddValidationError("empty_index", "index series has no records", nil)
	}
	if c.HasErrors() {
		return nil
	}

	fundSeries := domain.FundSeries(req.Fund)
	indexSeries := domain.IndexSeries(req.Index)

	pair, err := o.aligner.Align(fundSeries, indexSeries, strategy)
	if err != nil {
		c.AddValidationError("invalid_series", err.Error(), nil)
		return nil
	}

	if req.Options.LagDays != 0 {
		shiftColumn(pair.IndexValues, req.Options.LagDays)
		alignment.Fill(pair.IndexValues, pair.Dates, strategy)
		// Close only the edge cells the shift vacated; interior gaps
		// stay under the configured strategy's control.
		fillShiftEdges(pair.IndexValues, req.Options.LagDays)
	}
	if req.Options.SmoothIndex {
		o.smoothIndex(pair, req.Options.SmoothWindow, c)
	}

	summary := o.aligner.GetSummary(pair, fundSeries, indexSeries)
	warnOnFill(c, "fund", summary.FundStats, summary.TotalDates)
	warnOnFill(c, "index", summary.IndexStats, summary.TotalDates)
	if pair.FundOffGrid > 0 || pair.IndexOffGrid > 0 {
		c.AddValidationWarning("off_grid_dates", "some observations fall outside the business-day grid", map[string]any{
			"fund_off_grid":  pair.FundOffGrid,
			"index_off_grid": pair.IndexOffGrid,
		})
	}

	dict := o.assembleMetrics(req, method, strategy, pair, c)
	dict[KeyMethodUsed] = method
	dict[KeyRiskFreeRate] = req.Options.RiskFreeRate
	dict[KeyConfidence] = confidence

	if c.HasErrors() {
		return nil
	}
	return Result{Metrics: dict, Alignment: summary}
}

// assembleMetrics computes every dictionary entry. PME metrics use the
// raw fund flows paired with the aligned index sampled at each flow
// date: filling must never synthesize cash movements, only index
// levels.
func (o *Orchestrator) assembleMetrics(req Request, method string, strategy alignment.MissingStrategy, pair *alignment.AlignedPair, c *envelope.Collector) map[string]any {
	records := sortedRecords(req.Fund)

	var contributions, distributions float64
	flows := make([]metrics.DatedCashFlow, 0, len(records))
	flowDates := make([]time.Time, 0, len(records))
	flowAmounts := make([]float64, 0, len(records))
	for _, r := range records {
		d := domain.Normalize(r.Date)
		if r.Cashflow < 0 {
			contributions += -r.Cashflow
		} else {
			distributions += r.Cashflow
		}
		if r.Cashflow != 0 {
			flows = append(flows, metrics.DatedCashFlow{Date: d, Amount: r.Cashflow})
			flowDates = append(flowDates, d)
			flowAmounts = append(flowAmounts, r.Cashflow)
		}
	}

	finalNAV, navDate := lastReportedNAV(records)
	if math.IsNaN(finalNAV) {
		c.AddCalculationWarning("no_nav", "no NAV reported; residual value treated as zero and RVPI is undefined", nil)
	}

	// Fund IRR treats an unrealized NAV as a terminal distribution.
	irrFlows := flows
	if !math.IsNaN(finalNAV) && finalNAV != 0 {
		irrFlows = append(append([]metrics.DatedCashFlow{}, flows...), metrics.DatedCashFlow{Date: navDate, Amount: finalNAV})
	}
	fundIRR := metrics.XIRR(irrFlows)
	if math.IsNaN(fundIRR) && len(flows) > 0 {
		c.AddCalculationWarning("irr_undefined", "fund IRR has no real solution for these flows", nil)
	}

	// Index levels at each flow date, plus the grid-final level so the
	// PME horizon matches the full grid.
	flowIndex, ok := indexAtDates(pair, flowDates)
	if !ok {
		c.AddCalculationError("index_gap", "index level unavailable on one or more cash-flow dates", nil)
		return map[string]any{}
	}
	pmeFlows := append(append([]float64{}, flowAmounts...), 0)
	pmeIndex := append(append([]float64{}, flowIndex...), lastFinite(pair.IndexValues))
	pmeDates := append(append([]time.Time{}, flowDates...), pair.End())

	ksRatio, err := metrics.KSPME(pmeFlows, pmeIndex)
	if err != nil {
		c.AddCalculationError("length_mismatch", err.Error(), nil)
		return map[string]any{}
	}
	lnIRR, _ := metrics.LNPME(pmeFlows, pmeIndex, pmeDates)
	navCol := o.navColumn(records, pair, strategy)
	lambda, _ := pmePlusOn(pmeFlows, pmeIndex, pmeDates, finalNAV)
	indexIRR := lnIRR
	// The dictionary's Direct Alpha is the simple IRR difference; the
	// compounded variant stays the direct_alpha method's headline value.
	// They answer different questions and are reported separately.
	directAlpha := fundIRR - indexIRR
	compoundedAlpha := metrics.DirectAlpha(fundIRR, indexIRR)

	// The headline value depends on the requested methodology; the named
	// per-method metrics are always present regardless.
	var pmeValue, pmeIRRValue float64
	switch method {
	case MethodKaplanSchoar:
		pmeValue, pmeIRRValue = ksRatio, lnIRR
	case MethodLongNickels:
		pmeValue, pmeIRRValue = fundIRR-lnIRR, lnIRR
	case MethodModifiedPME:
		pmeValue, pmeIRRValue = lambda, lnIRR
	case MethodDirectAlpha:
		pmeValue, pmeIRRValue = compoundedAlpha, indexIRR
	}

	// Level-based risk statistics: index from its own column, fund from
	// the NAV trajectory when one exists.
	indexReturns := metrics.PctChange(pair.IndexValues)
	indexVol := metrics.Volatility(indexReturns, metrics.PeriodsDaily)
	indexDD := metrics.MaxDrawdown(pair.IndexValues)
	indexBest, indexWorst := metrics.BestWorstWindow(indexReturns, bestWorstWindow)

	fundVol, fundDD := math.NaN(), math.NaN()
	fundBest, fundWorst := math.NaN(), math.NaN()
	alpha, beta := math.NaN(), math.NaN()
	if navCol != nil {
		fundReturns := metrics.PctChange(navCol)
		fundVol = metrics.Volatility(fundReturns, metrics.PeriodsDaily)
		fundDD = metrics.MaxDrawdown(navCol)
		fundBest, fundWorst = metrics.BestWorstWindow(fundReturns, bestWorstWindow)
		alpha, beta = metrics.AlphaBeta(fundReturns, indexReturns)
	} else {
		c.AddCalculationWarning("no_fund_levels", "fund volatility, drawdown and regression need a NAV series", nil)
	}

	residual := 0.0
	if !math.IsNaN(finalNAV) {
		residual = finalNAV
	}
	dpi := metrics.SafeDiv(distributions, contributions)
	rvpi := metrics.SafeDiv(finalNAV, contributions)
	tvpi := metrics.SafeDiv(distributions+residual, contributions)

	firstIndex := firstFinite(pair.IndexValues)
	lastIndex := lastFinite(pair.IndexValues)
	indexTVPI := metrics.SafeDiv(lastIndex, firstIndex)

	finalNAVOut := finalNAV
	return map[string]any{
		KeyFundIRR:       fundIRR,
		KeyTVPI:          tvpi,
		KeyDPI:           dpi,
		KeyRVPI:          rvpi,
		KeyKSPME:         ksRatio,
		KeyPMEIRR:        pmeIRRValue,
		KeyIndexIRR:      indexIRR,
		KeyIndexTVPI:     indexTVPI,
		KeyDirectAlpha:   directAlpha,
		KeyAlpha:         alpha,
		KeyBeta:          beta,
		KeyFundVol:       fundVol,
		KeyIndexVol:      indexVol,
		KeyFundDrawdown:  fundDD,
		KeyIndexDrawdown: indexDD,
		KeyFundBest1Y:    fundBest,
		KeyFundWorst1Y:   fundWorst,
		KeyIndexBest1Y:   indexBest,
		KeyIndexWorst1Y:  indexWorst,
		KeyContributions: contributions,
		KeyDistributions: distributions,
		KeyFinalNAV:      finalNAVOut,
		KeyPMEValue:      pmeValue,
	}
}

// navColumn reindexes the fund's NAV observations onto the pair's grid,
// or returns nil when the fund reports no NAVs at all.
func (o *Orchestrator) navColumn(records []domain.FundRecord, pair *alignment.AlignedPair, strategy alignment.MissingStrategy) []float64 {
	nav := domain.NAVSeries(records)
	if nav.Len() < 2 {
		return nil
	}
	col, err := o.aligner.Reindex(nav, pair.Dates, strategy)
	if err != nil {
		return nil
	}
	return col
}

// smoothIndex replaces the index column with its simple moving average.
// Cells before the window has data keep their original values; columns
// with remaining gaps are left untouched.
func (o *Orchestrator) smoothIndex(pair *alignment.AlignedPair, window int, c *envelope.Collector) {
	if window <= 1 {
		window = defaultSmoothWindow
	}
	if len(pair.IndexValues) < window {
		return
	}
	for _, v := range pair.IndexValues {
		if math.IsNaN(v) {
			c.AddCalculationWarning("smoothing_skipped", "index smoothing skipped: column still has gaps", nil)
			return
		}
	}
	sma := talib.Sma(pair.IndexValues, window)
	for i := window - 1; i < len(sma); i++ {
		pair.IndexValues[i] = sma[i]
	}
}

// pmePlusOn computes PME+ with the residual NAV substituted for the
// per-date NAV column, which is what the flow-sampled inputs provide.
func pmePlusOn(cashflows, indexValues []float64, dates []time.Time, finalNAV float64) (lambda, excess float64) {
	nav := finalNAV
	if math.IsNaN(nav) {
		nav = 0
	}
	navs := make([]float64, len(cashflows))
	for i := range navs {
		navs[i] = math.NaN()
	}
	if len(navs) > 0 {
		navs[len(navs)-1] = nav
	}
	return metrics.PMEPlus(cashflows, navs, indexValues, dates)
}

// indexAtDates samples the filled index column at each date, taking the
// most recent grid value at or before the date. Returns false when any
// date precedes the first known index level.
func indexAtDates(pair *alignment.AlignedPair, dates []time.Time) ([]float64, bool) {
	out := make([]float64, len(dates))
	for i, d := range dates {
		j := sort.Search(len(pair.Dates), func(k int) bool {
			return pair.Dates[k].After(d)
		}) - 1
		v := math.NaN()
		for ; j >= 0; j-- {
			if !math.IsNaN(pair.IndexValues[j]) {
				v = pair.IndexValues[j]
				break
			}
		}
		if math.IsNaN(v) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// shiftColumn moves values by k grid steps in place. Positive k delays
// the column (values move to later dates); vacated cells become NaN.
func shiftColumn(col []float64, k int) {
	n := len(col)
	if k == 0 || n == 0 {
		return
	}
	out := make([]float64, n)
	for i := range out {
		src := i - k
		if src < 0 || src >= n {
			out[i] = math.NaN()
		} else {
			out[i] = col[src]
		}
	}
	copy(col, out)
}

// fillShiftEdges closes only the edge cells a lag shift vacated: for a
// positive shift the leading cells take the first value after them, for
// a negative shift the trailing cells take the last value before them.
// Interior NaNs are left for the configured strategy.
func fillShiftEdges(col []float64, k int) {
	n := len(col)
	if n == 0 || k == 0 {
		return
	}
	if k > 0 {
		limit := min(k, n)
		v := math.NaN()
		for i := limit; i < n; i++ {
			if !math.IsNaN(col[i]) {
				v = col[i]
				break
			}
		}
		for i := 0; i < limit; i++ {
			if math.IsNaN(col[i]) {
				col[i] = v
			}
		}
		return
	}
	limit := max(n+k, 0)
	v := math.NaN()
	for i := limit - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			v = col[i]
			break
		}
	}
	for i := limit; i < n; i++ {
		if math.IsNaN(col[i]) {
			col[i] = v
		}
	}
}

func sortedRecords(records []domain.FundRecord) []domain.FundRecord {
	out := make([]domain.FundRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// lastReportedNAV returns the latest non-NaN NAV and its date.
func lastReportedNAV(records []domain.FundRecord) (float64, time.Time) {
	for i := len(records) - 1; i >= 0; i-- {
		if !math.IsNaN(records[i].NAV) {
			return records[i].NAV, domain.Normalize(records[i].Date)
		}
	}
	return math.NaN(), time.Time{}
}

func firstFinite(col []float64) float64 {
	for _, v := range col {
		if !math.IsNaN(v) {
			return v
		}
	}
	return math.NaN()
}

func lastFinite(col []float64) float64 {
	for i := len(col) - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			return col[i]
		}
	}
	return math.NaN()
}

func warnOnFill(c *envelope.Collector, column string, stats alignment.ColumnStats, total int) {
	if total == 0 {
		return
	}
	ratio := float64(stats.Filled) / float64(total)
	if ratio > fillWarnRatio {
		c.AddValidationWarning("high_fill_ratio", "a large share of the "+column+" column was synthesized by filling", map[string]any{
			"column":     column,
			"fill_ratio": ratio,
		})
	}
}
