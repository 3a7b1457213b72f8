package analysis

import (
	"fmt"

	"github.com/aristath/beacon/internal/domain"
	"github.com/aristath/beacon/internal/modules/alignment"
)

// PME methodology names accepted on the wire.
const (
	MethodKaplanSchoar = "kaplan_schoar"
	MethodLongNickels  = "long_nickels"
	MethodModifiedPME  = "modified_pme"
	MethodDirectAlpha  = "direct_alpha"
)

// ParseMethod validates a methodology name. Empty defaults to
// Kaplan-Schoar.
func ParseMethod(s string) (string, error) {
	switch s {
	case MethodKaplanSchoar, MethodLongNickels, MethodModifiedPME, MethodDirectAlpha:
		return s, nil
	case "":
		return MethodKaplanSchoar, nil
	}
	return "", fmt.Errorf("unknown PME method %q", s)
}

// Options tune one analysis run. Zero values mean defaults.
type Options struct {
	Method          string  `json:"method"`
	MissingStrategy string  `json:"missing_strategy"`
	RiskFreeRate    float64 `json:"risk_free_rate"`
	ConfidenceLevel float64 `json:"confidence_level"`

	// SmoothIndex applies a simple moving average to the index column
	// before any metric touches it, damping appraisal-lag noise.
	SmoothIndex  bool `json:"smooth_index"`
	SmoothWindow int  `json:"smooth_window"`

	// LagDays shifts the index column by whole grid steps relative to the
	// fund, for indices that publish with a reporting delay.
	LagDays int `json:"lag_days"`
}

// defaultConfidence is used when the caller leaves ConfidenceLevel unset.
const defaultConfidence = 0.95

// defaultSmoothWindow is the SMA width used when smoothing is on but no
// window was given.
const defaultSmoothWindow = 5

// Request is one full analysis input: the fund's dated flows (with
// optional NAVs) and the public index price series. Either series may
// instead reference a stored dataset by id; the HTTP layer resolves
// those references before the orchestrator runs.
type Request struct {
	FundName  string              `json:"fund_name,omitempty"`
	IndexName string              `json:"index_name,omitempty"`
	Fund      []domain.FundRecord `json:"fund,omitempty"`
	Index     []domain.PricePoint `json:"index,omitempty"`

	FundDatasetID  string `json:"fund_dataset_id,omitempty"`
	IndexDatasetID string `json:"index_dataset_id,omitempty"`

	Options Options `json:"options"`
}

// Result is the successful payload of one analysis: the flat metrics
// dictionary plus the alignment diagnostics it was computed from.
type Result struct {
	Metrics   map[string]any    `json:"metrics"`
	Alignment alignment.Summary `json:"alignment"`
}

// Metric dictionary keys. Values are float64 (NaN for undefined) except
// where noted.
const (
	KeyFundIRR       = "Fund IRR"
	KeyTVPI          = "TVPI"
	KeyDPI           = "DPI"
	KeyRVPI          = "RVPI"
	KeyKSPME         = "KS PME"
	KeyPMEIRR        = "PME IRR"
	KeyIndexIRR      = "Index IRR"
	KeyIndexTVPI     = "Index TVPI"
	KeyDirectAlpha   = "Direct Alpha"
	KeyAlpha         = "Alpha"
	KeyBeta          = "Beta"
	KeyFundVol       = "Fund Volatility"
	KeyIndexVol      = "Index Volatility"
	KeyFundDrawdown  = "Fund Drawdown"
	KeyIndexDrawdown = "Index Drawdown"
	KeyFundBest1Y    = "Fund Best 1Y Return"
	KeyFundWorst1Y   = "Fund Worst 1Y Return"
	KeyIndexBest1Y   = "Index Best 1Y Return"
	KeyIndexWorst1Y  = "Index Worst 1Y Return"
	KeyContributions = "Total Contributions"
	KeyDistributions = "Total Distributions"
	KeyFinalNAV      = "Final NAV"
	KeyPMEValue      = "PME Value" // headline value of the chosen method
	KeyMethodUsed    = "Method Used" // string
	KeyRiskFreeRate  = "Risk Free Rate"
	KeyConfidence    = "Confidence Level"
)
