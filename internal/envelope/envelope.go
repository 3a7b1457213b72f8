// Package envelope provides the structured result type that wraps every
// orchestrated computation: a successful payload, a degraded-but-usable
// payload with warnings, or a categorized failure. Anomalies are always
// surfaced as data; no panic or raw error crosses the core boundary.
package envelope

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Category classifies where an anomaly originated.
type Category string

const (
	CategoryAlignment   Category = "data_alignment"
	CategoryValidation  Category = "data_validation"
	CategoryCalculation Category = "calculation"
	CategorySystem      Category = "system"
)

// Severity ranks how bad an anomaly is. Anything at SeverityError or
// above turns the envelope into a Failure.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Detail is one recorded anomaly.
type Detail struct {
	Category   Category       `json:"category"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Code       string         `json:"code,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Envelope is the terminal shape of one orchestrated call. It is
// constructed once and never mutated afterwards.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data"`
	Errors   []Detail       `json:"errors"`
	Warnings []Detail       `json:"warnings"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Partial reports whether the envelope succeeded with caveats.
func (e Envelope) Partial() bool {
	return e.Success && len(e.Warnings) > 0
}

// Collector accumulates details during a computation and terminates via
// ToEnvelope. It is the mutable builder behind the immutable Envelope.
type Collector struct {
	details []Detail
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records an arbitrary detail.
func (c *Collector) Add(d Detail) {
	c.details = append(c.details, d)
}

// AddAlignmentError records a data_alignment error.
func (c *Collector) AddAlignmentError(code, message string, ctx map[string]any) {
	c.Add(Detail{Category: CategoryAlignment, Severity: SeverityError, Code: code, Message: message, Context: ctx})
}

// AddValidationError records a data_validation error.
func (c *Collector) AddValidationError(code, message string, ctx map[string]any) {
	c.Add(Detail{Category: CategoryValidation, Severity: SeverityError, Code: code, Message: message, Context: ctx})
}

// AddValidationWarning records a non-fatal data_validation warning.
func (c *Collector) AddValidationWarning(code, message string, ctx map[string]any) {
	c.Add(Detail{Category: CategoryValidation, Severity: SeverityWarning, Code: code, Message: message, Context: ctx})
}

// AddCalculationError records a calculation error.
func (c *Collector) AddCalculationError(code, message string, ctx map[string]any) {
	c.Add(Detail{Category: CategoryCalculation, Severity: SeverityError, Code: code, Message: message, Context: ctx})
}

// AddCalculationWarning records a non-fatal calculation warning.
func (c *Collector) AddCalculationWarning(code, message string, ctx map[string]any) {
	c.Add(Detail{Category: CategoryCalculation, Severity: SeverityWarning, Code: code, Message: message, Context: ctx})
}

// AddSystemError records an unexpected system failure.
func (c *Collector) AddSystemError(code, message string, ctx map[string]any) {
	c.Add(Detail{Category: CategorySystem, Severity: SeverityError, Code: code, Message: message, Context: ctx})
}

// HasErrors reports whether any detail is error severity or worse.
func (c *Collector) HasErrors() bool {
	for _, d := range c.details {
		if d.Severity == SeverityError || d.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// HasCriticalErrors reports whether any detail is critical.
func (c *Collector) HasCriticalErrors() bool {
	for _, d := range c.details {
		if d.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Details returns everything collected so far.
func (c *Collector) Details() []Detail {
	return c.details
}

// ToEnvelope classifies the collected details into the terminal shape:
// any error/critical detail means Failure; otherwise any warning means
// Partial (success with caveats); otherwise Success.
func (c *Collector) ToEnvelope(data any) Envelope {
	env := Envelope{
		Data:     data,
		Errors:   []Detail{},
		Warnings: []Detail{},
		Metadata: map[string]any{},
	}
	for _, d := range c.details {
		switch d.Severity {
		case SeverityError, SeverityCritical:
			env.Errors = append(env.Errors, d)
		default:
			env.Warnings = append(env.Warnings, d)
		}
	}
	env.Success = len(env.Errors) == 0
	if !env.Success {
		// A failed computation must not masquerade as data.
		if c.HasCriticalErrors() {
			env.Data = nil
		}
	}
	return env
}

// maxPanicDetail bounds how much of a panic value ends up in a Detail.
const maxPanicDetail = 200

// Run executes fn with panic capture and wall-clock timing. A panic is
// converted into a system-category error Detail carrying the panic value
// (truncated) and the envelope becomes a Failure; the caller never sees
// the panic itself. Execution time in milliseconds is recorded in the
// envelope metadata.
func Run(name string, log zerolog.Logger, fn func(c *Collector) any) (env Envelope) {
	start := time.Now()
	c := NewCollector()

	defer func() {
		if p := recover(); p != nil {
			detail := fmt.Sprintf("%v", p)
			if len(detail) > maxPanicDetail {
				detail = detail[:maxPanicDetail] + "..."
			}
			log.Error().
				Str("operation", name).
				Str("panic", detail).
				Msg("Recovered panic in wrapped operation")
			c.Add(Detail{
				Category: CategorySystem,
				Severity: SeverityError,
				Code:     "panic",
				Message:  fmt.Sprintf("unexpected failure in %s", name),
				Context:  map[string]any{"panic": detail, "type": fmt.Sprintf("%T", p)},
			})
			env = c.ToEnvelope(nil)
			env.Metadata["operation"] = name
			env.Metadata["duration_ms"] = time.Since(start).Milliseconds()
		}
	}()

	data := fn(c)
	env = c.ToEnvelope(data)
	env.Metadata["operation"] = name
	env.Metadata["duration_ms"] = time.Since(start).Milliseconds()

	log.Debug().
		Str("operation", name).
		Bool("success", env.Success).
		Int("errors", len(env.Errors)).
		Int("warnings", len(env.Warnings)).
		Dur("duration_ms", time.Since(start)).
		Msg("Operation completed")

	return env
}
