// Package datasets stores uploaded fund and index series and turns raw
// CSV uploads into typed records.
package datasets

import (
	"regexp"
	"strings"
)

// Role is the semantic meaning of one uploaded column.
type Role string

const (
	RoleDate     Role = "date"
	RoleCashflow Role = "cashflow"
	RoleNAV      Role = "nav"
	RolePrice    Role = "price"
	RoleUnknown  Role = "unknown"
)

// Classifier maps a column header to its role. Implementations must be
// safe for concurrent use.
type Classifier interface {
	Classify(header string) Role
}

// headerPatterns are checked in order; the first match wins. NAV comes
// before price because "net asset value" would otherwise match the
// generic value pattern.
var headerPatterns = []struct {
	role    Role
	pattern *regexp.Regexp
}{
	{RoleDate, regexp.MustCompile(`^(date|as[_ ]?of|period|valuation[_ ]?date|quarter[_ ]?end)$`)},
	{RoleNAV, regexp.MustCompile(`(^|[_ ])(nav|net[_ ]?asset|residual)([_ ]|$)`)},
	{RoleCashflow, regexp.MustCompile(`(cash[_ ]?flow|contribution|distribution|drawdown|^cf$|^amount$|^flow$)`)},
	{RolePrice, regexp.MustCompile(`(price|level|close|^index$|index[_ ]?level|^value$)`)},
}

// RegexClassifier classifies headers with case-insensitive pattern
// matching over a normalized form.
type RegexClassifier struct{}

// NewClassifier returns the default header classifier.
func NewClassifier() *RegexClassifier {
	return &RegexClassifier{}
}

// Classify normalizes the header (lower case, trimmed, separators
// collapsed) and returns the first matching role.
func (c *RegexClassifier) Classify(header string) Role {
	normalized := strings.ToLower(strings.TrimSpace(header))
	normalized = strings.NewReplacer("-", "_", ".", "_", "  ", " ").Replace(normalized)

	for _, hp := range headerPatterns {
		if hp.pattern.MatchString(normalized) {
			return hp.role
		}
	}
	return RoleUnknown
}
