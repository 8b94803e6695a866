package domain

// CheckConfig defines a controller-authored custom check. The expression is
// CEL over the record's raw and derived fields; a true result produces a
// finding. Findings are advisory review notes and never change risk_score.
type CheckConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      Source `json:"source"` // which domain the check runs against

	// Expression is a CEL expression returning bool.
	Expression string `json:"expression"`

	Severity string `json:"severity"` // "info", "warn", "review"
	Enabled  bool   `json:"enabled"`
}

// Check severity levels.
const (
	SeverityInfo   = "info"
	SeverityWarn   = "warn"
	SeverityReview = "review"
)

// CheckFinding is one custom-check hit on one record.
type CheckFinding struct {
	CheckID   string `json:"checkId"`
	CheckName string `json:"checkName"`
	Source    Source `json:"source"`
	RefID     string `json:"refId"`
	Severity  string `json:"severity"`
	Message   string `json:"message,omitempty"`
}
