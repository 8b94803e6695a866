package domain

import (
	"encoding/json"
	"time"
)

// Run is the record of one full pipeline invocation. A run either completes
// for all four domains or fails; there is no partial output per domain.
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"` // "running", "completed", "failed"
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Error       string    `json:"error,omitempty"`

	// Per-domain record counts for the completed run.
	APCount    int `json:"apCount"`
	BankCount  int `json:"bankCount"`
	TaxCount   int `json:"taxCount"`
	LeaseCount int `json:"leaseCount"`
}

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunResult carries the scored tables of one completed pipeline run.
type RunResult struct {
	Run     Run            `json:"run"`
	AP      []APRecord     `json:"ap"`
	Bank    []BankRecord   `json:"bank"`
	Tax     []TaxRecord    `json:"tax"`
	Lease   []LeaseRecord  `json:"lease"`
	Journal []JournalEntry `json:"journal"`

	// Findings from controller-defined custom checks, advisory only.
	Findings []CheckFinding `json:"findings,omitempty"`
}

// ScoredRow is the persistence shape for one scored record of any domain.
// Raw fields and flags are stored as JSON payloads; score and band are
// first-class columns so review queries can filter on them.
type ScoredRow struct {
	RunID     string          `json:"runId"`
	Source    Source          `json:"source"`
	RefID     string          `json:"refId"`
	Vendor    string          `json:"vendor,omitempty"`
	RiskScore float64         `json:"risk_score"`
	RiskLevel RiskBand        `json:"risk_level"`
	Flags     json.RawMessage `json:"flags"`
	Payload   json.RawMessage `json:"payload"`
}
