package domain

import (
	"context"
	"time"
)

// RecordFilter narrows scored-row queries for review views.
type RecordFilter struct {
	// MinScore surfaces only rows at or above this risk score.
	MinScore float64

	// Vendors restricts AP/Bank rows to the named vendors. Empty means all.
	Vendors []string
}

// Repository defines the interface for data persistence. Scored rows are
// stored per run to serve the review dashboard; each pipeline run recomputes
// them from raw sources, so nothing here is authoritative accounting data.
type Repository interface {
	// Run lifecycle
	SaveRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	LatestRun(ctx context.Context) (*Run, error)

	// Scored records
	SaveScoredRows(ctx context.Context, runID string, rows []ScoredRow) error
	ListScoredRows(ctx context.Context, runID string, source Source, filter RecordFilter) ([]ScoredRow, error)

	// Journal entries
	SaveJournalEntries(ctx context.Context, runID string, entries []JournalEntry) error
	ListJournalEntries(ctx context.Context, runID string) ([]JournalEntry, error)

	// Custom check configurations
	SaveCheckConfig(ctx context.Context, cfg *CheckConfig) error
	GetCheckConfig(ctx context.Context, checkID string) (*CheckConfig, error)
	ListCheckConfigs(ctx context.Context) ([]*CheckConfig, error)
	DeleteCheckConfig(ctx context.Context, checkID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
