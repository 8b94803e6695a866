// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a new pipeline run.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO runs (
			id, status, started_at, completed_at, error,
			ap_count, bank_count, tax_count, lease_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Status, run.StartedAt, nullTime(run.CompletedAt), run.Error,
		run.APCount, run.BankCount, run.TaxCount, run.LeaseCount,
	)
	return err
}

// UpdateRun updates the status, timestamps, and counts of an existing run.
func (r *SQLRepository) UpdateRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, error = ?,
			ap_count = ?, bank_count = ?, tax_count = ?, lease_count = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		run.Status, nullTime(run.CompletedAt), run.Error,
		run.APCount, run.BankCount, run.TaxCount, run.LeaseCount,
		run.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, status, started_at, completed_at, error,
		   ap_count, bank_count, tax_count, lease_count`

// GetRun retrieves a run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns retrieves the most recent runs, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// LatestRun retrieves the most recently completed run.
func (r *SQLRepository) LatestRun(ctx context.Context) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), domain.RunStatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*domain.Run, error) {
	var run domain.Run
	var completed sql.NullTime

	err := s.Scan(
		&run.ID, &run.Status, &run.StartedAt, &completed, &run.Error,
		&run.APCount, &run.BankCount, &run.TaxCount, &run.LeaseCount,
	)
	if err != nil {
		return nil, err
	}

	if completed.Valid {
		run.CompletedAt = completed.Time
	}
	return &run, nil
}

// SaveScoredRows replaces the scored rows of a run. Re-saving the same run
// is safe: existing rows are cleared first so a re-run never duplicates.
func (r *SQLRepository) SaveScoredRows(ctx context.Context, runID string, rows []domain.ScoredRow) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM scored_rows WHERE run_id = ?`), runID); err != nil {
		return err
	}

	query := `
		INSERT INTO scored_rows (
			run_id, source, ref_id, vendor, risk_score, risk_level, flags, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			runID, string(row.Source), row.RefID, row.Vendor,
			row.RiskScore, string(row.RiskLevel),
			string(row.Flags), string(row.Payload),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListScoredRows retrieves scored rows of one domain for a run, optionally
// filtered by minimum score and vendor, highest risk first.
func (r *SQLRepository) ListScoredRows(ctx context.Context, runID string, source domain.Source, filter domain.RecordFilter) ([]domain.ScoredRow, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `
		SELECT run_id, source, ref_id, vendor, risk_score, risk_level, flags, payload
		FROM scored_rows
		WHERE run_id = ? AND source = ? AND risk_score >= ?
	`
	args := []any{runID, string(source), filter.MinScore}

	if len(filter.Vendors) > 0 {
		query += ` AND vendor IN (` + placeholders(len(filter.Vendors)) + `)`
		for _, v := range filter.Vendors {
			args = append(args, v)
		}
	}
	query += ` ORDER BY risk_score DESC, ref_id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScoredRow
	for rows.Next() {
		var row domain.ScoredRow
		var src, level, flags, payload string

		if err := rows.Scan(
			&row.RunID, &src, &row.RefID, &row.Vendor,
			&row.RiskScore, &level, &flags, &payload,
		); err != nil {
			return nil, err
		}

		row.Source = domain.Source(src)
		row.RiskLevel = domain.RiskBand(level)
		row.Flags = []byte(flags)
		row.Payload = []byte(payload)
		out = append(out, row)
	}

	return out, rows.Err()
}

// SaveJournalEntries replaces the suggested journal entries of a run.
func (r *SQLRepository) SaveJournalEntries(ctx context.Context, runID string, entries []domain.JournalEntry) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM journal_entries WHERE run_id = ?`), runID); err != nil {
		return err
	}

	query := `
		INSERT INTO journal_entries (
			id, run_id, source, reference, debit_account, credit_account, amount, description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.ID, runID, string(e.Source), e.Reference,
			e.DebitAccount, e.CreditAccount, e.Amount, e.Description,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListJournalEntries retrieves the suggested journal entries for a run.
func (r *SQLRepository) ListJournalEntries(ctx context.Context, runID string) ([]domain.JournalEntry, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, source, reference, debit_account, credit_account, amount, description
		FROM journal_entries
		WHERE run_id = ?
		ORDER BY source, reference
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var src string

		if err := rows.Scan(
			&e.ID, &src, &e.Reference,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.Description,
		); err != nil {
			return nil, err
		}

		e.Source = domain.Source(src)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// SaveCheckConfig stores or updates a custom check configuration.
func (r *SQLRepository) SaveCheckConfig(ctx context.Context, cfg *domain.CheckConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("%w: check id is required", ErrInvalidInput)
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO check_configs (
			id, name, description, source, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			source = excluded.source,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, cfg.Name, cfg.Description, string(cfg.Source),
		cfg.Expression, cfg.Severity, enabled,
		now, now,
	)
	return err
}

// GetCheckConfig retrieves a check configuration by ID.
func (r *SQLRepository) GetCheckConfig(ctx context.Context, checkID string) (*domain.CheckConfig, error) {
	query := `
		SELECT id, name, description, source, expression, severity, enabled
		FROM check_configs
		WHERE id = ?
	`

	var cfg domain.CheckConfig
	var src string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), checkID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Description, &src,
		&cfg.Expression, &cfg.Severity, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Source = domain.Source(src)
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListCheckConfigs retrieves all enabled check configurations.
func (r *SQLRepository) ListCheckConfigs(ctx context.Context) ([]*domain.CheckConfig, error) {
	query := `
		SELECT id, name, description, source, expression, severity, enabled
		FROM check_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.CheckConfig
	for rows.Next() {
		var cfg domain.CheckConfig
		var src string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &src,
			&cfg.Expression, &cfg.Severity, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Source = domain.Source(src)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeleteCheckConfig soft-deletes a check by setting enabled = 0.
func (r *SQLRepository) DeleteCheckConfig(ctx context.Context, checkID string) error {
	query := `
		UPDATE check_configs
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), checkID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
