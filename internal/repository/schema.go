package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    error TEXT,
    ap_count INTEGER NOT NULL DEFAULT 0,
    bank_count INTEGER NOT NULL DEFAULT 0,
    tax_count INTEGER NOT NULL DEFAULT 0,
    lease_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// schemaScoredRows has no primary key on ref_id: duplicate invoice numbers
// are a detection target, so the same reference can legitimately appear
// more than once within a run.
const schemaScoredRows = `
CREATE TABLE IF NOT EXISTS scored_rows (
    run_id TEXT NOT NULL,
    source TEXT NOT NULL,
    ref_id TEXT NOT NULL,
    vendor TEXT,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    flags TEXT NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scored_rows_run ON scored_rows(run_id, source);
CREATE INDEX IF NOT EXISTS idx_scored_rows_score ON scored_rows(run_id, source, risk_score);
CREATE INDEX IF NOT EXISTS idx_scored_rows_vendor ON scored_rows(run_id, vendor);
`

const schemaJournalEntries = `
CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    source TEXT NOT NULL,
    reference TEXT NOT NULL,
    debit_account TEXT NOT NULL,
    credit_account TEXT NOT NULL,
    amount REAL NOT NULL,
    description TEXT
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_run ON journal_entries(run_id);
`

const schemaCheckConfigs = `
CREATE TABLE IF NOT EXISTS check_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    source TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_configs_enabled ON check_configs(enabled);
CREATE INDEX IF NOT EXISTS idx_check_configs_source ON check_configs(source);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaScoredRows,
		schemaJournalEntries,
		schemaCheckConfigs,
	}
}
