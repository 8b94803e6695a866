// Package pipeline orchestrates one reconciliation run: load the six source
// tables, flag and score each subledger, synthesize journal entries, apply
// custom checks, write the output CSVs, and persist the scored results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/csvio"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/journal"
)

// Runner executes reconciliation runs. Repository and bus may be nil for
// one-shot CLI use; persistence and events are then skipped.
type Runner struct {
	cfg    *domain.Config
	repo   domain.Repository
	bus    domain.EventBus
	checks *checks.Engine
	logger *slog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg *domain.Config, repo domain.Repository, bus domain.EventBus, engine *checks.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		repo:   repo,
		bus:    bus,
		checks: engine,
		logger: logger,
	}
}

// Run executes one full reconciliation pass. A run either completes for all
// four subledgers or fails as a whole; re-running over the same sources
// produces the same scores.
func (r *Runner) Run(ctx context.Context) (*domain.RunResult, error) {
	run := domain.Run{
		ID:        uuid.New().String(),
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	r.logger.Info("reconciliation run started", "run_id", run.ID)

	if r.repo != nil {
		if err := r.repo.SaveRun(ctx, &run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}

	res, err := r.execute(ctx, &run)
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.CompletedAt = time.Now().UTC()
		run.Error = err.Error()
		r.logger.Error("reconciliation run failed", "run_id", run.ID, "error", err)

		if r.repo != nil {
			if uerr := r.repo.UpdateRun(ctx, &run); uerr != nil {
				r.logger.Error("failed to record run failure", "run_id", run.ID, "error", uerr)
			}
		}
		r.publish(ctx, domain.TopicRunFailed, &run)
		return nil, err
	}

	run.Status = domain.RunStatusCompleted
	run.CompletedAt = time.Now().UTC()
	res.Run = run

	if r.repo != nil {
		if err := r.persist(ctx, res); err != nil {
			return nil, fmt.Errorf("persist run results: %w", err)
		}
	}

	r.publish(ctx, domain.TopicRunCompleted, &run)
	r.publishAlerts(ctx, res)

	r.logger.Info("reconciliation run completed",
		"run_id", run.ID,
		"ap", run.APCount,
		"bank", run.BankCount,
		"tax", run.TaxCount,
		"lease", run.LeaseCount,
		"journal_entries", len(res.Journal),
		"findings", len(res.Findings),
	)

	return res, nil
}

func (r *Runner) execute(ctx context.Context, run *domain.Run) (*domain.RunResult, error) {
	data, err := csvio.LoadSources(r.cfg.Pipeline.Sources)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	res := &domain.RunResult{}

	// AP must complete before bank: bank matching joins invoice amounts by
	// match key. Tax and lease have no cross-dependency and run concurrently.
	res.AP = detect.AP(data.AP, r.cfg.Pipeline.YearEnd)
	res.Bank = detect.Bank(data.Bank, data.AP)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Tax = detect.Tax(data.Tax, data.GL, data.TaxRates)
	}()
	go func() {
		defer wg.Done()
		res.Lease = detect.Lease(data.Lease, data.GL)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run.APCount = len(res.AP)
	run.BankCount = len(res.Bank)
	run.TaxCount = len(res.Tax)
	run.LeaseCount = len(res.Lease)

	res.Journal = journal.Synthesize(res, r.cfg.Pipeline.ReviewThreshold, nil)

	if r.checks != nil {
		if r.repo != nil {
			configs, err := r.repo.ListCheckConfigs(ctx)
			if err != nil {
				return nil, fmt.Errorf("list check configs: %w", err)
			}
			if err := r.checks.ReloadChecks(configs); err != nil {
				return nil, fmt.Errorf("reload checks: %w", err)
			}
		}
		res.Findings = r.checks.EvaluateAll(ctx, res)
	}

	if r.cfg.Pipeline.OutputDir != "" {
		if err := csvio.WriteOutputs(r.cfg.Pipeline.OutputDir, res); err != nil {
			return nil, fmt.Errorf("write outputs: %w", err)
		}
	}

	return res, nil
}

func (r *Runner) persist(ctx context.Context, res *domain.RunResult) error {
	if err := r.repo.SaveScoredRows(ctx, res.Run.ID, ScoredRows(res)); err != nil {
		return err
	}
	if err := r.repo.SaveJournalEntries(ctx, res.Run.ID, res.Journal); err != nil {
		return err
	}
	return r.repo.UpdateRun(ctx, &res.Run)
}

func (r *Runner) publish(ctx context.Context, topic string, run *domain.Run) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, topic, payload); err != nil {
		r.logger.Warn("failed to publish run event", "topic", topic, "error", err)
	}
}

// publishAlerts emits one alert event per critical record.
func (r *Runner) publishAlerts(ctx context.Context, res *domain.RunResult) {
	if r.bus == nil {
		return
	}
	for _, row := range ScoredRows(res) {
		if row.RiskLevel != domain.BandCritical {
			continue
		}
		payload, err := json.Marshal(row)
		if err != nil {
			continue
		}
		if err := r.bus.Publish(ctx, domain.TopicRecordAlert, payload); err != nil {
			r.logger.Warn("failed to publish record alert",
				"source", row.Source,
				"ref_id", row.RefID,
				"error", err,
			)
		}
	}
}

// ScoredRows flattens all four scored tables into their persistence shape.
func ScoredRows(res *domain.RunResult) []domain.ScoredRow {
	rows := make([]domain.ScoredRow, 0, len(res.AP)+len(res.Bank)+len(res.Tax)+len(res.Lease))

	for _, rec := range res.AP {
		rows = append(rows, scoredRow(res.Run.ID, domain.SourceAP, rec.InvoiceID, rec.Vendor,
			rec.RiskScore, rec.RiskLevel, rec.Flags, rec))
	}
	for _, rec := range res.Bank {
		rows = append(rows, scoredRow(res.Run.ID, domain.SourceBank, rec.TxnID, rec.Vendor,
			rec.RiskScore, rec.RiskLevel, rec.Flags, rec))
	}
	for _, rec := range res.Tax {
		rows = append(rows, scoredRow(res.Run.ID, domain.SourceTax, rec.InvoiceID, "",
			rec.RiskScore, rec.RiskLevel, rec.Flags, rec))
	}
	for _, rec := range res.Lease {
		rows = append(rows, scoredRow(res.Run.ID, domain.SourceLease, rec.LeaseID, "",
			rec.RiskScore, rec.RiskLevel, rec.Flags, rec))
	}

	return rows
}

func scoredRow(runID string, source domain.Source, refID, vendor string, score float64, level domain.RiskBand, flags any, payload any) domain.ScoredRow {
	flagsJSON, _ := json.Marshal(flags)
	payloadJSON, _ := json.Marshal(payload)
	return domain.ScoredRow{
		RunID:     runID,
		Source:    source,
		RefID:     refID,
		Vendor:    vendor,
		RiskScore: score,
		RiskLevel: level,
		Flags:     flagsJSON,
		Payload:   payloadJSON,
	}
}
