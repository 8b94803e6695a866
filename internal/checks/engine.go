// Package checks provides the CEL-Go engine for controller-authored custom
// checks. Checks run after scoring and produce advisory findings; they never
// alter a record's risk score.
package checks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates custom checks.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledChecks map[string]*CompiledCheck
	maxWorkers     int
}

// CompiledCheck holds a pre-compiled CEL program for one check.
type CompiledCheck struct {
	Config  *domain.CheckConfig
	Program cel.Program
}

// NewEngine creates a check evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// One shared environment across the four subledgers. The rec map carries
	// every raw column and flag; the typed variables cover the common cases
	// so simple expressions stay simple.
	env, err := cel.NewEnv(
		cel.Variable("rec", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("flag_count", cel.IntType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledChecks: make(map[string]*CompiledCheck),
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateCheck compiles a check without loading it into the engine.
func (e *Engine) ValidateCheck(cfg *domain.CheckConfig) error {
	if cfg == nil {
		return fmt.Errorf("check config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileCheck(cfg)
	return err
}

// LoadCheck compiles and loads a check into the engine.
func (e *Engine) LoadCheck(cfg *domain.CheckConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileCheck(cfg)
	if err != nil {
		return err
	}

	e.compiledChecks[cfg.ID] = compiled

	return nil
}

// LoadChecks compiles and loads every enabled check.
func (e *Engine) LoadChecks(configs []*domain.CheckConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadCheck(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadChecks atomically replaces the loaded checks. This enables
// hot-reloading of checks from the database.
func (e *Engine) ReloadChecks(configs []*domain.CheckConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newChecks := make(map[string]*CompiledCheck)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileCheck(cfg)
		if err != nil {
			return err
		}
		newChecks[cfg.ID] = compiled
	}

	e.compiledChecks = newChecks

	return nil
}

// LoadedChecks returns the currently loaded check configurations.
func (e *Engine) LoadedChecks() []*domain.CheckConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.CheckConfig, 0, len(e.compiledChecks))
	for _, compiled := range e.compiledChecks {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// ChecksCount returns the number of loaded checks.
func (e *Engine) ChecksCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledChecks)
}

// EvaluateAll runs every loaded check against the scored run and returns
// the findings. Checks run in parallel, one goroutine per check over its
// source records, bounded by the worker limit.
func (e *Engine) EvaluateAll(ctx context.Context, res *domain.RunResult) []domain.CheckFinding {
	e.mu.RLock()
	checks := make([]*CompiledCheck, 0, len(e.compiledChecks))
	for _, c := range e.compiledChecks {
		checks = append(checks, c)
	}
	e.mu.RUnlock()

	if len(checks) == 0 {
		return nil
	}

	perCheck := make([][]domain.CheckFinding, len(checks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, check := range checks {
		wg.Add(1)
		go func(idx int, c *CompiledCheck) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			perCheck[idx] = e.evaluateCheck(ctx, c, res)
		}(i, check)
	}

	wg.Wait()

	var findings []domain.CheckFinding
	for _, fs := range perCheck {
		findings = append(findings, fs...)
	}
	return findings
}

func (e *Engine) evaluateCheck(ctx context.Context, c *CompiledCheck, res *domain.RunResult) []domain.CheckFinding {
	var findings []domain.CheckFinding

	emit := func(refID string, activation map[string]any) {
		if ctx.Err() != nil {
			return
		}
		out, _, err := c.Program.Eval(activation)
		if err != nil {
			// A bad expression against one record should not abort the run.
			return
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			findings = append(findings, domain.CheckFinding{
				CheckID:   c.Config.ID,
				CheckName: c.Config.Name,
				Source:    c.Config.Source,
				RefID:     refID,
				Severity:  c.Config.Severity,
				Message:   c.Config.Description,
			})
		}
	}

	switch c.Config.Source {
	case domain.SourceAP:
		for _, r := range res.AP {
			emit(r.InvoiceID, apActivation(r))
		}
	case domain.SourceBank:
		for _, r := range res.Bank {
			emit(r.TxnID, bankActivation(r))
		}
	case domain.SourceTax:
		for _, r := range res.Tax {
			emit(r.InvoiceID, taxActivation(r))
		}
	case domain.SourceLease:
		for _, r := range res.Lease {
			emit(r.LeaseID, leaseActivation(r))
		}
	}

	return findings
}

func (e *Engine) compileCheck(cfg *domain.CheckConfig) (*CompiledCheck, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("check %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for check %s: %w", cfg.ID, err)
	}

	return &CompiledCheck{
		Config:  cfg,
		Program: program,
	}, nil
}

// Close clears all loaded checks.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledChecks = make(map[string]*CompiledCheck)
	return nil
}

// Activation maps expose raw columns and flags under their output column
// names, so a check reads the same way as the CSV it reviews.

func apActivation(r domain.APRecord) map[string]any {
	return map[string]any{
		"rec": map[string]any{
			"Invoice_ID":               r.InvoiceID,
			"Vendor":                   r.Vendor,
			"Total_Invoice_Amount":     r.TotalInvoiceAmount,
			"Expected_Total":           r.ExpectedTotal,
			"AP_Match_Key":             r.MatchKey,
			"Unpaid_AsOfYE":            r.UnpaidAsOfYE,
			"GL_Account":               r.GLAccount,
			"amount_mismatch":          r.Flags.AmountMismatch,
			"missing_in_GL":            r.Flags.MissingInGL,
			"late_posting":             r.Flags.LatePosting,
			"duplicate_invoice_number": r.Flags.DuplicateInvoice,
			"unusual_GL_account":       r.Flags.UnusualGLAccount,
		},
		"risk_score": r.RiskScore,
		"risk_level": string(r.RiskLevel),
		"flag_count": int64(r.Flags.Count()),
		"vendor":     r.Vendor,
		"amount":     r.TotalInvoiceAmount,
	}
}

func bankActivation(r domain.BankRecord) map[string]any {
	return map[string]any{
		"rec": map[string]any{
			"Txn_ID":                 r.TxnID,
			"Vendor":                 r.Vendor,
			"Amount":                 r.Amount,
			"Match_Key":              r.MatchKey,
			"Duplicate_Payment_Flag": r.DuplicatePayment,
			"Invoice_Amount":         r.InvoiceAmount,
			"no_matching_invoice":    r.Flags.NoMatchingInvoice,
			"duplicate_payment":      r.Flags.DuplicatePayment,
			"amount_mismatch":        r.Flags.AmountMismatch,
			"unusual_vendor_payment": r.Flags.UnusualVendorPayment,
		},
		"risk_score": r.RiskScore,
		"risk_level": string(r.RiskLevel),
		"flag_count": int64(r.Flags.Count()),
		"vendor":     r.Vendor,
		"amount":     r.Amount,
	}
}

func taxActivation(r domain.TaxRecord) map[string]any {
	return map[string]any{
		"rec": map[string]any{
			"Invoice_ID":             r.InvoiceID,
			"State":                  r.State,
			"Taxable_Amount":         r.TaxableAmount,
			"Tax_Rate":               r.TaxRate,
			"Calculated_Tax":         r.CalculatedTax,
			"Recalc_Tax":             r.RecalcTax,
			"Ref_Tax_Rate":           r.RefTaxRate,
			"rate_mismatch":          r.Flags.RateMismatch,
			"tax_missing":            r.Flags.TaxMissing,
			"tax_on_nontaxable_item": r.Flags.TaxOnNontaxable,
			"jurisdiction_missing":   r.Flags.JurisdictionMiss,
			"gl_tax_diff_flag":       r.Flags.GLTaxDiff,
		},
		"risk_score": r.RiskScore,
		"risk_level": string(r.RiskLevel),
		"flag_count": int64(r.Flags.Count()),
		"vendor":     "",
		"amount":     r.TaxableAmount,
	}
}

func leaseActivation(r domain.LeaseRecord) map[string]any {
	return map[string]any{
		"rec": map[string]any{
			"Lease_ID":                           r.LeaseID,
			"Period":                             r.Period,
			"Ending_Lease_Liability":             r.EndingLeaseLiability,
			"ROU_Asset_Balance":                  r.ROUAssetBalance,
			"IP_Sum_Mismatch_Flag":               r.IPSumMismatchFlag,
			"Sequence_Check":                     r.SequenceCheck,
			"ip_sum_mismatch":                    r.Flags.IPSumMismatch,
			"missing_periods":                    r.Flags.MissingPeriods,
			"schedule_to_GL_liability_diff_flag": r.Flags.LiabilityGLDiff,
			"schedule_to_GL_ROU_diff_flag":       r.Flags.ROUGLDiff,
		},
		"risk_score": r.RiskScore,
		"risk_level": string(r.RiskLevel),
		"flag_count": int64(r.Flags.Count()),
		"vendor":     "",
		"amount":     r.EndingLeaseLiability,
	}
}
