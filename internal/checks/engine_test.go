package checks

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func scoredResult() *domain.RunResult {
	return &domain.RunResult{
		AP: []domain.APRecord{
			{
				APInvoice: domain.APInvoice{InvoiceID: "INV-1", Vendor: "Acme", TotalInvoiceAmount: 5000},
				Flags:     domain.APFlags{MissingInGL: true, DuplicateInvoice: true},
				RiskScore: 100,
				RiskLevel: domain.BandCritical,
			},
			{
				APInvoice: domain.APInvoice{InvoiceID: "INV-2", Vendor: "Beta", TotalInvoiceAmount: 100},
				RiskScore: 5,
				RiskLevel: domain.BandLow,
			},
		},
		Tax: []domain.TaxRecord{
			{
				TaxLine:   domain.TaxLine{InvoiceID: "T1", State: "FL"},
				Flags:     domain.TaxFlags{TaxMissing: true},
				RiskScore: 65,
				RiskLevel: domain.BandHigh,
			},
		},
	}
}

func TestCompileRejectsNonBool(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadCheck(&domain.CheckConfig{
		ID:         "bad-type",
		Source:     domain.SourceAP,
		Expression: "amount + 1.0",
		Enabled:    true,
	})
	if err == nil {
		t.Fatal("expected compile error for non-bool expression")
	}
}

func TestCompileRejectsInvalidExpression(t *testing.T) {
	e := newTestEngine(t)

	err := e.ValidateCheck(&domain.CheckConfig{
		ID:         "bad-syntax",
		Source:     domain.SourceAP,
		Expression: "risk_score >=",
		Enabled:    true,
	})
	if err == nil {
		t.Fatal("expected compile error for invalid expression")
	}
}

func TestEvaluateAllMatchesHighRiskAP(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadCheck(&domain.CheckConfig{
		ID:          "chk-critical-missing",
		Name:        "Critical missing invoice",
		Description: "Invoice absent from the GL at critical risk",
		Source:      domain.SourceAP,
		Expression:  `risk_score >= 90.0 && rec.missing_in_GL == true`,
		Severity:    domain.SeverityReview,
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("LoadCheck: %v", err)
	}

	findings := e.EvaluateAll(context.Background(), scoredResult())
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}

	f := findings[0]
	if f.RefID != "INV-1" || f.Source != domain.SourceAP {
		t.Errorf("finding = %+v", f)
	}
	if f.Severity != domain.SeverityReview {
		t.Errorf("severity = %s", f.Severity)
	}
	if f.Message != "Invoice absent from the GL at critical risk" {
		t.Errorf("message = %q", f.Message)
	}
}

func TestEvaluateAllScopedToSource(t *testing.T) {
	e := newTestEngine(t)

	// Matches every record it is evaluated against; the source field should
	// restrict it to tax lines.
	err := e.LoadCheck(&domain.CheckConfig{
		ID:         "chk-any-tax",
		Name:       "Any tax line",
		Source:     domain.SourceTax,
		Expression: `risk_score >= 0.0`,
		Severity:   domain.SeverityInfo,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("LoadCheck: %v", err)
	}

	findings := e.EvaluateAll(context.Background(), scoredResult())
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].RefID != "T1" {
		t.Errorf("finding ref = %s, want T1", findings[0].RefID)
	}
}

func TestFlagCountVariable(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadCheck(&domain.CheckConfig{
		ID:         "chk-multi-flag",
		Name:       "Multiple AP flags",
		Source:     domain.SourceAP,
		Expression: `flag_count >= 2`,
		Severity:   domain.SeverityWarn,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("LoadCheck: %v", err)
	}

	findings := e.EvaluateAll(context.Background(), scoredResult())
	if len(findings) != 1 || findings[0].RefID != "INV-1" {
		t.Errorf("findings = %+v", findings)
	}
}

func TestLoadChecksSkipsDisabled(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadChecks([]*domain.CheckConfig{
		{ID: "on", Source: domain.SourceAP, Expression: "true", Enabled: true},
		{ID: "off", Source: domain.SourceAP, Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("LoadChecks: %v", err)
	}
	if e.ChecksCount() != 1 {
		t.Errorf("expected 1 loaded check, got %d", e.ChecksCount())
	}
}

func TestReloadChecksReplaces(t *testing.T) {
	e := newTestEngine(t)

	if err := e.LoadCheck(&domain.CheckConfig{ID: "old", Source: domain.SourceAP, Expression: "true", Enabled: true}); err != nil {
		t.Fatalf("LoadCheck: %v", err)
	}

	err := e.ReloadChecks([]*domain.CheckConfig{
		{ID: "new", Source: domain.SourceBank, Expression: "false", Enabled: true},
	})
	if err != nil {
		t.Fatalf("ReloadChecks: %v", err)
	}

	loaded := e.LoadedChecks()
	if len(loaded) != 1 || loaded[0].ID != "new" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestEvaluateAllNoChecks(t *testing.T) {
	e := newTestEngine(t)

	if findings := e.EvaluateAll(context.Background(), scoredResult()); findings != nil {
		t.Errorf("expected nil findings with no checks, got %v", findings)
	}
}
