package report

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func sampleResult() *domain.RunResult {
	return &domain.RunResult{
		AP: []domain.APRecord{
			{APInvoice: domain.APInvoice{InvoiceID: "A1", Vendor: "Acme"}, Flags: domain.APFlags{MissingInGL: true, DuplicateInvoice: true}, RiskScore: 100},
			{APInvoice: domain.APInvoice{InvoiceID: "A2", Vendor: "Beta"}, Flags: domain.APFlags{AmountMismatch: true}, RiskScore: 35},
			{APInvoice: domain.APInvoice{InvoiceID: "A3", Vendor: "Acme"}, RiskScore: 5},
		},
		Bank: []domain.BankRecord{
			{BankTransaction: domain.BankTransaction{TxnID: "B1", Vendor: "Acme"}, Flags: domain.BankFlags{DuplicatePayment: true}, RiskScore: 80},
			{BankTransaction: domain.BankTransaction{TxnID: "B2", Vendor: "Acme"}, RiskScore: 20},
			{BankTransaction: domain.BankTransaction{TxnID: "B3", Vendor: "Beta"}, Flags: domain.BankFlags{UnusualVendorPayment: true}, RiskScore: 15},
		},
		Tax: []domain.TaxRecord{
			{TaxLine: domain.TaxLine{InvoiceID: "T1", State: "FL"}, Flags: domain.TaxFlags{TaxMissing: true, GLTaxDiff: true}, RiskScore: 100},
			{TaxLine: domain.TaxLine{InvoiceID: "T2", State: "GA"}, RiskScore: 5},
		},
		Lease: []domain.LeaseRecord{
			{LeaseLine: domain.LeaseLine{LeaseID: "L1"}, Flags: domain.LeaseFlags{MissingPeriods: true, LiabilityGLDiff: true}, RiskScore: 95},
		},
	}
}

func TestBuildScorecard(t *testing.T) {
	s := Build(sampleResult(), 60, nil)

	if s.APInvoices != 3 || s.BankPayments != 3 || s.TaxLines != 2 || s.LeaseRecords != 1 {
		t.Errorf("counts = %d/%d/%d/%d", s.APInvoices, s.BankPayments, s.TaxLines, s.LeaseRecords)
	}
	if s.HighRiskAP != 1 || s.HighRiskBank != 1 || s.HighRiskTax != 1 || s.HighRiskLease != 1 {
		t.Errorf("high-risk counts = %d/%d/%d/%d", s.HighRiskAP, s.HighRiskBank, s.HighRiskTax, s.HighRiskLease)
	}
}

func TestBuildFlagBreakdowns(t *testing.T) {
	s := Build(sampleResult(), 60, nil)

	want := map[string]int{
		"Missing in GL":     1,
		"Amount Mismatch":   1,
		"Duplicate Invoice": 1,
		"Unusual GL":        0,
	}
	for _, fc := range s.APRootCauses {
		if fc.Count != want[fc.Issue] {
			t.Errorf("AP %q count = %d, want %d", fc.Issue, fc.Count, want[fc.Issue])
		}
	}

	for _, fc := range s.TaxIssues {
		switch fc.Issue {
		case "Missing Tax", "GL Variance":
			if fc.Count != 1 {
				t.Errorf("tax %q count = %d, want 1", fc.Issue, fc.Count)
			}
		case "Rate Mismatch":
			if fc.Count != 0 {
				t.Errorf("tax %q count = %d, want 0", fc.Issue, fc.Count)
			}
		}
	}
}

func TestBuildGroupAverages(t *testing.T) {
	s := Build(sampleResult(), 60, nil)

	if len(s.BankByVendor) != 2 {
		t.Fatalf("expected 2 vendor groups, got %d", len(s.BankByVendor))
	}
	if s.BankByVendor[0].Key != "Acme" || s.BankByVendor[0].Average != 50 {
		t.Errorf("Acme average = %+v, want 50", s.BankByVendor[0])
	}
	if s.BankByVendor[1].Key != "Beta" || s.BankByVendor[1].Average != 15 {
		t.Errorf("Beta average = %+v, want 15", s.BankByVendor[1])
	}

	if len(s.TaxByState) != 2 || s.TaxByState[0].Key != "FL" {
		t.Errorf("tax jurisdictions = %+v", s.TaxByState)
	}
}

func TestBuildVendorFilter(t *testing.T) {
	s := Build(sampleResult(), 60, []string{"Beta"})

	if s.APInvoices != 1 || s.BankPayments != 1 {
		t.Errorf("filtered counts = %d AP / %d bank, want 1/1", s.APInvoices, s.BankPayments)
	}
	if s.HighRiskAP != 0 || s.HighRiskBank != 0 {
		t.Errorf("filtered high-risk = %d/%d, want 0/0", s.HighRiskAP, s.HighRiskBank)
	}
	// Tax and lease are never vendor-scoped.
	if s.TaxLines != 2 || s.LeaseRecords != 1 {
		t.Errorf("tax/lease counts changed under vendor filter: %d/%d", s.TaxLines, s.LeaseRecords)
	}
}

func TestBuildEmptyResult(t *testing.T) {
	s := Build(&domain.RunResult{}, 60, nil)

	if s.APInvoices != 0 || s.HighRiskLease != 0 {
		t.Errorf("empty result produced nonzero counts: %+v", s)
	}
	if len(s.BankByVendor) != 0 || len(s.TaxByState) != 0 {
		t.Errorf("empty result produced group averages")
	}
	if len(s.APRootCauses) != 4 {
		t.Errorf("root cause categories should always be present")
	}
}
