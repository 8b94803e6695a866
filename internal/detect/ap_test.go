package detect

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var yearEnd = time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)

func TestAPAmountMismatch(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "INV-1", Vendor: "Acme", TotalInvoiceAmount: 1000, ExpectedTotal: 1100, MatchKey: "K1", GLAccount: "6100"},
		{InvoiceID: "INV-2", Vendor: "Acme", TotalInvoiceAmount: 1000, ExpectedTotal: 1020, MatchKey: "K2", GLAccount: "6100"},
		{InvoiceID: "INV-3", Vendor: "Acme", TotalInvoiceAmount: 1000, ExpectedTotal: 1025, MatchKey: "K3", GLAccount: "6100"},
	}

	records := AP(invoices, yearEnd)

	if !records[0].Flags.AmountMismatch {
		t.Error("difference of 100 should flag amount_mismatch")
	}
	if records[1].Flags.AmountMismatch {
		t.Error("difference of 20 is inside the $25 tolerance")
	}
	if records[2].Flags.AmountMismatch {
		t.Error("difference of exactly 25 is inside the tolerance")
	}

	// Spec scenario: single amount_mismatch flag scores 5+30=35 Medium.
	if records[0].RiskScore != 35 || records[0].RiskLevel != domain.BandMedium {
		t.Errorf("got score %.1f band %s, want 35 Medium", records[0].RiskScore, records[0].RiskLevel)
	}
}

func TestAPMissingInGL(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "A", Vendor: "V", MatchKey: "", GLAccount: "6100"},
		{InvoiceID: "B", Vendor: "V", MatchKey: "   ", GLAccount: "6100"},
		{InvoiceID: "C", Vendor: "V", MatchKey: "Missing", GLAccount: "6100"},
		{InvoiceID: "D", Vendor: "V", MatchKey: "AP-001", GLAccount: "6100"},
	}

	records := AP(invoices, yearEnd)

	for i, want := range []bool{true, true, true, false} {
		if records[i].Flags.MissingInGL != want {
			t.Errorf("invoice %s: missing_in_GL = %v, want %v", invoices[i].InvoiceID, records[i].Flags.MissingInGL, want)
		}
	}
}

func TestAPLatePosting(t *testing.T) {
	old := yearEnd.AddDate(0, 0, -61)
	recent := yearEnd.AddDate(0, 0, -60)

	invoices := []domain.APInvoice{
		{InvoiceID: "A", Vendor: "V", InvoiceDate: old, UnpaidAsOfYE: true, MatchKey: "K1", GLAccount: "6100"},
		{InvoiceID: "B", Vendor: "V", InvoiceDate: recent, UnpaidAsOfYE: true, MatchKey: "K2", GLAccount: "6100"},
		{InvoiceID: "C", Vendor: "V", InvoiceDate: old, UnpaidAsOfYE: false, MatchKey: "K3", GLAccount: "6100"},
		{InvoiceID: "D", Vendor: "V", UnpaidAsOfYE: true, MatchKey: "K4", GLAccount: "6100"}, // unparsable date
	}

	records := AP(invoices, yearEnd)

	if !records[0].Flags.LatePosting {
		t.Error("unpaid invoice 61 days old should flag late_posting")
	}
	if records[1].Flags.LatePosting {
		t.Error("60 days is not late")
	}
	if records[2].Flags.LatePosting {
		t.Error("paid invoices never flag late_posting")
	}
	if records[3].Flags.LatePosting {
		t.Error("missing invoice date coerces to not-late, not an error")
	}
}

func TestAPDuplicateInvoiceNumber(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "INV-9", Vendor: "Acme", MatchKey: "K1", GLAccount: "6100"},
		{InvoiceID: "INV-9", Vendor: "Acme", MatchKey: "K2", GLAccount: "6100"},
		{InvoiceID: "INV-9", Vendor: "Other", MatchKey: "K3", GLAccount: "6100"},
	}

	records := AP(invoices, yearEnd)

	if !records[0].Flags.DuplicateInvoice || !records[1].Flags.DuplicateInvoice {
		t.Error("both occurrences of a duplicated (vendor, invoice) pair must flag")
	}
	if records[2].Flags.DuplicateInvoice {
		t.Error("same invoice number under a different vendor is not a duplicate")
	}
}

func TestAPUnusualGLAccount(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "1", Vendor: "Acme", MatchKey: "K1", GLAccount: "6100"},
		{InvoiceID: "2", Vendor: "Acme", MatchKey: "K2", GLAccount: "6100"},
		{InvoiceID: "3", Vendor: "Acme", MatchKey: "K3", GLAccount: "7200"},
	}

	records := AP(invoices, yearEnd)

	if records[0].Flags.UnusualGLAccount || records[1].Flags.UnusualGLAccount {
		t.Error("modal account 6100 should not flag")
	}
	if !records[2].Flags.UnusualGLAccount {
		t.Error("7200 differs from the vendor's modal account")
	}
}

func TestVendorModeGLTieBreak(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "1", Vendor: "V", GLAccount: "B"},
		{InvoiceID: "2", Vendor: "V", GLAccount: "A"},
	}

	modes := VendorModeGL(invoices)
	if modes["V"] != "B" {
		t.Errorf("tie should break to first-encountered account B, got %s", modes["V"])
	}
}
