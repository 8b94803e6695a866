package detect

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var floridaRates = []domain.TaxRateRef{
	{Jurisdiction: "FL", TotalTaxRate: 0.07},
	{Jurisdiction: "GA", TotalTaxRate: 0.08},
}

func TestTaxRateMismatch(t *testing.T) {
	lines := []domain.TaxLine{
		{InvoiceID: "1", State: "FL", TaxRate: 0.07, TaxableAmount: 100, CalculatedTax: 7},
		{InvoiceID: "2", State: "FL", TaxRate: 0.07005, TaxableAmount: 100, CalculatedTax: 7},
		{InvoiceID: "3", State: "FL", TaxRate: 0.08, TaxableAmount: 100, CalculatedTax: 8},
		{InvoiceID: "4", State: "TX", TaxRate: 0.06, TaxableAmount: 100, CalculatedTax: 6}, // unknown jurisdiction
	}

	records := Tax(lines, nil, floridaRates)

	if records[0].Flags.RateMismatch {
		t.Error("exact rate match should not flag")
	}
	if records[1].Flags.RateMismatch {
		t.Error("0.00005 is inside the 0.0001 tolerance")
	}
	if !records[2].Flags.RateMismatch {
		t.Error("0.08 vs reference 0.07 should flag rate_mismatch")
	}
	if !records[3].Flags.RateMismatch {
		t.Error("unknown jurisdiction has no reference rate and should flag")
	}
	if !domain.RateMissing(records[3].RefTaxRate) {
		t.Error("unmatched jurisdiction should carry the missing-rate sentinel")
	}
}

func TestTaxBothRatesMissing(t *testing.T) {
	lines := []domain.TaxLine{
		{InvoiceID: "1", State: "TX", TaxRate: domain.MissingRate(), TaxableAmount: 100, CalculatedTax: 6},
	}

	records := Tax(lines, nil, floridaRates)
	if records[0].Flags.RateMismatch {
		t.Error("both rates missing counts as equal, not a mismatch")
	}
}

func TestTaxJurisdictionMissing(t *testing.T) {
	lines := []domain.TaxLine{
		{InvoiceID: "1", State: "", TaxRate: 0.07},
		{InvoiceID: "2", State: "  ", TaxRate: 0.07},
		{InvoiceID: "3", State: "FL", TaxRate: 0.07},
	}

	records := Tax(lines, nil, floridaRates)

	for i, want := range []bool{true, true, false} {
		if records[i].Flags.JurisdictionMiss != want {
			t.Errorf("line %d: jurisdiction_missing = %v, want %v", i, records[i].Flags.JurisdictionMiss, want)
		}
	}
}

func TestTaxMissingAndNontaxable(t *testing.T) {
	lines := []domain.TaxLine{
		{InvoiceID: "1", State: "FL", TaxRate: 0.07, TaxableAmount: 100, CalculatedTax: 0},
		{InvoiceID: "2", State: "FL", TaxRate: 0.07, TaxableAmount: 0, CalculatedTax: 3},
		{InvoiceID: "3", State: "FL", TaxRate: 0.07, TaxableAmount: 0, CalculatedTax: 0},
	}

	records := Tax(lines, nil, floridaRates)

	if !records[0].Flags.TaxMissing {
		t.Error("taxable > 0 with zero tax should flag tax_missing")
	}
	if !records[1].Flags.TaxOnNontaxable {
		t.Error("tax charged on a nontaxable item should flag")
	}
	if records[2].Flags.TaxMissing || records[2].Flags.TaxOnNontaxable {
		t.Error("zero taxable and zero tax is clean")
	}
}

func TestTaxDiffAbs(t *testing.T) {
	lines := []domain.TaxLine{
		{InvoiceID: "1", State: "FL", TaxRate: 0.07, TaxableAmount: 100, CalculatedTax: 7, RecalcTax: 10.5},
	}

	records := Tax(lines, nil, floridaRates)
	if math.Abs(records[0].Flags.TaxDiffAbs-3.5) > 1e-9 {
		t.Errorf("tax_diff_abs = %.2f, want 3.50", records[0].Flags.TaxDiffAbs)
	}
}

func TestGLTaxDiffBroadcast(t *testing.T) {
	lines := []domain.TaxLine{
		{InvoiceID: "1", State: "FL", TaxRate: 0.07, TaxableAmount: 100, CalculatedTax: 7},
		{InvoiceID: "2", State: "FL", TaxRate: 0.07, TaxableAmount: 200, CalculatedTax: 14},
	}

	tied := []domain.GLBalance{
		{Account: "Sales Tax Payable", EndingBalance: 21},
		{Account: "Cash", EndingBalance: 99999},
	}
	records := Tax(lines, tied, floridaRates)
	for i := range records {
		if records[i].Flags.GLTaxDiff {
			t.Errorf("record %d: GL ties out exactly, flag should be false", i)
		}
	}

	// Difference of 121 exceeds the $100 materiality threshold and is
	// broadcast to every record, not just one.
	off := []domain.GLBalance{{Account: "Sales Tax Payable", EndingBalance: 142}}
	records = Tax(lines, off, floridaRates)
	for i := range records {
		if !records[i].Flags.GLTaxDiff {
			t.Errorf("record %d: dataset-wide GL diff should flag every record", i)
		}
	}

	// Within the threshold: 21 booked vs 100 in GL is 79, no flag.
	near := []domain.GLBalance{{Account: "Use Tax Accrual", EndingBalance: 100}}
	records = Tax(lines, near, floridaRates)
	if records[0].Flags.GLTaxDiff {
		t.Error("difference of 79 is inside the $100 threshold")
	}
}
