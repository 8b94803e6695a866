package detect

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/score"
)

func TestBankInvoiceMatching(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "INV-1", Vendor: "Acme", MatchKey: "K1", TotalInvoiceAmount: 500},
	}
	txns := []domain.BankTransaction{
		{TxnID: "T1", Vendor: "Acme", MatchKey: "K1", Amount: 500},
		{TxnID: "T2", Vendor: "Acme", MatchKey: "K9", Amount: 500},
	}

	records := Bank(txns, invoices)

	if records[0].Flags.NoMatchingInvoice {
		t.Error("T1 shares key K1 with an AP invoice")
	}
	if records[0].InvoiceAmount != 500 {
		t.Errorf("joined invoice amount = %.2f, want 500", records[0].InvoiceAmount)
	}
	if !records[1].Flags.NoMatchingInvoice {
		t.Error("T2 has no matching invoice")
	}
	if records[1].InvoiceAmount != 0 {
		t.Errorf("unmatched transaction should carry invoice amount 0, got %.2f", records[1].InvoiceAmount)
	}
}

func TestBankAmountMismatch(t *testing.T) {
	invoices := []domain.APInvoice{
		{InvoiceID: "INV-1", Vendor: "Acme", MatchKey: "K1", TotalInvoiceAmount: 500},
	}
	txns := []domain.BankTransaction{
		{TxnID: "T1", Vendor: "Acme", MatchKey: "K1", Amount: 501},     // within $1
		{TxnID: "T2", Vendor: "Acme", MatchKey: "K1", Amount: 502.50},  // outside
		{TxnID: "T3", Vendor: "Acme", MatchKey: "unknown", Amount: 10}, // unmatched compares against 0
	}

	records := Bank(txns, invoices)

	if records[0].Flags.AmountMismatch {
		t.Error("difference of exactly 1 is inside the tolerance")
	}
	if !records[1].Flags.AmountMismatch {
		t.Error("difference of 2.50 should flag amount_mismatch")
	}
	if !records[2].Flags.AmountMismatch {
		t.Error("unmatched payment of 10 differs from 0 by more than 1")
	}
}

func TestBankUnusualVendorPayment(t *testing.T) {
	txns := []domain.BankTransaction{
		{TxnID: "T1", Vendor: "Acme", MatchKey: "K1", Amount: 100},
		{TxnID: "T2", Vendor: "Acme", MatchKey: "K2", Amount: 110},
		{TxnID: "T3", Vendor: "Acme", MatchKey: "K3", Amount: 105},
		{TxnID: "T4", Vendor: "Acme", MatchKey: "K4", Amount: 5000},
	}

	records := Bank(txns, nil)

	for i := 0; i < 3; i++ {
		if records[i].Flags.UnusualVendorPayment {
			t.Errorf("txn %s within normal range flagged as unusual", txns[i].TxnID)
		}
	}
	if !records[3].Flags.UnusualVendorPayment {
		t.Error("5000 exceeds the vendor's 90th percentile")
	}

	// A payment flagged only as unusual scores 5+10=15 Low.
	s, band := score.Bank(domain.BankFlags{UnusualVendorPayment: true})
	if s != 15 || band != domain.BandLow {
		t.Errorf("unusual-only bank score = %.1f %s, want 15 Low", s, band)
	}
}

func TestBankDuplicatePaymentIndicator(t *testing.T) {
	txns := []domain.BankTransaction{
		{TxnID: "T1", Vendor: "V", MatchKey: "K1", Amount: 10, DuplicatePayment: true},
	}
	invoices := []domain.APInvoice{{InvoiceID: "I", Vendor: "V", MatchKey: "K1", TotalInvoiceAmount: 10}}

	records := Bank(txns, invoices)
	if !records[0].Flags.DuplicatePayment {
		t.Error("source duplicate indicator should carry through to the flag")
	}
}

func TestBankReservedFlagAlwaysFalse(t *testing.T) {
	txns := []domain.BankTransaction{{TxnID: "T1", Vendor: "V", MatchKey: "K", Amount: 1}}
	records := Bank(txns, nil)
	if records[0].Flags.InvoicePaidNoBankTxn {
		t.Error("invoice_marked_paid_but_no_bank_txn is a reserved flag and must stay false")
	}
}

func TestPercentile(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		q      float64
		want   float64
	}{
		{"Single", []float64{42}, 0.9, 42},
		{"TwoValues", []float64{0, 10}, 0.9, 9},
		{"Median", []float64{1, 2, 3, 4, 5}, 0.5, 3},
		{"P90OfTen", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Percentile(tc.values, tc.q)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Percentile(%v, %.2f) = %v, want %v", tc.values, tc.q, got, tc.want)
			}
		})
	}

	if !math.IsNaN(Percentile(nil, 0.9)) {
		t.Error("empty input should return NaN")
	}
}
