// Package score implements the per-record risk scoring models. Each scorer
// is a pure function of the record's precomputed flag set (plus, for tax,
// one numeric input), so records can be scored independently and in any
// order. Scoring never mutates the record's raw fields or flags.
package score

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Base is the starting score for every record before any flag weights.
const Base = 5.0

// Per-domain floors applied when a record carries 3 or more true flags.
// The floor is a max, never an assignment: it raises low combinations to a
// reviewable level but cannot lower a score the weights already exceed.
const (
	FloorAP    = 90.0
	FloorBank  = 90.0
	FloorTax   = 85.0
	FloorLease = 90.0
)

// Classify maps a final score to its risk band. Bands partition [0,100]
// with upper bounds inclusive: 20 is Low, 40 is Medium, 70 is High.
func Classify(score float64) domain.RiskBand {
	switch {
	case score <= 20:
		return domain.BandLow
	case score <= 40:
		return domain.BandMedium
	case score <= 70:
		return domain.BandHigh
	default:
		return domain.BandCritical
	}
}

// AP scores one accounts payable invoice from its flag set.
//
// Individual weights: late_posting 10, amount_mismatch 30,
// unusual_GL_account 25, duplicate_invoice_number 40, missing_in_GL 60.
// Combo: missing_in_GL together with any other flag adds a further 20.
func AP(f domain.APFlags) (float64, domain.RiskBand) {
	score := Base

	if f.LatePosting {
		score += 10
	}
	if f.AmountMismatch {
		score += 30
	}
	if f.UnusualGLAccount {
		score += 25
	}
	if f.DuplicateInvoice {
		score += 40
	}
	if f.MissingInGL {
		score += 60
		if f.AmountMismatch || f.DuplicateInvoice || f.LatePosting || f.UnusualGLAccount {
			score += 20
		}
	}

	if f.Count() >= 3 {
		score = max(score, FloorAP)
	}

	score = min(score, 100)
	return score, Classify(score)
}

// Bank scores one bank transaction from its flag set.
//
// Individual weights: unusual_vendor_payment 10, amount_mismatch 25,
// invoice_marked_paid_but_no_bank_txn 40, no_matching_invoice 50,
// duplicate_payment 60. Combos: duplicate_payment + amount_mismatch adds
// 15; no_matching_invoice together with any other flag adds 20.
func Bank(f domain.BankFlags) (float64, domain.RiskBand) {
	score := Base

	if f.UnusualVendorPayment {
		score += 10
	}
	if f.AmountMismatch {
		score += 25
	}
	if f.InvoicePaidNoBankTxn {
		score += 40
	}
	if f.NoMatchingInvoice {
		score += 50
	}
	if f.DuplicatePayment {
		score += 60
	}

	if f.DuplicatePayment && f.AmountMismatch {
		score += 15
	}
	if f.NoMatchingInvoice && (f.DuplicatePayment || f.AmountMismatch || f.UnusualVendorPayment || f.InvoicePaidNoBankTxn) {
		score += 20
	}

	if f.Count() >= 3 {
		score = max(score, FloorBank)
	}

	score = min(score, 100)
	return score, Classify(score)
}

// Tax scores one sales/use tax line from its flag set. TaxDiffAbs (the
// absolute difference between calculated and recalculated tax) is a numeric
// scoring input: above $5 it adds 10 but it never counts toward the flag
// floor.
//
// Individual weights: jurisdiction_missing 15, rate_mismatch 30,
// tax_missing 40, tax_on_nontaxable_item 35, gl_tax_diff_flag 25.
// Combos: tax_missing+rate_mismatch 65, tax_missing+gl_tax_diff 70,
// tax_on_nontaxable+rate_mismatch 60.
func Tax(f domain.TaxFlags) (float64, domain.RiskBand) {
	score := Base

	if f.JurisdictionMiss {
		score += 15
	}
	if f.RateMismatch {
		score += 30
	}
	if f.TaxMissing {
		score += 40
	}
	if f.TaxOnNontaxable {
		score += 35
	}
	if f.GLTaxDiff {
		score += 25
	}

	if f.TaxDiffAbs > 5 {
		score += 10
	}

	if f.TaxMissing && f.RateMismatch {
		score += 65
	}
	if f.TaxMissing && f.GLTaxDiff {
		score += 70
	}
	if f.TaxOnNontaxable && f.RateMismatch {
		score += 60
	}

	if f.Count() >= 3 {
		score = max(score, FloorTax)
	}

	score = min(score, 100)
	return score, Classify(score)
}

// Lease scores one lease schedule line from its flag set.
//
// Individual weights: liability GL diff 20, ROU GL diff 20,
// missing_periods 40, incorrect_opening_entry 50, classification_flag 45,
// ip_sum_mismatch 50. Combos: liability diff + missing_periods 30,
// ROU diff + incorrect_opening 35.
func Lease(f domain.LeaseFlags) (float64, domain.RiskBand) {
	score := Base

	if f.LiabilityGLDiff {
		score += 20
	}
	if f.ROUGLDiff {
		score += 20
	}
	if f.MissingPeriods {
		score += 40
	}
	if f.IncorrectOpening {
		score += 50
	}
	if f.Classification {
		score += 45
	}
	if f.IPSumMismatch {
		score += 50
	}

	if f.LiabilityGLDiff && f.MissingPeriods {
		score += 30
	}
	if f.ROUGLDiff && f.IncorrectOpening {
		score += 35
	}

	if f.Count() >= 3 {
		score = max(score, FloorLease)
	}

	score = min(score, 100)
	return score, Classify(score)
}
