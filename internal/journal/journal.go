// Package journal synthesizes suggested journal entries from high-risk
// reconciliation records. Entries are recommendations for controller review
// and are never posted by Kestrel.
package journal

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TaxTrueUpTolerance is the dollar difference below which no tax true-up
// entry is proposed.
const TaxTrueUpTolerance = 1.0

// LeaseTrueUpRate is the placeholder lease liability adjustment: 1% of the
// ending liability rather than a computed variance.
const LeaseTrueUpRate = 0.01

// Synthesize builds suggested entries for every record at or above the risk
// threshold. AP and bank records may additionally be restricted to a vendor
// subset; bank records produce no entries (cash corrections route through
// AP), and lease records always emit the placeholder true-up.
func Synthesize(res *domain.RunResult, threshold float64, vendors []string) []domain.JournalEntry {
	vendorSet := toSet(vendors)

	var entries []domain.JournalEntry

	for _, rec := range res.AP {
		if rec.RiskScore < threshold || !vendorAllowed(vendorSet, rec.Vendor) {
			continue
		}
		if e, ok := apEntry(rec); ok {
			entries = append(entries, e)
		}
	}

	for _, rec := range res.Tax {
		if rec.RiskScore < threshold {
			continue
		}
		if e, ok := taxEntry(rec); ok {
			entries = append(entries, e)
		}
	}

	for _, rec := range res.Lease {
		if rec.RiskScore < threshold {
			continue
		}
		entries = append(entries, leaseEntry(rec))
	}

	return entries
}

// apEntry proposes the AP correction. A missing-in-GL invoice accrues its
// full expected total; otherwise an amount mismatch corrects the accrual in
// the direction of the difference. Other AP flags need human judgment and
// produce no entry.
func apEntry(rec domain.APRecord) (domain.JournalEntry, bool) {
	switch {
	case rec.Flags.MissingInGL:
		return domain.JournalEntry{
			ID:            uuid.New().String(),
			Source:        domain.SourceAP,
			Reference:     rec.InvoiceID,
			DebitAccount:  domain.AccountProjectExpense,
			CreditAccount: domain.AccountAccountsPayable,
			Amount:        round2(rec.ExpectedTotal),
			Description:   fmt.Sprintf("Record missing AP invoice %s", rec.InvoiceID),
		}, true

	case rec.Flags.AmountMismatch:
		diff := rec.ExpectedTotal - rec.TotalInvoiceAmount
		entry := domain.JournalEntry{
			ID:        uuid.New().String(),
			Source:    domain.SourceAP,
			Reference: rec.InvoiceID,
			Amount:    round2(math.Abs(diff)),
		}
		if diff > 0 {
			entry.DebitAccount = domain.AccountProjectExpense
			entry.CreditAccount = domain.AccountAccountsPayable
			entry.Description = fmt.Sprintf("Correct AP under-accrual for invoice %s", rec.InvoiceID)
		} else {
			entry.DebitAccount = domain.AccountAccountsPayable
			entry.CreditAccount = domain.AccountProjectExpense
			entry.Description = fmt.Sprintf("Correct AP over-accrual for invoice %s", rec.InvoiceID)
		}
		return entry, true
	}

	return domain.JournalEntry{}, false
}

// taxEntry proposes a sales tax true-up when the recalculated tax differs
// from the booked tax by more than a dollar.
func taxEntry(rec domain.TaxRecord) (domain.JournalEntry, bool) {
	diff := rec.RecalcTax - rec.CalculatedTax
	if math.Abs(diff) <= TaxTrueUpTolerance {
		return domain.JournalEntry{}, false
	}

	return domain.JournalEntry{
		ID:            uuid.New().String(),
		Source:        domain.SourceTax,
		Reference:     rec.InvoiceID,
		DebitAccount:  domain.AccountSalesTaxExpense,
		CreditAccount: domain.AccountSalesTaxPayable,
		Amount:        round2(math.Abs(diff)),
		Description:   fmt.Sprintf("True-up sales tax for invoice %s", rec.InvoiceID),
	}, true
}

// leaseEntry proposes the placeholder lease liability true-up.
func leaseEntry(rec domain.LeaseRecord) domain.JournalEntry {
	return domain.JournalEntry{
		ID:            uuid.New().String(),
		Source:        domain.SourceLease,
		Reference:     rec.LeaseID,
		DebitAccount:  domain.AccountLeaseLiability,
		CreditAccount: domain.AccountPriorPeriodAdj,
		Amount:        round2(math.Abs(rec.EndingLeaseLiability * LeaseTrueUpRate)),
		Description:   fmt.Sprintf("Adjust lease liability for %s", rec.LeaseID),
	}
}

// round2 rounds a dollar amount to 2 decimals using decimal arithmetic so
// proposed entries never carry float noise.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func toSet(vendors []string) map[string]struct{} {
	if len(vendors) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(vendors))
	for _, v := range vendors {
		set[v] = struct{}{}
	}
	return set
}

func vendorAllowed(set map[string]struct{}, vendor string) bool {
	if set == nil {
		return true
	}
	_, ok := set[vendor]
	return ok
}
