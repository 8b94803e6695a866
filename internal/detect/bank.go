package detect

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/score"
)

// BankAmountTolerance is the dollar difference above which a payment is
// considered mismatched against its matched invoice.
const BankAmountTolerance = 1.0

// Bank derives flags for every bank transaction and scores each record.
// Transactions join to AP by match key, so AP must already be loaded; an
// unmatched transaction compares its amount against 0 rather than erroring.
// When several AP invoices share a match key the first one wins.
func Bank(txns []domain.BankTransaction, invoices []domain.APInvoice) []domain.BankRecord {
	invoiceAmounts := make(map[string]float64, len(invoices))
	for _, inv := range invoices {
		if _, ok := invoiceAmounts[inv.MatchKey]; !ok {
			invoiceAmounts[inv.MatchKey] = inv.TotalInvoiceAmount
		}
	}

	p90 := VendorP90Payments(txns)

	records := make([]domain.BankRecord, len(txns))
	for i, tx := range txns {
		invoiceAmount, matched := invoiceAmounts[tx.MatchKey]

		flags := domain.BankFlags{
			NoMatchingInvoice:    !matched,
			DuplicatePayment:     tx.DuplicatePayment,
			AmountMismatch:       math.Abs(tx.Amount-invoiceAmount) > BankAmountTolerance,
			UnusualVendorPayment: tx.Amount > p90[tx.Vendor],

			// Reserved detection hook: paid invoices with no bank movement
			// are not reconciled from this side yet.
			InvoicePaidNoBankTxn: false,
		}

		rec := domain.BankRecord{BankTransaction: tx, Flags: flags}
		if matched {
			rec.InvoiceAmount = invoiceAmount
		}
		rec.RiskScore, rec.RiskLevel = score.Bank(flags)
		records[i] = rec
	}
	return records
}
