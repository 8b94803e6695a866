package detect

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Materiality thresholds for amount comparisons.
const (
	// APAmountTolerance is the dollar difference above which an AP invoice
	// total is considered mismatched against its expected total.
	APAmountTolerance = 25.0

	// LatePostingDays is the age past which an unpaid invoice is flagged.
	LatePostingDays = 60
)

// MissingKeySentinel marks an AP match key known to be absent from the GL.
const MissingKeySentinel = "Missing"

// AP derives flags for every AP invoice and scores each record. yearEnd is
// the close date used for late-posting detection.
func AP(invoices []domain.APInvoice, yearEnd time.Time) []domain.APRecord {
	dupCount := make(map[string]int, len(invoices))
	for _, inv := range invoices {
		dupCount[dupKey(inv)]++
	}

	modeGL := VendorModeGL(invoices)

	records := make([]domain.APRecord, len(invoices))
	for i, inv := range invoices {
		flags := domain.APFlags{
			AmountMismatch:   math.Abs(inv.TotalInvoiceAmount-inv.ExpectedTotal) > APAmountTolerance,
			MissingInGL:      keyMissing(inv.MatchKey),
			LatePosting:      latePosting(inv, yearEnd),
			DuplicateInvoice: dupCount[dupKey(inv)] > 1,
			UnusualGLAccount: inv.GLAccount != modeGL[inv.Vendor],
		}

		rec := domain.APRecord{APInvoice: inv, Flags: flags}
		rec.RiskScore, rec.RiskLevel = score.AP(flags)
		records[i] = rec
	}
	return records
}

// keyMissing reports whether a match key is null, blank, or the explicit
// missing sentinel.
func keyMissing(key string) bool {
	trimmed := strings.TrimSpace(key)
	return trimmed == "" || key == MissingKeySentinel
}

// latePosting flags invoices still unpaid at year-end and more than 60 days
// old. An unparsable invoice date never flags: the coercion default keeps
// data-quality problems out of the late-posting count.
func latePosting(inv domain.APInvoice, yearEnd time.Time) bool {
	if !inv.UnpaidAsOfYE || inv.InvoiceDate.IsZero() {
		return false
	}
	return yearEnd.Sub(inv.InvoiceDate) > LatePostingDays*24*time.Hour
}

// dupKey identifies an invoice by (Vendor, Invoice_ID); both occurrences of
// a duplicated pair are flagged.
func dupKey(inv domain.APInvoice) string {
	return inv.Vendor + "\x00" + inv.InvoiceID
}
