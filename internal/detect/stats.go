// Package detect derives discrepancy flags from raw subledger records and
// reference data. Detection for a domain must fully complete before that
// domain is scored; flags are immutable once set.
package detect

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// VendorModeGL computes each vendor's most frequent GL account across its
// AP invoices. Ties break toward the account first encountered in input
// order, so the result is deterministic for identical input.
func VendorModeGL(invoices []domain.APInvoice) map[string]string {
	type tally struct {
		count int
		first int // index of first occurrence, for tie-breaking
	}

	counts := make(map[string]map[string]*tally)
	for i, inv := range invoices {
		byAccount := counts[inv.Vendor]
		if byAccount == nil {
			byAccount = make(map[string]*tally)
			counts[inv.Vendor] = byAccount
		}
		t := byAccount[inv.GLAccount]
		if t == nil {
			byAccount[inv.GLAccount] = &tally{count: 1, first: i}
		} else {
			t.count++
		}
	}

	modes := make(map[string]string, len(counts))
	for vendor, byAccount := range counts {
		best := ""
		bestTally := &tally{count: -1, first: math.MaxInt}
		for account, t := range byAccount {
			if t.count > bestTally.count || (t.count == bestTally.count && t.first < bestTally.first) {
				best = account
				bestTally = t
			}
		}
		modes[vendor] = best
	}
	return modes
}

// Percentile returns the q-th percentile (0 <= q <= 1) of values using
// linear interpolation between order statistics. Returns NaN for an empty
// slice. Input is not modified.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// VendorP90Payments computes the 90th-percentile payment amount per vendor
// from the bank transactions themselves.
func VendorP90Payments(txns []domain.BankTransaction) map[string]float64 {
	byVendor := make(map[string][]float64)
	for _, tx := range txns {
		byVendor[tx.Vendor] = append(byVendor[tx.Vendor], tx.Amount)
	}

	p90 := make(map[string]float64, len(byVendor))
	for vendor, amounts := range byVendor {
		p90[vendor] = Percentile(amounts, 0.90)
	}
	return p90
}
