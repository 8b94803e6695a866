package detect

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/score"
)

const (
	// RateTolerance is the absolute tolerance for comparing an invoice tax
	// rate against the jurisdiction reference rate.
	RateTolerance = 0.0001

	// GLTaxTolerance is the dollar threshold for the dataset-wide GL tax
	// tie-out difference.
	GLTaxTolerance = 100.0
)

// Tax derives flags for every tax line and scores each record. The GL
// tie-out flag is computed once over the whole dataset and broadcast to
// every record. An unknown jurisdiction is surfaced as a rate mismatch, not
// an error.
func Tax(lines []domain.TaxLine, gl []domain.GLBalance, rates []domain.TaxRateRef) []domain.TaxRecord {
	refRates := make(map[string]float64, len(rates))
	for _, r := range rates {
		refRates[r.Jurisdiction] = r.TotalTaxRate
	}

	var invoiceTaxTotal float64
	for _, line := range lines {
		invoiceTaxTotal += line.CalculatedTax
	}

	var glTaxBalance float64
	for _, bal := range gl {
		if strings.Contains(strings.ToLower(bal.Account), "tax") {
			glTaxBalance += bal.EndingBalance
		}
	}
	glTaxDiff := math.Abs(glTaxBalance-invoiceTaxTotal) > GLTaxTolerance

	records := make([]domain.TaxRecord, len(lines))
	for i, line := range lines {
		refRate, ok := refRates[line.State]
		if !ok {
			refRate = domain.MissingRate()
		}

		flags := domain.TaxFlags{
			JurisdictionMiss: strings.TrimSpace(line.State) == "",
			RateMismatch:     !ratesClose(line.TaxRate, refRate),
			TaxMissing:       line.TaxableAmount > 0 && line.CalculatedTax == 0,
			TaxOnNontaxable:  line.TaxableAmount == 0 && line.CalculatedTax > 0,
			GLTaxDiff:        glTaxDiff,
			TaxDiffAbs:       math.Abs(line.CalculatedTax - line.RecalcTax),
		}

		rec := domain.TaxRecord{TaxLine: line, RefTaxRate: refRate, Flags: flags}
		rec.RiskScore, rec.RiskLevel = score.Tax(flags)
		records[i] = rec
	}
	return records
}

// ratesClose compares two tax rates within RateTolerance, treating
// both-missing as equal and one-missing as a mismatch.
func ratesClose(a, b float64) bool {
	if domain.RateMissing(a) && domain.RateMissing(b) {
		return true
	}
	if domain.RateMissing(a) || domain.RateMissing(b) {
		return false
	}
	return math.Abs(a-b) <= RateTolerance
}
