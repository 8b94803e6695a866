// Package report aggregates scored reconciliation records into the
// close-health summary consumed by the API and the CLI.
package report

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FlagCount is one exception category and how many records carry it.
type FlagCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// GroupAverage is the mean risk score for one grouping key, such as a
// vendor or a tax jurisdiction.
type GroupAverage struct {
	Key     string  `json:"key"`
	Average float64 `json:"average_risk"`
	Count   int     `json:"count"`
}

// Summary is the leadership view of close readiness: record counts,
// high-risk counts per area at the review threshold, and the exception
// breakdowns behind them.
type Summary struct {
	Threshold float64 `json:"threshold"`

	APInvoices    int `json:"ap_invoices"`
	BankPayments  int `json:"bank_payments"`
	TaxLines      int `json:"tax_lines"`
	LeaseRecords  int `json:"lease_records"`
	HighRiskAP    int `json:"high_risk_ap"`
	HighRiskBank  int `json:"high_risk_bank"`
	HighRiskTax   int `json:"high_risk_tax"`
	HighRiskLease int `json:"high_risk_lease"`

	APRootCauses   []FlagCount    `json:"ap_root_causes"`
	BankExceptions []FlagCount    `json:"bank_exceptions"`
	TaxIssues      []FlagCount    `json:"tax_issues"`
	LeaseIssues    []FlagCount    `json:"lease_issues"`
	BankByVendor   []GroupAverage `json:"bank_risk_by_vendor"`
	TaxByState     []GroupAverage `json:"tax_risk_by_jurisdiction"`
}

// Build computes the summary over a completed run. A vendor subset, when
// given, restricts the AP and bank aggregates; tax and lease figures are
// always dataset-wide.
func Build(res *domain.RunResult, threshold float64, vendors []string) Summary {
	ap := res.AP
	bank := res.Bank
	if len(vendors) > 0 {
		set := make(map[string]struct{}, len(vendors))
		for _, v := range vendors {
			set[v] = struct{}{}
		}
		ap = filterAP(ap, set)
		bank = filterBank(bank, set)
	}

	s := Summary{
		Threshold:    threshold,
		APInvoices:   len(ap),
		BankPayments: len(bank),
		TaxLines:     len(res.Tax),
		LeaseRecords: len(res.Lease),
	}

	var missingGL, amountMM, dupInv, unusualGL int
	for _, r := range ap {
		if r.RiskScore >= threshold {
			s.HighRiskAP++
		}
		if r.Flags.MissingInGL {
			missingGL++
		}
		if r.Flags.AmountMismatch {
			amountMM++
		}
		if r.Flags.DuplicateInvoice {
			dupInv++
		}
		if r.Flags.UnusualGLAccount {
			unusualGL++
		}
	}
	s.APRootCauses = []FlagCount{
		{Issue: "Missing in GL", Count: missingGL},
		{Issue: "Amount Mismatch", Count: amountMM},
		{Issue: "Duplicate Invoice", Count: dupInv},
		{Issue: "Unusual GL", Count: unusualGL},
	}

	var noInvoice, dupPay, bankMM int
	vendorRisk := map[string]*GroupAverage{}
	for _, r := range bank {
		if r.RiskScore >= threshold {
			s.HighRiskBank++
		}
		if r.Flags.NoMatchingInvoice {
			noInvoice++
		}
		if r.Flags.DuplicatePayment {
			dupPay++
		}
		if r.Flags.AmountMismatch {
			bankMM++
		}
		accumulate(vendorRisk, r.Vendor, r.RiskScore)
	}
	s.BankExceptions = []FlagCount{
		{Issue: "No Matching Invoice", Count: noInvoice},
		{Issue: "Duplicate Payment", Count: dupPay},
		{Issue: "Amount Mismatch", Count: bankMM},
	}
	s.BankByVendor = finish(vendorRisk)

	var rateMM, taxMissing, glDiff int
	stateRisk := map[string]*GroupAverage{}
	for _, r := range res.Tax {
		if r.RiskScore >= threshold {
			s.HighRiskTax++
		}
		if r.Flags.RateMismatch {
			rateMM++
		}
		if r.Flags.TaxMissing {
			taxMissing++
		}
		if r.Flags.GLTaxDiff {
			glDiff++
		}
		accumulate(stateRisk, r.State, r.RiskScore)
	}
	s.TaxIssues = []FlagCount{
		{Issue: "Rate Mismatch", Count: rateMM},
		{Issue: "Missing Tax", Count: taxMissing},
		{Issue: "GL Variance", Count: glDiff},
	}
	s.TaxByState = finish(stateRisk)

	var missingPeriods, ipMismatch, liabDiff int
	for _, r := range res.Lease {
		if r.RiskScore >= threshold {
			s.HighRiskLease++
		}
		if r.Flags.MissingPeriods {
			missingPeriods++
		}
		if r.Flags.IPSumMismatch {
			ipMismatch++
		}
		if r.Flags.LiabilityGLDiff {
			liabDiff++
		}
	}
	s.LeaseIssues = []FlagCount{
		{Issue: "Missing Periods", Count: missingPeriods},
		{Issue: "IP Sum Mismatch", Count: ipMismatch},
		{Issue: "GL Tie-Out Variance", Count: liabDiff},
	}

	return s
}

func filterAP(recs []domain.APRecord, set map[string]struct{}) []domain.APRecord {
	out := make([]domain.APRecord, 0, len(recs))
	for _, r := range recs {
		if _, ok := set[r.Vendor]; ok {
			out = append(out, r)
		}
	}
	return out
}

func filterBank(recs []domain.BankRecord, set map[string]struct{}) []domain.BankRecord {
	out := make([]domain.BankRecord, 0, len(recs))
	for _, r := range recs {
		if _, ok := set[r.Vendor]; ok {
			out = append(out, r)
		}
	}
	return out
}

func accumulate(m map[string]*GroupAverage, key string, score float64) {
	g, ok := m[key]
	if !ok {
		g = &GroupAverage{Key: key}
		m[key] = g
	}
	g.Average += score
	g.Count++
}

// finish converts accumulated sums to means and returns the groups sorted
// by key for stable output.
func finish(m map[string]*GroupAverage) []GroupAverage {
	out := make([]GroupAverage, 0, len(m))
	for _, g := range m {
		out = append(out, GroupAverage{Key: g.Key, Average: g.Average / float64(g.Count), Count: g.Count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
