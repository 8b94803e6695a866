package domain

// GLBalance is one line of the general-ledger trial balance summary.
// Read-only reference data; never mutated by detection or scoring.
type GLBalance struct {
	Account       string  `json:"account"`
	EndingBalance float64 `json:"endingBalance"`
}

// TaxRateRef is one line of the jurisdiction tax-rate reference table.
type TaxRateRef struct {
	Jurisdiction string  `json:"taxJurisdiction"`
	TotalTaxRate float64 `json:"totalTaxRate"`
}

// SourceData holds the six raw input tables for one reconciliation run.
type SourceData struct {
	AP       []APInvoice
	Bank     []BankTransaction
	Tax      []TaxLine
	Lease    []LeaseLine
	GL       []GLBalance
	TaxRates []TaxRateRef
}

// VendorStats holds per-vendor aggregates computed once per run and joined
// onto records before flagging.
type VendorStats struct {
	Vendor string `json:"vendor"`

	// ModeGLAccount is the vendor's most frequent GL account across all of
	// its AP invoices. Ties break toward the first-encountered account.
	ModeGLAccount string `json:"modeGLAccount"`

	// P90Payment is the 90th percentile of the vendor's bank payment
	// amounts (linear interpolation between order statistics).
	P90Payment float64 `json:"p90Payment"`
}
