package domain

import "time"

// APInvoice is one raw accounts payable subledger line.
type APInvoice struct {
	InvoiceID          string    `json:"invoiceId"`
	Vendor             string    `json:"vendor"`
	InvoiceDate        time.Time `json:"invoiceDate"`
	TotalInvoiceAmount float64   `json:"totalInvoiceAmount"`
	ExpectedTotal      float64   `json:"expectedTotal"`
	MatchKey           string    `json:"apMatchKey"`
	UnpaidAsOfYE       bool      `json:"unpaidAsOfYE"`
	GLAccount          string    `json:"glAccount"`
}

// APFlags is the complete flag set for an AP invoice. Flags are computed
// once by the detector and are immutable afterwards; they are the sole
// input to scoring.
type APFlags struct {
	AmountMismatch   bool `json:"amount_mismatch"`
	MissingInGL      bool `json:"missing_in_GL"`
	LatePosting      bool `json:"late_posting"`
	DuplicateInvoice bool `json:"duplicate_invoice_number"`
	UnusualGLAccount bool `json:"unusual_GL_account"`
}

// Count returns the number of true flags.
func (f APFlags) Count() int {
	n := 0
	for _, b := range []bool{f.AmountMismatch, f.MissingInGL, f.LatePosting, f.DuplicateInvoice, f.UnusualGLAccount} {
		if b {
			n++
		}
	}
	return n
}

// APRecord is a fully processed AP invoice: raw fields, derived flags, and
// the terminal score and band.
type APRecord struct {
	APInvoice
	Flags     APFlags  `json:"flags"`
	RiskScore float64  `json:"risk_score"`
	RiskLevel RiskBand `json:"risk_level"`
}
