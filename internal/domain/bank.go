package domain

import "time"

// BankTransaction is one raw bank statement line.
type BankTransaction struct {
	TxnID            string    `json:"txnId"`
	TxnDate          time.Time `json:"txnDate"`
	Vendor           string    `json:"vendor"`
	Amount           float64   `json:"amount"`
	MatchKey         string    `json:"matchKey"`
	DuplicatePayment bool      `json:"duplicatePaymentFlag"`
}

// BankFlags is the complete flag set for a bank transaction.
//
// InvoicePaidNoBankTxn is a reserved detection hook: the detector always
// sets it to false today, but the scorer already carries its weight so the
// detection can be added without touching scoring.
type BankFlags struct {
	NoMatchingInvoice    bool `json:"no_matching_invoice"`
	InvoicePaidNoBankTxn bool `json:"invoice_marked_paid_but_no_bank_txn"`
	DuplicatePayment     bool `json:"duplicate_payment"`
	AmountMismatch       bool `json:"amount_mismatch"`
	UnusualVendorPayment bool `json:"unusual_vendor_payment"`
}

// Count returns the number of true flags.
func (f BankFlags) Count() int {
	n := 0
	for _, b := range []bool{f.NoMatchingInvoice, f.InvoicePaidNoBankTxn, f.DuplicatePayment, f.AmountMismatch, f.UnusualVendorPayment} {
		if b {
			n++
		}
	}
	return n
}

// BankRecord is a fully processed bank transaction.
type BankRecord struct {
	BankTransaction
	// InvoiceAmount is the matched AP invoice amount (0 when unmatched),
	// joined before flagging.
	InvoiceAmount float64   `json:"invoiceAmount"`
	Flags         BankFlags `json:"flags"`
	RiskScore     float64   `json:"risk_score"`
	RiskLevel     RiskBand  `json:"risk_level"`
}
