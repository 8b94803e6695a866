// Package csvio reads the six reconciliation source tables and writes the
// scored output tables. Column names follow the source extracts exactly;
// a missing column is a fatal load error, while bad numeric cells coerce
// to zero so a single malformed row cannot abort a close run.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DateLayout is the date format used by the source extracts.
const DateLayout = "2006-01-02"

// header maps column names to positions and reports any that are absent.
type header map[string]int

func readAll(r io.Reader, want []string) (header, [][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("empty file: no header row")
	}

	h := make(header, len(rows[0]))
	for i, name := range rows[0] {
		h[strings.TrimSpace(name)] = i
	}
	for _, name := range want {
		if _, ok := h[name]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", name)
		}
	}
	return h, rows[1:], nil
}

func (h header) str(row []string, name string) string {
	i := h[name]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// num coerces a numeric cell, returning 0 for blanks and unparsable text.
func (h header) num(row []string, name string) float64 {
	v, err := strconv.ParseFloat(h.str(row, name), 64)
	if err != nil {
		return 0
	}
	return v
}

func (h header) flag(row []string, name string) bool {
	s := h.str(row, name)
	return strings.EqualFold(s, "true") || s == "1"
}

// date parses a source date, returning the zero time when absent or
// malformed.
func (h header) date(row []string, name string) time.Time {
	t, err := time.Parse(DateLayout, h.str(row, name))
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReadAP loads the AP subledger extract.
func ReadAP(r io.Reader) ([]domain.APInvoice, error) {
	h, rows, err := readAll(r, []string{
		"Invoice_ID", "Vendor", "Invoice_Date", "Total_Invoice_Amount",
		"Expected_Total", "AP_Match_Key", "Unpaid_AsOfYE", "GL_Account",
	})
	if err != nil {
		return nil, fmt.Errorf("ap subledger: %w", err)
	}

	out := make([]domain.APInvoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.APInvoice{
			InvoiceID:          h.str(row, "Invoice_ID"),
			Vendor:             h.str(row, "Vendor"),
			InvoiceDate:        h.date(row, "Invoice_Date"),
			TotalInvoiceAmount: h.num(row, "Total_Invoice_Amount"),
			ExpectedTotal:      h.num(row, "Expected_Total"),
			MatchKey:           h.str(row, "AP_Match_Key"),
			UnpaidAsOfYE:       h.flag(row, "Unpaid_AsOfYE"),
			GLAccount:          h.str(row, "GL_Account"),
		})
	}
	return out, nil
}

// ReadBank loads the bank transaction extract.
func ReadBank(r io.Reader) ([]domain.BankTransaction, error) {
	h, rows, err := readAll(r, []string{
		"Txn_ID", "Txn_Date", "Vendor", "Amount", "Match_Key", "Duplicate_Payment_Flag",
	})
	if err != nil {
		return nil, fmt.Errorf("bank transactions: %w", err)
	}

	out := make([]domain.BankTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.BankTransaction{
			TxnID:            h.str(row, "Txn_ID"),
			TxnDate:          h.date(row, "Txn_Date"),
			Vendor:           h.str(row, "Vendor"),
			Amount:           h.num(row, "Amount"),
			MatchKey:         h.str(row, "Match_Key"),
			DuplicatePayment: h.flag(row, "Duplicate_Payment_Flag"),
		})
	}
	return out, nil
}

// ReadTax loads the tax detail extract. A blank or unparsable Tax_Rate is
// preserved as the missing sentinel rather than coerced to zero, since a
// zero rate is a legitimate value.
func ReadTax(r io.Reader) ([]domain.TaxLine, error) {
	h, rows, err := readAll(r, []string{
		"Invoice_ID", "State", "Taxable_Amount", "Tax_Rate", "Calculated_Tax", "Recalc_Tax",
	})
	if err != nil {
		return nil, fmt.Errorf("tax detail: %w", err)
	}

	out := make([]domain.TaxLine, 0, len(rows))
	for _, row := range rows {
		rate := domain.MissingRate()
		if s := h.str(row, "Tax_Rate"); s != "" {
			if v, perr := strconv.ParseFloat(s, 64); perr == nil {
				rate = v
			}
		}
		out = append(out, domain.TaxLine{
			InvoiceID:     h.str(row, "Invoice_ID"),
			State:         h.str(row, "State"),
			TaxableAmount: h.num(row, "Taxable_Amount"),
			TaxRate:       rate,
			CalculatedTax: h.num(row, "Calculated_Tax"),
			RecalcTax:     h.num(row, "Recalc_Tax"),
		})
	}
	return out, nil
}

// ReadLease loads the lease schedule extract.
func ReadLease(r io.Reader) ([]domain.LeaseLine, error) {
	h, rows, err := readAll(r, []string{
		"Lease_ID", "Period", "Ending_Lease_Liability", "ROU_Asset_Balance",
		"IP_Sum_Mismatch_Flag", "Sequence_Check",
	})
	if err != nil {
		return nil, fmt.Errorf("lease schedule: %w", err)
	}

	out := make([]domain.LeaseLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.LeaseLine{
			LeaseID:              h.str(row, "Lease_ID"),
			Period:               int(h.num(row, "Period")),
			EndingLeaseLiability: h.num(row, "Ending_Lease_Liability"),
			ROUAssetBalance:      h.num(row, "ROU_Asset_Balance"),
			IPSumMismatchFlag:    h.flag(row, "IP_Sum_Mismatch_Flag"),
			SequenceCheck:        h.str(row, "Sequence_Check"),
		})
	}
	return out, nil
}

// ReadGL loads the trial balance summary.
func ReadGL(r io.Reader) ([]domain.GLBalance, error) {
	h, rows, err := readAll(r, []string{"Account", "Ending_Balance"})
	if err != nil {
		return nil, fmt.Errorf("gl trial balance: %w", err)
	}

	out := make([]domain.GLBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.GLBalance{
			Account:       h.str(row, "Account"),
			EndingBalance: h.num(row, "Ending_Balance"),
		})
	}
	return out, nil
}

// ReadTaxRates loads the jurisdiction rate reference.
func ReadTaxRates(r io.Reader) ([]domain.TaxRateRef, error) {
	h, rows, err := readAll(r, []string{"Tax_Jurisdiction", "Total_Tax_Rate_2025"})
	if err != nil {
		return nil, fmt.Errorf("tax rate reference: %w", err)
	}

	out := make([]domain.TaxRateRef, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.TaxRateRef{
			Jurisdiction: h.str(row, "Tax_Jurisdiction"),
			TotalTaxRate: h.num(row, "Total_Tax_Rate_2025"),
		})
	}
	return out, nil
}

// LoadSources reads all six source tables from the configured paths.
func LoadSources(paths domain.SourcePaths) (*domain.SourceData, error) {
	var data domain.SourceData

	steps := []struct {
		path string
		load func(io.Reader) error
	}{
		{paths.AP, func(r io.Reader) error { var err error; data.AP, err = ReadAP(r); return err }},
		{paths.Bank, func(r io.Reader) error { var err error; data.Bank, err = ReadBank(r); return err }},
		{paths.Tax, func(r io.Reader) error { var err error; data.Tax, err = ReadTax(r); return err }},
		{paths.Lease, func(r io.Reader) error { var err error; data.Lease, err = ReadLease(r); return err }},
		{paths.GL, func(r io.Reader) error { var err error; data.GL, err = ReadGL(r); return err }},
		{paths.TaxRates, func(r io.Reader) error { var err error; data.TaxRates, err = ReadTaxRates(r); return err }},
	}

	for _, s := range steps {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		err = s.load(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
	}
	return &data, nil
}
