package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Output file names, matching what downstream review tooling expects.
const (
	APOutputFile      = "AP_with_risk.csv"
	BankOutputFile    = "Bank_with_risk.csv"
	TaxOutputFile     = "Tax_with_risk.csv"
	LeaseOutputFile   = "Lease_with_risk.csv"
	JournalOutputFile = "Suggested_Journal_Entries_FY2025.csv"
)

func fnum(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fbool(v bool) string {
	return strconv.FormatBool(v)
}

func fdate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAP writes the scored AP table: the raw columns plus flags and risk.
func WriteAP(w io.Writer, recs []domain.APRecord) error {
	header := []string{
		"Invoice_ID", "Vendor", "Invoice_Date", "Total_Invoice_Amount",
		"Expected_Total", "AP_Match_Key", "Unpaid_AsOfYE", "GL_Account",
		"amount_mismatch", "missing_in_GL", "late_posting",
		"duplicate_invoice_number", "unusual_GL_account",
		"risk_score", "risk_level",
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.InvoiceID, r.Vendor, fdate(r.InvoiceDate), fnum(r.TotalInvoiceAmount),
			fnum(r.ExpectedTotal), r.MatchKey, fbool(r.UnpaidAsOfYE), r.GLAccount,
			fbool(r.Flags.AmountMismatch), fbool(r.Flags.MissingInGL), fbool(r.Flags.LatePosting),
			fbool(r.Flags.DuplicateInvoice), fbool(r.Flags.UnusualGLAccount),
			fnum(r.RiskScore), string(r.RiskLevel),
		})
	}
	return writeRows(w, header, rows)
}

// WriteBank writes the scored bank table.
func WriteBank(w io.Writer, recs []domain.BankRecord) error {
	header := []string{
		"Txn_ID", "Txn_Date", "Vendor", "Amount", "Match_Key", "Duplicate_Payment_Flag",
		"no_matching_invoice", "invoice_paid_no_bank_txn", "duplicate_payment",
		"amount_mismatch", "unusual_vendor_payment",
		"risk_score", "risk_level",
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.TxnID, fdate(r.TxnDate), r.Vendor, fnum(r.Amount), r.MatchKey, fbool(r.DuplicatePayment),
			fbool(r.Flags.NoMatchingInvoice), fbool(r.Flags.InvoicePaidNoBankTxn), fbool(r.Flags.DuplicatePayment),
			fbool(r.Flags.AmountMismatch), fbool(r.Flags.UnusualVendorPayment),
			fnum(r.RiskScore), string(r.RiskLevel),
		})
	}
	return writeRows(w, header, rows)
}

// WriteTax writes the scored tax table. A missing tax rate serializes as an
// empty cell.
func WriteTax(w io.Writer, recs []domain.TaxRecord) error {
	header := []string{
		"Invoice_ID", "State", "Taxable_Amount", "Tax_Rate", "Calculated_Tax", "Recalc_Tax",
		"rate_mismatch", "tax_missing", "tax_on_nontaxable_item",
		"jurisdiction_missing", "gl_tax_diff_flag",
		"risk_score", "risk_level",
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.InvoiceID, r.State, fnum(r.TaxableAmount), fnum(r.TaxRate), fnum(r.CalculatedTax), fnum(r.RecalcTax),
			fbool(r.Flags.RateMismatch), fbool(r.Flags.TaxMissing), fbool(r.Flags.TaxOnNontaxable),
			fbool(r.Flags.JurisdictionMiss), fbool(r.Flags.GLTaxDiff),
			fnum(r.RiskScore), string(r.RiskLevel),
		})
	}
	return writeRows(w, header, rows)
}

// WriteLease writes the scored lease table.
func WriteLease(w io.Writer, recs []domain.LeaseRecord) error {
	header := []string{
		"Lease_ID", "Period", "Ending_Lease_Liability", "ROU_Asset_Balance",
		"IP_Sum_Mismatch_Flag", "Sequence_Check",
		"ip_sum_mismatch", "missing_periods",
		"schedule_to_GL_liability_diff_flag", "schedule_to_GL_ROU_diff_flag",
		"incorrect_opening_entry", "classification_flag",
		"risk_score", "risk_level",
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.LeaseID, strconv.Itoa(r.Period), fnum(r.EndingLeaseLiability), fnum(r.ROUAssetBalance),
			fbool(r.IPSumMismatchFlag), r.SequenceCheck,
			fbool(r.Flags.IPSumMismatch), fbool(r.Flags.MissingPeriods),
			fbool(r.Flags.LiabilityGLDiff), fbool(r.Flags.ROUGLDiff),
			fbool(r.Flags.IncorrectOpening), fbool(r.Flags.Classification),
			fnum(r.RiskScore), string(r.RiskLevel),
		})
	}
	return writeRows(w, header, rows)
}

// WriteJournal writes suggested journal entries for controller review.
func WriteJournal(w io.Writer, entries []domain.JournalEntry) error {
	header := []string{"Source", "Reference", "Debit_Account", "Credit_Account", "Amount", "Description"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			string(e.Source), e.Reference, e.DebitAccount, e.CreditAccount,
			strconv.FormatFloat(e.Amount, 'f', 2, 64), e.Description,
		})
	}
	return writeRows(w, header, rows)
}

// WriteOutputs writes all scored tables and the journal preview under dir,
// creating it if needed.
func WriteOutputs(dir string, res *domain.RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{APOutputFile, func(w io.Writer) error { return WriteAP(w, res.AP) }},
		{BankOutputFile, func(w io.Writer) error { return WriteBank(w, res.Bank) }},
		{TaxOutputFile, func(w io.Writer) error { return WriteTax(w, res.Tax) }},
		{LeaseOutputFile, func(w io.Writer) error { return WriteLease(w, res.Lease) }},
		{JournalOutputFile, func(w io.Writer) error { return WriteJournal(w, res.Journal) }},
	}

	for _, f := range files {
		out, err := os.Create(filepath.Join(dir, f.name))
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		err = f.write(out)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}
