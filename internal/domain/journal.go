package domain

// JournalEntry is a suggested debit/credit correction derived from a
// high-risk record. Entries are advisory: they are surfaced for controller
// review and never auto-posted.
type JournalEntry struct {
	ID            string  `json:"id"`
	Source        Source  `json:"source"`
	Reference     string  `json:"reference"`
	DebitAccount  string  `json:"debitAccount"`
	CreditAccount string  `json:"creditAccount"`
	Amount        float64 `json:"amount"` // positive, rounded to 2 decimals
	Description   string  `json:"description"`
}

// Standard accounts used by the journal entry synthesizer.
const (
	AccountProjectExpense  = "Project Expense"
	AccountAccountsPayable = "Accounts Payable"
	AccountSalesTaxExpense = "Sales Tax Expense"
	AccountSalesTaxPayable = "Sales & Use Tax Payable"
	AccountLeaseLiability  = "Lease Liability"
	AccountPriorPeriodAdj  = "Prior Period Adjustment"
)
