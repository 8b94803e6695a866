package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/csvio"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// writeFixtures materializes a small six-table source set with one known
// high-risk record per subledger side and returns the source paths.
//
// INV-002 is missing in GL with an amount mismatch and a late posting, so
// it scores 100. TXN-101 matches no invoice. T-2 has a missing rate with
// tax never charged. The lease schedule ties out clean against the GL.
func writeFixtures(t *testing.T) domain.SourcePaths {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"ap.csv": `Invoice_ID,Vendor,Invoice_Date,Total_Invoice_Amount,Expected_Total,AP_Match_Key,Unpaid_AsOfYE,GL_Account
INV-001,Acme,2025-06-01,1000,1000,Acme|1000.00,false,6100
INV-002,Acme,2025-03-01,2000,2500,Missing,true,6100
INV-003,Beta,2025-07-01,300,300,Beta|300.00,false,6200
`,
		"bank.csv": `Txn_ID,Txn_Date,Vendor,Amount,Match_Key,Duplicate_Payment_Flag
TXN-100,2025-06-15,Acme,1000,Acme|1000.00,false
TXN-101,2025-08-01,Beta,50,Orphan,false
`,
		"tax.csv": `Invoice_ID,State,Taxable_Amount,Tax_Rate,Calculated_Tax,Recalc_Tax
T-1,CA,1000,0.0725,72.5,72.5
T-2,FL,500,,0,30
`,
		"lease.csv": `Lease_ID,Period,Ending_Lease_Liability,ROU_Asset_Balance,IP_Sum_Mismatch_Flag,Sequence_Check
L-1,1,800,700,false,OK
L-1,2,1000,900,false,OK
`,
		"gl.csv": `Account,Ending_Balance
Sales Tax Payable,72.5
Lease Liability,1000
ROU Asset,900
`,
		"rates.csv": `Tax_Jurisdiction,Total_Tax_Rate_2025
CA,0.0725
FL,0.06
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture %s: %v", name, err)
		}
	}

	return domain.SourcePaths{
		AP:       filepath.Join(dir, "ap.csv"),
		Bank:     filepath.Join(dir, "bank.csv"),
		Tax:      filepath.Join(dir, "tax.csv"),
		Lease:    filepath.Join(dir, "lease.csv"),
		GL:       filepath.Join(dir, "gl.csv"),
		TaxRates: filepath.Join(dir, "rates.csv"),
	}
}

func testConfig(t *testing.T) *domain.Config {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Pipeline.Sources = writeFixtures(t)
	cfg.Pipeline.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	repo := newTestRepo(t)

	eventBus, err := bus.New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 100})
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	defer eventBus.Close()

	var mu sync.Mutex
	var alerts, completions int
	collect := func(counter *int) domain.MessageHandler {
		return func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			*counter++
			mu.Unlock()
			return nil
		}
	}
	if _, err := eventBus.Subscribe(ctx, domain.TopicRecordAlert, collect(&alerts)); err != nil {
		t.Fatalf("subscribe alerts: %v", err)
	}
	if _, err := eventBus.Subscribe(ctx, domain.TopicRunCompleted, collect(&completions)); err != nil {
		t.Fatalf("subscribe completions: %v", err)
	}

	engine, err := checks.NewEngine(4)
	if err != nil {
		t.Fatalf("create checks engine: %v", err)
	}
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "high-risk-ap",
		Name:       "High risk AP",
		Source:     domain.SourceAP,
		Expression: "risk_score >= 90.0",
		Severity:   domain.SeverityReview,
		Enabled:    true,
	}
	if err := repo.SaveCheckConfig(ctx, check); err != nil {
		t.Fatalf("save check config: %v", err)
	}

	runner := NewRunner(cfg, repo, eventBus, engine, nil)
	res, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Run.Status != domain.RunStatusCompleted {
		t.Errorf("expected completed run, got %s", res.Run.Status)
	}
	if res.Run.APCount != 3 || res.Run.BankCount != 2 || res.Run.TaxCount != 2 || res.Run.LeaseCount != 2 {
		t.Errorf("unexpected counts: %+v", res.Run)
	}

	// INV-002 carries missing-in-GL, amount mismatch, and late posting.
	var inv002 *domain.APRecord
	for i := range res.AP {
		if res.AP[i].InvoiceID == "INV-002" {
			inv002 = &res.AP[i]
		}
	}
	if inv002 == nil {
		t.Fatal("INV-002 not in results")
	}
	if inv002.RiskScore != 100 || inv002.RiskLevel != domain.BandCritical {
		t.Errorf("INV-002: expected 100/Critical, got %v/%s", inv002.RiskScore, inv002.RiskLevel)
	}

	// Two journal entries: the INV-002 full accrual and the T-2 true-up.
	if len(res.Journal) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(res.Journal))
	}
	byRef := make(map[string]domain.JournalEntry, len(res.Journal))
	for _, e := range res.Journal {
		byRef[e.Reference] = e
	}
	if e, ok := byRef["INV-002"]; !ok || e.Amount != 2500 || e.DebitAccount != domain.AccountProjectExpense {
		t.Errorf("unexpected INV-002 entry: %+v", e)
	}
	if e, ok := byRef["T-2"]; !ok || e.Amount != 30 || e.CreditAccount != domain.AccountSalesTaxPayable {
		t.Errorf("unexpected T-2 entry: %+v", e)
	}

	// The stored check fires only on INV-002.
	if len(res.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(res.Findings), res.Findings)
	}
	if res.Findings[0].RefID != "INV-002" || res.Findings[0].CheckID != "high-risk-ap" {
		t.Errorf("unexpected finding: %+v", res.Findings[0])
	}

	// Persisted state.
	stored, err := repo.GetRun(ctx, res.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != domain.RunStatusCompleted || stored.APCount != 3 {
		t.Errorf("stored run mismatch: %+v", stored)
	}
	rows, err := repo.ListScoredRows(ctx, res.Run.ID, domain.SourceAP, domain.RecordFilter{MinScore: 90})
	if err != nil {
		t.Fatalf("list scored rows: %v", err)
	}
	if len(rows) != 1 || rows[0].RefID != "INV-002" {
		t.Errorf("expected only INV-002 at or above 90, got %+v", rows)
	}
	entries, err := repo.ListJournalEntries(ctx, res.Run.ID)
	if err != nil {
		t.Fatalf("list journal entries: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 stored journal entries, got %d", len(entries))
	}

	// Output CSVs.
	for _, name := range []string{
		csvio.APOutputFile, csvio.BankOutputFile, csvio.TaxOutputFile,
		csvio.LeaseOutputFile, csvio.JournalOutputFile,
	} {
		if _, err := os.Stat(filepath.Join(cfg.Pipeline.OutputDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	// Three critical records: INV-002, TXN-101, T-2. Delivery is async.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		a, c := alerts, completions
		mu.Unlock()
		if a == 3 && c == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 alerts and 1 completion, got %d and %d", a, c)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	repo := newTestRepo(t)

	runner := NewRunner(cfg, repo, nil, nil, nil)

	first, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Run.ID == second.Run.ID {
		t.Error("runs must get distinct IDs")
	}
	for i := range first.AP {
		if first.AP[i].RiskScore != second.AP[i].RiskScore {
			t.Errorf("AP %s scored differently across runs: %v vs %v",
				first.AP[i].InvoiceID, first.AP[i].RiskScore, second.AP[i].RiskScore)
		}
	}

	latest, err := repo.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != second.Run.ID {
		t.Errorf("latest run should be the second, got %s", latest.ID)
	}
}

func TestRunOneShotWithoutBackends(t *testing.T) {
	cfg := testConfig(t)

	runner := NewRunner(cfg, nil, nil, nil, nil)
	res, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.AP) != 3 || len(res.Journal) != 2 {
		t.Errorf("unexpected results: ap=%d journal=%d", len(res.AP), len(res.Journal))
	}
	if len(res.Findings) != 0 {
		t.Errorf("expected no findings without a checks engine, got %d", len(res.Findings))
	}
}

func TestRunFailsOnMissingSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.Sources.AP = filepath.Join(t.TempDir(), "nope.csv")
	repo := newTestRepo(t)

	runner := NewRunner(cfg, repo, nil, nil, nil)
	if _, err := runner.Run(ctx); err == nil {
		t.Fatal("expected error for missing source file")
	}

	runs, err := repo.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.RunStatusFailed {
		t.Errorf("expected one failed run, got %+v", runs)
	}
	if runs[0].Error == "" {
		t.Error("failed run should record its error")
	}
}

func TestScoredRowsFlattening(t *testing.T) {
	res := &domain.RunResult{
		Run: domain.Run{ID: "run-1"},
		AP: []domain.APRecord{{
			APInvoice: domain.APInvoice{InvoiceID: "INV-1", Vendor: "Acme"},
			RiskScore: 35, RiskLevel: domain.BandMedium,
		}},
		Tax: []domain.TaxRecord{{
			TaxLine:    domain.TaxLine{InvoiceID: "T-1", TaxRate: domain.MissingRate()},
			RefTaxRate: domain.MissingRate(),
			RiskScore:  75, RiskLevel: domain.BandCritical,
		}},
	}

	rows := ScoredRows(res)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.RunID != "run-1" {
			t.Errorf("row missing run ID: %+v", row)
		}
		if len(row.Payload) == 0 || len(row.Flags) == 0 {
			t.Errorf("row %s/%s has empty payload or flags", row.Source, row.RefID)
		}
	}
	if rows[0].Vendor != "Acme" || rows[1].Vendor != "" {
		t.Errorf("vendor mapping wrong: %+v", rows)
	}
}
