// Validate runs one reconciliation pass over a directory of close
// packages and prints the close-health summary.
//
// Usage:
//   go run cmd/validate/main.go -data /path/to/close -out ./output
//
// This tool:
//  1. Reads the four subledger extracts and two reference tables
//  2. Flags exceptions and scores every record
//  3. Synthesizes proposed true-up journal entries
//  4. Writes the scored CSVs and prints the summary
//
// It runs without a database or event bus; use the server binary when
// persistence and the review API are needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
)

func main() {
	dataDir := flag.String("data", "", "Directory containing the six source CSVs")
	outDir := flag.String("out", "output", "Directory for scored CSVs and the journal export")
	threshold := flag.Float64("threshold", 60, "Minimum risk score surfaced for review (0-100)")
	yearEnd := flag.String("year-end", "2025-12-31", "Close date for late-posting detection (YYYY-MM-DD)")
	vendors := flag.String("vendors", "", "Comma-separated vendor subset for the summary")
	verbose := flag.Bool("verbose", false, "Print every record at or above the threshold")
	flag.Parse()

	if *dataDir == "" {
		fmt.Println("Usage: validate -data /path/to/close [-out ./output]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	closeDate, err := time.Parse("2006-01-02", *yearEnd)
	if err != nil {
		fmt.Printf("ERROR: invalid -year-end %q: %v\n", *yearEnd, err)
		os.Exit(1)
	}
	if *threshold < 0 || *threshold > 100 {
		fmt.Printf("ERROR: -threshold must be between 0 and 100, got %v\n", *threshold)
		os.Exit(1)
	}

	var vendorFilter []string
	for _, v := range strings.Split(*vendors, ",") {
		if v = strings.TrimSpace(v); v != "" {
			vendorFilter = append(vendorFilter, v)
		}
	}

	cfg := domain.DefaultConfig()
	cfg.Pipeline.Sources = sourcesIn(*dataDir)
	cfg.Pipeline.OutputDir = *outDir
	cfg.Pipeline.YearEnd = closeDate
	cfg.Pipeline.ReviewThreshold = *threshold

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL VALIDATE - Year-End Close Check            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nData Dir:   %s\n", *dataDir)
	fmt.Printf("Output Dir: %s\n", *outDir)
	fmt.Printf("Year End:   %s\n", closeDate.Format("2006-01-02"))
	fmt.Printf("Threshold:  %.0f\n", *threshold)
	if len(vendorFilter) > 0 {
		fmt.Printf("Vendors:    %s\n", strings.Join(vendorFilter, ", "))
	}
	fmt.Println()

	// Quiet logger; the pipeline logs at info which would interleave
	// with the report output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	runner := pipeline.NewRunner(cfg, nil, nil, nil, logger)

	start := time.Now()
	res, err := runner.Run(context.Background())
	if err != nil {
		fmt.Printf("ERROR: reconciliation failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(start)

	printSummary(report.Build(res, *threshold, vendorFilter), res, duration)

	if *verbose {
		printRecords(res, *threshold)
	}
}

// sourcesIn maps the standard close-package file names onto a directory.
func sourcesIn(dir string) domain.SourcePaths {
	return domain.SourcePaths{
		AP:       filepath.Join(dir, "ap_subledger.csv"),
		Bank:     filepath.Join(dir, "bank_transactions.csv"),
		Tax:      filepath.Join(dir, "tax_detail.csv"),
		Lease:    filepath.Join(dir, "lease_schedule.csv"),
		GL:       filepath.Join(dir, "gl_trial_balance_summary.csv"),
		TaxRates: filepath.Join(dir, "tax_rate_reference.csv"),
	}
}

func printSummary(s report.Summary, res *domain.RunResult, duration time.Duration) {
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     CLOSE-HEALTH SUMMARY                      ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RECORD COUNTS\n")
	fmt.Printf("   AP Invoices:      %d\n", s.APInvoices)
	fmt.Printf("   Bank Payments:    %d\n", s.BankPayments)
	fmt.Printf("   Tax Lines:        %d\n", s.TaxLines)
	fmt.Printf("   Lease Schedules:  %d\n", s.LeaseRecords)

	fmt.Printf("\n🚩 HIGH RISK (score >= %.0f)\n", s.Threshold)
	fmt.Printf("   AP:     %d\n", s.HighRiskAP)
	fmt.Printf("   Bank:   %d\n", s.HighRiskBank)
	fmt.Printf("   Tax:    %d\n", s.HighRiskTax)
	fmt.Printf("   Lease:  %d\n", s.HighRiskLease)

	fmt.Printf("\n🔍 EXCEPTION BREAKDOWN\n")
	printFlagCounts("AP", s.APRootCauses)
	printFlagCounts("Bank", s.BankExceptions)
	printFlagCounts("Tax", s.TaxIssues)
	printFlagCounts("Lease", s.LeaseIssues)

	if len(s.BankByVendor) > 0 {
		fmt.Printf("\n🏦 BANK RISK BY VENDOR\n")
		for _, g := range s.BankByVendor {
			fmt.Printf("   %-24s avg %6.1f  (%d payments)\n", g.Key, g.Average, g.Count)
		}
	}
	if len(s.TaxByState) > 0 {
		fmt.Printf("\n🗺️  TAX RISK BY JURISDICTION\n")
		for _, g := range s.TaxByState {
			fmt.Printf("   %-24s avg %6.1f  (%d lines)\n", g.Key, g.Average, g.Count)
		}
	}

	fmt.Printf("\n📝 PROPOSED JOURNAL ENTRIES (%d)\n", len(res.Journal))
	for _, e := range res.Journal {
		fmt.Printf("   %-5s %-12s Dr %-28s Cr %-28s %12.2f\n",
			e.Source, e.Reference, e.DebitAccount, e.CreditAccount, e.Amount)
	}

	if len(res.Findings) > 0 {
		fmt.Printf("\n⚠️  CUSTOM CHECK FINDINGS (%d)\n", len(res.Findings))
		for _, f := range res.Findings {
			fmt.Printf("   [%s] %s: %s/%s\n", f.Severity, f.CheckName, f.Source, f.RefID)
		}
	}

	fmt.Printf("\n⏱️  Completed in %v\n\n", duration.Round(time.Millisecond))
}

func printFlagCounts(label string, counts []report.FlagCount) {
	var parts []string
	for _, c := range counts {
		if c.Count > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", c.Issue, c.Count))
		}
	}
	if len(parts) == 0 {
		fmt.Printf("   %-6s clean\n", label)
		return
	}
	fmt.Printf("   %-6s %s\n", label, strings.Join(parts, " | "))
}

// printRecords lists every record at or above the threshold, worst first
// within each area.
func printRecords(res *domain.RunResult, threshold float64) {
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    RECORDS FOR REVIEW                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	for _, r := range res.AP {
		if r.RiskScore >= threshold {
			fmt.Printf("AP    %-12s %-20s score %5.0f %-8s (%d flags)\n",
				r.InvoiceID, r.Vendor, r.RiskScore, r.RiskLevel, r.Flags.Count())
		}
	}
	for _, r := range res.Bank {
		if r.RiskScore >= threshold {
			fmt.Printf("BANK  %-12s %-20s score %5.0f %-8s\n",
				r.TxnID, r.Vendor, r.RiskScore, r.RiskLevel)
		}
	}
	for _, r := range res.Tax {
		if r.RiskScore >= threshold {
			fmt.Printf("TAX   %-12s %-20s score %5.0f %-8s\n",
				r.InvoiceID, r.State, r.RiskScore, r.RiskLevel)
		}
	}
	for _, r := range res.Lease {
		if r.RiskScore >= threshold {
			fmt.Printf("LEASE %-12s %-20s score %5.0f %-8s\n",
				r.LeaseID, "", r.RiskScore, r.RiskLevel)
		}
	}
	fmt.Println()
}
