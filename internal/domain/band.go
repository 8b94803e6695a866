// Package domain defines the core types and interfaces for Kestrel.
package domain

// RiskBand is one of four ordered risk categories derived from a score.
type RiskBand string

const (
	BandLow      RiskBand = "Low"
	BandMedium   RiskBand = "Medium"
	BandHigh     RiskBand = "High"
	BandCritical RiskBand = "Critical"
)

// Bands returns the four bands in ascending order of severity.
func Bands() []RiskBand {
	return []RiskBand{BandLow, BandMedium, BandHigh, BandCritical}
}

// Source identifies which subledger a record or journal entry came from.
type Source string

const (
	SourceAP    Source = "AP"
	SourceBank  Source = "Bank"
	SourceTax   Source = "Tax"
	SourceLease Source = "Lease"
)

// Sources returns all subledger sources in pipeline order.
// AP must be processed before Bank (match-key join); Tax and Lease are
// independent of both.
func Sources() []Source {
	return []Source{SourceAP, SourceBank, SourceTax, SourceLease}
}
