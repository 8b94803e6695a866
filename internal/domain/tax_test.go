package domain

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestTaxLineJSONMissingRate(t *testing.T) {
	line := TaxLine{
		InvoiceID:     "T-001",
		State:         "CA",
		TaxableAmount: 100,
		TaxRate:       MissingRate(),
		CalculatedTax: 0,
		RecalcTax:     0,
	}

	data, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"taxRate":null`) {
		t.Errorf("expected null taxRate, got %s", data)
	}

	var back TaxLine
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsNaN(back.TaxRate) {
		t.Errorf("expected missing sentinel after round trip, got %v", back.TaxRate)
	}
	if back.InvoiceID != "T-001" || back.State != "CA" {
		t.Errorf("lost line fields: %+v", back)
	}
}

func TestTaxLineJSONPresentRate(t *testing.T) {
	line := TaxLine{InvoiceID: "T-002", State: "TX", TaxRate: 0.0825}

	data, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back TaxLine
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.TaxRate != 0.0825 {
		t.Errorf("expected rate 0.0825, got %v", back.TaxRate)
	}
}

func TestTaxRecordJSONRoundTrip(t *testing.T) {
	rec := TaxRecord{
		TaxLine: TaxLine{
			InvoiceID:     "T-003",
			State:         "FL",
			TaxableAmount: 500,
			TaxRate:       MissingRate(),
			CalculatedTax: 30,
			RecalcTax:     0,
		},
		RefTaxRate: MissingRate(),
		Flags:      TaxFlags{TaxMissing: true, JurisdictionMiss: true},
		RiskScore:  45,
		RiskLevel:  BandHigh,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"refTaxRate":null`, `"risk_score":45`, `"tax_missing":true`, `"invoiceId":"T-003"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}

	var back TaxRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsNaN(back.RefTaxRate) || !math.IsNaN(back.TaxRate) {
		t.Errorf("expected missing sentinels after round trip: %+v", back)
	}
	if back.RiskLevel != BandHigh || back.RiskScore != 45 {
		t.Errorf("lost scoring fields: %+v", back)
	}
	if !back.Flags.TaxMissing || !back.Flags.JurisdictionMiss {
		t.Errorf("lost flags: %+v", back.Flags)
	}
}
