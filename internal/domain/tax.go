package domain

import (
	"encoding/json"
	"math"
)

// TaxLine is one raw sales/use tax invoice line.
//
// TaxRate and RefTaxRate use NaN for "missing" so the rate comparison can
// treat both-missing as equal, matching the reference-table join semantics.
type TaxLine struct {
	InvoiceID     string  `json:"invoiceId"`
	State         string  `json:"state"`
	TaxableAmount float64 `json:"taxableAmount"`
	TaxRate       float64 `json:"taxRate"`
	CalculatedTax float64 `json:"calculatedTax"`
	RecalcTax     float64 `json:"recalcTax"`
}

// TaxFlags is the complete flag set for a tax line.
//
// GLTaxDiff is a dataset-wide flag: it compares the sum of GL tax account
// balances against the sum of all Calculated_Tax and is broadcast to every
// tax record in the run.
type TaxFlags struct {
	RateMismatch     bool    `json:"rate_mismatch"`
	TaxMissing       bool    `json:"tax_missing"`
	TaxOnNontaxable  bool    `json:"tax_on_nontaxable_item"`
	JurisdictionMiss bool    `json:"jurisdiction_missing"`
	GLTaxDiff        bool    `json:"gl_tax_diff_flag"`
	TaxDiffAbs       float64 `json:"tax_diff_abs"`
}

// Count returns the number of true boolean flags. TaxDiffAbs is a numeric
// scoring input, not a flag, and does not participate in the floor rule.
func (f TaxFlags) Count() int {
	n := 0
	for _, b := range []bool{f.RateMismatch, f.TaxMissing, f.TaxOnNontaxable, f.JurisdictionMiss, f.GLTaxDiff} {
		if b {
			n++
		}
	}
	return n
}

// TaxRecord is a fully processed tax line.
type TaxRecord struct {
	TaxLine
	RefTaxRate float64  `json:"refTaxRate"`
	Flags      TaxFlags `json:"flags"`
	RiskScore  float64  `json:"risk_score"`
	RiskLevel  RiskBand `json:"risk_level"`
}

// MarshalJSON encodes a missing rate as null; encoding/json rejects NaN.
func (l TaxLine) MarshalJSON() ([]byte, error) {
	type alias TaxLine
	aux := struct {
		alias
		TaxRate *float64 `json:"taxRate"`
	}{alias: alias(l)}
	if !math.IsNaN(l.TaxRate) {
		aux.TaxRate = &l.TaxRate
	}
	return json.Marshal(aux)
}

// UnmarshalJSON restores the missing-rate sentinel from null.
func (l *TaxLine) UnmarshalJSON(data []byte) error {
	type alias TaxLine
	aux := struct {
		*alias
		TaxRate *float64 `json:"taxRate"`
	}{alias: (*alias)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TaxRate != nil {
		l.TaxRate = *aux.TaxRate
	} else {
		l.TaxRate = MissingRate()
	}
	return nil
}

// MarshalJSON flattens the embedded line and encodes a missing reference
// rate as null. Defined explicitly so the record does not inherit the
// line's marshaler and drop its own fields.
func (r TaxRecord) MarshalJSON() ([]byte, error) {
	line, err := r.TaxLine.MarshalJSON()
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, err
	}

	if math.IsNaN(r.RefTaxRate) {
		fields["refTaxRate"] = json.RawMessage("null")
	} else {
		v, err := json.Marshal(r.RefTaxRate)
		if err != nil {
			return nil, err
		}
		fields["refTaxRate"] = v
	}

	for name, v := range map[string]any{
		"flags":      r.Flags,
		"risk_score": r.RiskScore,
		"risk_level": r.RiskLevel,
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[name] = raw
	}

	return json.Marshal(fields)
}

// UnmarshalJSON restores a tax record, mapping null rates back to the
// missing sentinel.
func (r *TaxRecord) UnmarshalJSON(data []byte) error {
	if err := r.TaxLine.UnmarshalJSON(data); err != nil {
		return err
	}

	aux := struct {
		RefTaxRate *float64 `json:"refTaxRate"`
		Flags      TaxFlags `json:"flags"`
		RiskScore  float64  `json:"risk_score"`
		RiskLevel  RiskBand `json:"risk_level"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.RefTaxRate != nil {
		r.RefTaxRate = *aux.RefTaxRate
	} else {
		r.RefTaxRate = MissingRate()
	}
	r.Flags = aux.Flags
	r.RiskScore = aux.RiskScore
	r.RiskLevel = aux.RiskLevel
	return nil
}

// MissingRate is the sentinel for an absent tax rate.
func MissingRate() float64 { return math.NaN() }

// RateMissing reports whether a rate value is the missing sentinel.
func RateMissing(rate float64) bool { return math.IsNaN(rate) }
