package domain

// LeaseLine is one raw ASC 842 lease schedule line.
type LeaseLine struct {
	LeaseID              string  `json:"leaseId"`
	Period               int     `json:"period"`
	EndingLeaseLiability float64 `json:"endingLeaseLiability"`
	ROUAssetBalance      float64 `json:"rouAssetBalance"`
	IPSumMismatchFlag    bool    `json:"ipSumMismatchFlag"`
	SequenceCheck        string  `json:"sequenceCheck"`
}

// LeaseFlags is the complete flag set for a lease schedule line.
//
// LiabilityGLDiff and ROUGLDiff are dataset-wide flags comparing GL account
// sums against schedule totals, broadcast to every lease record in the run.
// IncorrectOpening and Classification are reserved detection hooks: always
// false today, weights already carried by the scorer.
type LeaseFlags struct {
	LiabilityGLDiff  bool `json:"schedule_to_GL_liability_diff_flag"`
	ROUGLDiff        bool `json:"schedule_to_GL_ROU_diff_flag"`
	MissingPeriods   bool `json:"missing_periods"`
	IncorrectOpening bool `json:"incorrect_opening_entry"`
	Classification   bool `json:"classification_flag"`
	IPSumMismatch    bool `json:"ip_sum_mismatch"`
}

// Count returns the number of true flags.
func (f LeaseFlags) Count() int {
	n := 0
	for _, b := range []bool{f.LiabilityGLDiff, f.ROUGLDiff, f.MissingPeriods, f.IncorrectOpening, f.Classification, f.IPSumMismatch} {
		if b {
			n++
		}
	}
	return n
}

// LeaseRecord is a fully processed lease schedule line.
type LeaseRecord struct {
	LeaseLine
	Flags     LeaseFlags `json:"flags"`
	RiskScore float64    `json:"risk_score"`
	RiskLevel RiskBand   `json:"risk_level"`
}
