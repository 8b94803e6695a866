package detect

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/score"
)

// SequenceError is the source system's marker for a lease schedule with
// missing or out-of-order periods.
const SequenceError = "Sequence Error"

// Lease derives flags for every lease schedule line and scores each record.
// The two GL tie-out flags compare dataset-wide sums with zero tolerance
// (any nonzero difference flags) and are broadcast to every record.
func Lease(lines []domain.LeaseLine, gl []domain.GLBalance) []domain.LeaseRecord {
	// Per-lease maximum ending balances stand in for the schedule's final
	// position regardless of period ordering.
	maxLiability := make(map[string]float64)
	maxROU := make(map[string]float64)
	for _, line := range lines {
		if v, ok := maxLiability[line.LeaseID]; !ok || line.EndingLeaseLiability > v {
			maxLiability[line.LeaseID] = line.EndingLeaseLiability
		}
		if v, ok := maxROU[line.LeaseID]; !ok || line.ROUAssetBalance > v {
			maxROU[line.LeaseID] = line.ROUAssetBalance
		}
	}

	var schedLiability, schedROU float64
	for _, v := range maxLiability {
		schedLiability += v
	}
	for _, v := range maxROU {
		schedROU += v
	}

	var glLiability, glROU float64
	for _, bal := range gl {
		account := strings.ToLower(bal.Account)
		if strings.Contains(account, "lease") {
			glLiability += bal.EndingBalance
		}
		if strings.Contains(account, "rou") {
			glROU += bal.EndingBalance
		}
	}

	liabilityDiff := math.Abs(glLiability-schedLiability) > 0
	rouDiff := math.Abs(glROU-schedROU) > 0

	records := make([]domain.LeaseRecord, len(lines))
	for i, line := range lines {
		flags := domain.LeaseFlags{
			LiabilityGLDiff: liabilityDiff,
			ROUGLDiff:       rouDiff,
			MissingPeriods:  line.SequenceCheck == SequenceError,
			IPSumMismatch:   line.IPSumMismatchFlag,

			// Reserved detection hooks, not yet derived from source data.
			IncorrectOpening: false,
			Classification:   false,
		}

		rec := domain.LeaseRecord{LeaseLine: line, Flags: flags}
		rec.RiskScore, rec.RiskLevel = score.Lease(flags)
		records[i] = rec
	}
	return records
}
