// Package scoring computes attempt-decayed point values for patient cases.
// Every function is pure: the same attempt counts always yield the same
// score whether computed offline or checked against a server-reported value.
package scoring

const (
	// MaxPoints is the score awarded for a correct answer on the first attempt.
	MaxPoints = 5
	// Deduction is subtracted for each additional attempt.
	Deduction = 2
	// MaxTotal is the best achievable combined score for one case.
	MaxTotal = 2 * MaxPoints
)

// Score returns the points earned for a phase answered correctly on the
// given attempt. Zero or negative attempts score zero.
func Score(attempts int) int {
	if attempts <= 0 {
		return 0
	}
	s := MaxPoints - (attempts-1)*Deduction
	if s < 0 {
		return 0
	}
	return s
}

// Total returns the combined score for both phases.
func Total(testAttempts, diagnosisAttempts int) int {
	return Score(testAttempts) + Score(diagnosisAttempts)
}

// Breakdown is the per-phase score summary exposed to the UI layer.
type Breakdown struct {
	LabTest   int `json:"lab_test"`
	Diagnosis int `json:"diagnosis"`
	Total     int `json:"total"`
	MaxPhase  int `json:"max_phase"`
	MaxTotal  int `json:"max_total"`
}

// BreakdownFor computes the full breakdown from attempt counts.
func BreakdownFor(testAttempts, diagnosisAttempts int) Breakdown {
	return Breakdown{
		LabTest:   Score(testAttempts),
		Diagnosis: Score(diagnosisAttempts),
		Total:     Total(testAttempts, diagnosisAttempts),
		MaxPhase:  MaxPoints,
		MaxTotal:  MaxTotal,
	}
}
