package contracts

import "time"

// EvaluationResult is the outcome of applying one policy version to a
// signal set.
type EvaluationResult string

const (
	ResultPass         EvaluationResult = "pass"
	ResultFail         EvaluationResult = "fail"
	ResultInconclusive EvaluationResult = "inconclusive"
)

// Valid reports whether r is a known evaluation result.
func (r EvaluationResult) Valid() bool {
	switch r {
	case ResultPass, ResultFail, ResultInconclusive:
		return true
	}
	return false
}

// Evaluation is the deterministic outcome of one policy-version/signal-set
// pair. InputHash is unique: re-evaluating identical inputs returns the
// existing row, never a duplicate.
type Evaluation struct {
	ID              string            `json:"id"`
	PolicyVersionID string            `json:"policy_version_id"`
	SignalIDs       []string          `json:"signal_ids"`
	Result          EvaluationResult  `json:"result"`
	Details         EvaluationDetails `json:"details"`
	InputHash       string            `json:"input_hash"`
	EvaluatedAt     time.Time         `json:"evaluated_at"`

	// CacheHit is set in memory when the input hash matched an existing
	// row. Observability only; never persisted.
	CacheHit bool `json:"-"`
}

// EvaluationDetails records which predicates fired and which could not be
// decided, plus the resulting severity.
type EvaluationDetails struct {
	Severity      Severity          `json:"severity,omitempty"`
	Fired         []PredicateOutcome `json:"fired,omitempty"`
	Indeterminate []string          `json:"indeterminate,omitempty"`
}

// PredicateOutcome captures one firing predicate with the observed value.
type PredicateOutcome struct {
	Predicate string   `json:"predicate"`
	SignalID  string   `json:"signal_id"`
	Observed  string   `json:"observed"`
	Threshold string   `json:"threshold"`
	Severity  Severity `json:"severity"`
}
