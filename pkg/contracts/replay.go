package contracts

import "time"

// SignalWindow selects signals for a replay run by observation time.
type SignalWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window (half-open [From, To)).
func (w SignalWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// ReplayRow is the outcome of replaying one signal through the evaluator
// and exception engine inside the replay namespace.
type ReplayRow struct {
	SignalID    string           `json:"signal_id"`
	Evaluation  *Evaluation      `json:"evaluation,omitempty"`
	Exception   *Exception       `json:"exception,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Result      EvaluationResult `json:"result,omitempty"`
	Severity    Severity         `json:"severity,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ReplayResult summarizes one replay run. Row-level errors accumulate
// without aborting the run; partial success is a first-class outcome.
type ReplayResult struct {
	ReplayID        string       `json:"replay_id"`
	Pack            string       `json:"pack"`
	PolicyVersionID string       `json:"policy_version_id"`
	Window          SignalWindow `json:"window"`
	Rows            []ReplayRow  `json:"rows"`
	Evaluations     int          `json:"evaluations"`
	Failures        int          `json:"failures"`
	Exceptions      int          `json:"exceptions"`
	Suppressed      int          `json:"suppressed"`
	RowErrors       int          `json:"row_errors"`
	StartedAt       time.Time    `json:"started_at"`
}

// ExceptionKey is the (breach key, severity) pair used for replay
// equivalence checks. The breach key leaves the policy version out so
// runs over different versions can still be correlated.
type ExceptionKey struct {
	BreachKey string   `json:"breach_key"`
	Severity  Severity `json:"severity"`
}

// EvaluationDiff records a per-evaluation mismatch between two runs,
// keyed by the replayed signal. Input hashes embed the policy version
// and never match across versions, so the signal id is the join key.
type EvaluationDiff struct {
	SignalID   string           `json:"signal_id"`
	Baseline   EvaluationResult `json:"baseline"`
	Comparison EvaluationResult `json:"comparison"`
}

// ComparisonResult diffs two replay runs. Used to validate a draft policy
// version against the behavior of the active one before publishing.
type ComparisonResult struct {
	BaselineID           string           `json:"baseline_id"`
	ComparisonID         string           `json:"comparison_id"`
	BaselineExceptions   int              `json:"baseline_exceptions"`
	ComparisonExceptions int              `json:"comparison_exceptions"`
	OnlyInBaseline       []ExceptionKey   `json:"only_in_baseline,omitempty"`
	OnlyInComparison     []ExceptionKey   `json:"only_in_comparison,omitempty"`
	Matched              int              `json:"matched"`
	EvaluationDiffs      []EvaluationDiff `json:"evaluation_diffs,omitempty"`
	Equivalent           bool             `json:"equivalent"`
}
