package contracts

import "time"

// ExceptionStatus is the lifecycle state of an exception.
type ExceptionStatus string

const (
	ExceptionOpen      ExceptionStatus = "open"
	ExceptionResolved  ExceptionStatus = "resolved"
	ExceptionDismissed ExceptionStatus = "dismissed"
)

// Valid reports whether s is a known exception status.
func (s ExceptionStatus) Valid() bool {
	switch s {
	case ExceptionOpen, ExceptionResolved, ExceptionDismissed:
		return true
	}
	return false
}

// Reversibility classifies how hard a resolution action is to undo.
type Reversibility string

const (
	Reversible      Reversibility = "reversible"
	CostlyToReverse Reversibility = "costly_to_reverse"
	Irreversible    Reversibility = "irreversible"
)

// Valid reports whether r is a known reversibility class.
func (r Reversibility) Valid() bool {
	switch r {
	case Reversible, CostlyToReverse, Irreversible:
		return true
	}
	return false
}

// Exception is a deduplicated interruption raised on a failing evaluation.
// Fingerprints are unique among open exceptions; the options list is
// ordered but deliberately unranked and always includes a no-action entry.
type Exception struct {
	ID           string             `json:"id"`
	EvaluationID string             `json:"evaluation_id"`
	Fingerprint  string             `json:"fingerprint"`
	Severity     Severity           `json:"severity"`
	Status       ExceptionStatus    `json:"status"`
	Title        string             `json:"title"`
	Context      string             `json:"context,omitempty"`
	Options      []ResolutionOption `json:"options"`
	RaisedAt     time.Time          `json:"raised_at"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
}

// Option returns the member option with the given id, or nil.
func (e *Exception) Option(optionID string) *ResolutionOption {
	for i := range e.Options {
		if e.Options[i].ID == optionID {
			return &e.Options[i]
		}
	}
	return nil
}

// ResolutionOption is one symmetric, risk-annotated way of resolving an
// exception. Instantiated purely from the pack's static template table;
// no field anywhere ranks or recommends.
type ResolutionOption struct {
	ID               string        `json:"id"`
	ActionType       string        `json:"action_type"`
	Label            string        `json:"label"`
	Description      string        `json:"description"`
	Reversibility    Reversibility `json:"reversibility"`
	RiskAnnotations  []string      `json:"risk_annotations,omitempty"`
	Implications     []string      `json:"implications,omitempty"`
	PolicyReferences []string      `json:"policy_references"`

	// HardOverride marks options whose selection additionally requires an
	// approver distinct from the deciding actor. It is a safety gate, not
	// a ranking.
	HardOverride bool `json:"hard_override,omitempty"`
}
