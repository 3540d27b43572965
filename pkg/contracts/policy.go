package contracts

import (
	"encoding/json"
	"time"
)

// Policy is a named rule family inside a pack (domain namespace).
// Versions carry the actual rule content; the policy row itself is stable.
type Policy struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Pack        string `json:"pack"`
	Description string `json:"description,omitempty"`
}

// VersionStatus is the lifecycle state of a policy version. The string
// values are the canonical storage encoding; nothing else ever hits a row.
type VersionStatus string

const (
	VersionDraft    VersionStatus = "draft"
	VersionActive   VersionStatus = "active"
	VersionArchived VersionStatus = "archived"
)

// Valid reports whether s is a known version status.
func (s VersionStatus) Valid() bool {
	switch s {
	case VersionDraft, VersionActive, VersionArchived:
		return true
	}
	return false
}

// PolicyVersion is one temporally-scoped revision of a policy. At most one
// active version per policy covers any instant; once a version leaves
// draft, its rule definition is immutable.
type PolicyVersion struct {
	ID                 string         `json:"id"`
	PolicyID           string         `json:"policy_id"`
	VersionNumber      int            `json:"version_number"`
	Status             VersionStatus  `json:"status"`
	Rules              RuleDefinition `json:"rule_definition"`
	AllowedActionTypes []string       `json:"allowed_action_types"`
	ValidFrom          time.Time      `json:"valid_from"`
	ValidTo            *time.Time     `json:"valid_to,omitempty"`
}

// ActiveAt reports whether the version is active and its validity window
// covers t. The caller supplies t; the kernel never reads a clock here.
func (v *PolicyVersion) ActiveAt(t time.Time) bool {
	if v.Status != VersionActive {
		return false
	}
	if t.Before(v.ValidFrom) {
		return false
	}
	if v.ValidTo != nil && !t.Before(*v.ValidTo) {
		return false
	}
	return true
}

// CompareOp is a predicate comparison operator.
type CompareOp string

const (
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
	OpEQ  CompareOp = "=="
	OpNEQ CompareOp = "!="
)

// Valid reports whether op is a known comparison operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ:
		return true
	}
	return false
}

// Severity tags a predicate and, transitively, an exception. The total
// order is low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of s in the severity total order. Unknown
// severities rank below low so they can never win a max.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// MaxSeverity returns the higher of a and b under the fixed total order.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RuleDefinition is the rule content of a policy version: named threshold
// and comparison predicates plus the dimension fields that feed exception
// fingerprinting.
type RuleDefinition struct {
	Predicates []Predicate `json:"predicates"`

	// DimensionFields name the payload fields whose canonicalized values
	// key exception fingerprints. Coarser than the evaluation input hash:
	// repeated breaches of one underlying condition share a fingerprint.
	DimensionFields []string `json:"dimension_fields,omitempty"`
}

// Predicate is a single breach condition. Exactly one of Threshold or
// ThresholdField is set for comparison predicates; Expr optionally carries
// a CEL guard evaluated against the signal payload.
type Predicate struct {
	Name       string `json:"name"`
	SignalType string `json:"signal_type,omitempty"`

	Field          string      `json:"field"`
	Op             CompareOp   `json:"op"`
	Threshold      json.Number `json:"threshold,omitempty"`
	ThresholdField string      `json:"threshold_field,omitempty"`

	// Expr is an optional CEL expression over {"signal": payload}. When
	// present it gates the breach: the predicate fires only if both the
	// comparison holds and the expression evaluates to true.
	Expr string `json:"expr,omitempty"`

	Severity Severity `json:"severity"`
}
