package contracts

import (
	"encoding/json"
	"time"
)

// Reliability grades the provenance of a signal source.
type Reliability string

const (
	ReliabilityLow      Reliability = "low"
	ReliabilityMedium   Reliability = "medium"
	ReliabilityHigh     Reliability = "high"
	ReliabilityVerified Reliability = "verified"
)

// Valid reports whether r is a known reliability grade.
func (r Reliability) Valid() bool {
	switch r {
	case ReliabilityLow, ReliabilityMedium, ReliabilityHigh, ReliabilityVerified:
		return true
	}
	return false
}

// Signal is an append-only, timestamped fact with provenance. Immutable
// once ingested; evaluation consumes it exactly as stored.
type Signal struct {
	ID          string          `json:"id"`
	Pack        string          `json:"pack"`
	SignalType  string          `json:"signal_type"`
	Payload     json.RawMessage `json:"payload"`
	Source      string          `json:"source"`
	Reliability Reliability     `json:"reliability"`
	ObservedAt  time.Time       `json:"observed_at"`
	IngestedAt  time.Time       `json:"ingested_at"`

	// CapabilitySnapshot is a frozen record of external system state
	// captured at ingestion. Option instantiation filters feasibility
	// against it; nothing in the kernel ever fetches live state.
	CapabilitySnapshot *CapabilitySnapshot `json:"capability_snapshot,omitempty"`
}

// CapabilitySnapshot freezes which resolution actions the external system
// could perform at capture time.
type CapabilitySnapshot struct {
	CapturedAt      time.Time       `json:"captured_at"`
	FeasibleActions []string        `json:"feasible_actions"`
	State           json.RawMessage `json:"state,omitempty"`
}

// Feasible reports whether actionType was feasible at capture time.
func (c *CapabilitySnapshot) Feasible(actionType string) bool {
	for _, a := range c.FeasibleActions {
		if a == actionType {
			return true
		}
	}
	return false
}
