package contracts

import "time"

// Decision is an immutable human commitment resolving an open exception.
// No update operation exists anywhere in the kernel.
type Decision struct {
	ID             string    `json:"id"`
	ExceptionID    string    `json:"exception_id"`
	ChosenOptionID string    `json:"chosen_option_id"`
	Rationale      string    `json:"rationale"`
	Assumptions    []string  `json:"assumptions,omitempty"`
	DecidedBy      string    `json:"decided_by"`
	ApprovedBy     string    `json:"approved_by,omitempty"`
	DecidedAt      time.Time `json:"decided_at"`
}

// DecisionInput carries everything the recorder needs. DecidedAt is an
// explicit parameter; the recorder never reads a clock.
type DecisionInput struct {
	ExceptionID    string
	ChosenOptionID string
	Rationale      string
	Assumptions    []string
	DecidedBy      string
	ApprovedBy     string
	DecidedAt      time.Time
}
