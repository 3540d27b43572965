package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the kernel. Callers classify failures with errors.Is
// against these sentinels; the typed errors below unwrap to them.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrState               = errors.New("invalid lifecycle state")
	ErrContractViolation   = errors.New("contract violation")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrIntegrity           = errors.New("integrity error")
)

// PolicyNotActiveError is returned when an evaluation names a policy version
// that is not active at the supplied reference time.
type PolicyNotActiveError struct {
	PolicyVersionID string
	Status          VersionStatus
	ReferenceTime   time.Time
}

func (e *PolicyNotActiveError) Error() string {
	return fmt.Sprintf("policy version %s (status=%s) is not active at %s",
		e.PolicyVersionID, e.Status, e.ReferenceTime.UTC().Format(time.RFC3339))
}

func (e *PolicyNotActiveError) Unwrap() error { return ErrState }

// ExceptionNotOpenError is returned when a decision targets an exception
// that is not (or no longer) open. A caller that loses the open→resolved
// race receives this, never a partial write.
type ExceptionNotOpenError struct {
	ExceptionID string
	Status      ExceptionStatus
}

func (e *ExceptionNotOpenError) Error() string {
	return fmt.Sprintf("exception %s is not open (status=%s)", e.ExceptionID, e.Status)
}

func (e *ExceptionNotOpenError) Unwrap() error { return ErrState }

// InvalidOptionError is returned when a decision names an option that is not
// a member of the exception's option list.
type InvalidOptionError struct {
	ExceptionID string
	OptionID    string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("option %s is not a member of exception %s", e.OptionID, e.ExceptionID)
}

func (e *InvalidOptionError) Unwrap() error { return ErrValidation }

// MissingRationaleError is returned when a decision carries an empty
// rationale after trimming.
type MissingRationaleError struct{}

func (e *MissingRationaleError) Error() string { return "decision rationale must be non-empty" }

func (e *MissingRationaleError) Unwrap() error { return ErrValidation }

// ApprovalRequiredError is returned when a hard-override option is chosen
// without an approver distinct from the deciding actor.
type ApprovalRequiredError struct {
	ActionType string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("action %s requires an approver distinct from the decider", e.ActionType)
}

func (e *ApprovalRequiredError) Unwrap() error { return ErrValidation }

// ContentHashMismatchError is returned when an evidence pack's stored
// body no longer hashes to its recorded content hash.
type ContentHashMismatchError struct {
	PackID   string
	Recorded string
	Computed string
}

func (e *ContentHashMismatchError) Error() string {
	return fmt.Sprintf("evidence pack %s content hash mismatch: recorded %s, computed %s",
		e.PackID, e.Recorded, e.Computed)
}

func (e *ContentHashMismatchError) Unwrap() error { return ErrIntegrity }

// ContractViolationError signals that option instantiation produced an
// option set violating a pipeline invariant. It is always fatal and nothing
// is persisted; at an operational boundary it is an alarm, not user input.
type ContractViolationError struct {
	Invariant string
	Detail    string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("option pipeline invariant %q violated: %s", e.Invariant, e.Detail)
}

func (e *ContractViolationError) Unwrap() error { return ErrContractViolation }
