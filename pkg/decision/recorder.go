// Package decision records immutable human decisions against open
// exceptions. Validation happens before any write; the open→resolved
// transition and the decision insert commit atomically.
package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/observability"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Recorder validates and persists decisions.
type Recorder struct {
	store   *store.Store
	audit   *audit.Recorder
	metrics *observability.Metrics
}

// NewRecorder creates a decision recorder.
func NewRecorder(st *store.Store, rec *audit.Recorder, metrics *observability.Metrics) *Recorder {
	return &Recorder{store: st, audit: rec, metrics: metrics}
}

// Record resolves an open exception with the chosen option. The chosen
// option must be a member of the exception's own option list, the
// rationale must be non-blank, and a hard-override option requires an
// approver distinct from the deciding actor. Any failure leaves the
// exception untouched.
func (r *Recorder) Record(ctx context.Context, in contracts.DecisionInput) (*contracts.Decision, error) {
	if in.DecidedBy == "" {
		return nil, fmt.Errorf("%w: decided_by is required", contracts.ErrValidation)
	}
	if strings.TrimSpace(in.Rationale) == "" {
		return nil, &contracts.MissingRationaleError{}
	}
	if in.DecidedAt.IsZero() {
		return nil, fmt.Errorf("%w: decided_at is required", contracts.ErrValidation)
	}

	ex, err := r.store.Exception(ctx, in.ExceptionID)
	if err != nil {
		return nil, err
	}
	if ex.Status != contracts.ExceptionOpen {
		return nil, &contracts.ExceptionNotOpenError{ExceptionID: ex.ID, Status: ex.Status}
	}
	option := ex.Option(in.ChosenOptionID)
	if option == nil {
		return nil, &contracts.InvalidOptionError{ExceptionID: ex.ID, OptionID: in.ChosenOptionID}
	}
	if option.HardOverride {
		if in.ApprovedBy == "" || in.ApprovedBy == in.DecidedBy {
			return nil, &contracts.ApprovalRequiredError{ActionType: option.ActionType}
		}
	}

	d := &contracts.Decision{
		ID:             uuid.New().String(),
		ExceptionID:    in.ExceptionID,
		ChosenOptionID: in.ChosenOptionID,
		Rationale:      in.Rationale,
		Assumptions:    in.Assumptions,
		DecidedBy:      in.DecidedBy,
		ApprovedBy:     in.ApprovedBy,
		DecidedAt:      in.DecidedAt,
	}
	if err := r.store.RecordDecision(ctx, d); err != nil {
		return nil, err
	}

	r.metrics.DecisionRecorded(ctx)
	if _, err := r.audit.Record(ctx, contracts.AuditDecisionRecorded, "decision", d.ID,
		in.DecidedBy, in.DecidedAt, map[string]any{
			"exception_id":     d.ExceptionID,
			"chosen_option_id": d.ChosenOptionID,
			"action_type":      option.ActionType,
			"hard_override":    option.HardOverride,
		}); err != nil {
		return nil, err
	}
	return d, nil
}
