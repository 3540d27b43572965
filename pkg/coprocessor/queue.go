package coprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Queue is the approval queue for coprocessor policy proposals. Approval
// materializes a proposal as a draft policy version; activation stays a
// separate human step behind the usual lifecycle checks.
type Queue struct {
	store *store.Store
	audit *audit.Recorder
}

// NewQueue creates an approval queue.
func NewQueue(st *store.Store, rec *audit.Recorder) *Queue {
	return &Queue{store: st, audit: rec}
}

// Enqueue submits a policy version proposal for human review.
func (q *Queue) Enqueue(ctx context.Context, policyID string, proposal contracts.PolicyVersionProposal,
	submittedBy string, submittedAt time.Time) (*contracts.PolicyCandidate, error) {
	if submittedBy == "" {
		return nil, fmt.Errorf("%w: submitted_by is required", contracts.ErrValidation)
	}
	if len(proposal.Rules.Predicates) == 0 {
		return nil, fmt.Errorf("%w: proposal has no predicates", contracts.ErrValidation)
	}
	policy, err := q.store.Policy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	c := &contracts.PolicyCandidate{
		ID:          uuid.New().String(),
		Pack:        policy.Pack,
		PolicyID:    policyID,
		Proposal:    proposal,
		SubmittedBy: submittedBy,
		SubmittedAt: submittedAt,
		Status:      contracts.CandidatePending,
	}
	if err := q.store.EnqueueCandidate(ctx, c); err != nil {
		return nil, err
	}
	if _, err := q.audit.Record(ctx, contracts.AuditCandidateEnqueued, "policy_candidate", c.ID,
		submittedBy, submittedAt, map[string]any{
			"policy_id": policyID,
			"pack":      policy.Pack,
			"note":      proposal.Note,
		}); err != nil {
		return nil, err
	}
	return c, nil
}

// Pending lists candidates awaiting review, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]*contracts.PolicyCandidate, error) {
	return q.store.PendingCandidates(ctx)
}

// Approve accepts a pending candidate and creates the draft policy
// version carrying its proposal. The reviewer must differ from the
// submitter.
func (q *Queue) Approve(ctx context.Context, candidateID, reviewedBy string, reviewedAt time.Time) (*contracts.PolicyVersion, error) {
	c, err := q.store.Candidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if reviewedBy == "" || reviewedBy == c.SubmittedBy {
		return nil, fmt.Errorf("%w: candidate review requires a reviewer distinct from the submitter",
			contracts.ErrValidation)
	}
	if err := q.store.ReviewCandidate(ctx, candidateID, contracts.CandidateApproved,
		reviewedBy, reviewedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}

	number, err := q.store.NextVersionNumber(ctx, c.PolicyID)
	if err != nil {
		return nil, err
	}
	version := &contracts.PolicyVersion{
		ID:                 uuid.New().String(),
		PolicyID:           c.PolicyID,
		VersionNumber:      number,
		Status:             contracts.VersionDraft,
		Rules:              c.Proposal.Rules,
		AllowedActionTypes: c.Proposal.AllowedActionTypes,
		ValidFrom:          reviewedAt,
	}
	if err := q.store.CreatePolicyVersion(ctx, version); err != nil {
		return nil, err
	}

	if _, err := q.audit.Record(ctx, contracts.AuditCandidateApproved, "policy_candidate", c.ID,
		reviewedBy, reviewedAt, map[string]any{
			"policy_id":         c.PolicyID,
			"policy_version_id": version.ID,
		}); err != nil {
		return nil, err
	}
	if _, err := q.audit.Record(ctx, contracts.AuditPolicyVersionCreated, "policy_version", version.ID,
		reviewedBy, reviewedAt, map[string]any{
			"policy_id":      c.PolicyID,
			"version_number": number,
			"status":         version.Status,
			"candidate_id":   c.ID,
		}); err != nil {
		return nil, err
	}
	return version, nil
}

// Reject declines a pending candidate.
func (q *Queue) Reject(ctx context.Context, candidateID, reviewedBy string, reviewedAt time.Time) error {
	return q.store.ReviewCandidate(ctx, candidateID, contracts.CandidateRejected,
		reviewedBy, reviewedAt.UTC().Format(time.RFC3339Nano))
}
