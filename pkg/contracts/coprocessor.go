package contracts

import "time"

// CandidateStatus is the lifecycle state of an approval-queue entry.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
)

// PolicyVersionProposal is the payload a coprocessor may enqueue: a
// candidate rule set for a policy. Approval materializes it as a draft
// version only; the coprocessor never reaches the kernel's write path.
type PolicyVersionProposal struct {
	Rules              RuleDefinition `json:"rules"`
	AllowedActionTypes []string       `json:"allowed_action_types"`
	Note               string         `json:"note,omitempty"`
}

// PolicyCandidate is one approval-queue entry.
type PolicyCandidate struct {
	ID          string                `json:"id"`
	Pack        string                `json:"pack"`
	PolicyID    string                `json:"policy_id"`
	Proposal    PolicyVersionProposal `json:"proposal"`
	SubmittedBy string                `json:"submitted_by"`
	SubmittedAt time.Time             `json:"submitted_at"`
	Status      CandidateStatus       `json:"status"`
	ReviewedBy  string                `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time            `json:"reviewed_at,omitempty"`
}
