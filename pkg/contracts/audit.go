package contracts

import (
	"encoding/json"
	"time"
)

// Audit event types emitted by the kernel. The set is closed; evidence
// packs slice the ledger by these names.
const (
	AuditEvaluationCompleted  = "evaluation.completed"
	AuditExceptionRaised      = "exception.raised"
	AuditExceptionSuppressed  = "exception.duplicate_suppressed"
	AuditDecisionRecorded     = "decision.recorded"
	AuditEvidenceGenerated    = "evidence.generated"
	AuditReplayStarted        = "replay.started"
	AuditReplayCompleted      = "replay.completed"
	AuditCandidateEnqueued    = "coprocessor.candidate_enqueued"
	AuditCandidateApproved    = "coprocessor.candidate_approved"
	AuditPolicyVersionCreated = "policy_version.created"
)

// AuditEvent is one append-only ledger entry. Entries are never updated or
// deleted.
type AuditEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
