package contracts

import "time"

// EvidenceBody is the self-contained, deterministic content of an evidence
// pack, assembled in fixed field order. The content hash is computed over
// the canonical JSON of this body only; pack id and generation time are
// volatile and excluded.
type EvidenceBody struct {
	Decision      Decision      `json:"decision"`
	Exception     Exception     `json:"exception"`
	Evaluation    Evaluation    `json:"evaluation"`
	Signals       []Signal      `json:"signals"`
	PolicyVersion PolicyVersion `json:"policy_version"`
	AuditTrail    []AuditEvent  `json:"audit_trail"`
}

// EvidencePack is the persisted, immutable bundle answering "why did we do
// this" for one decision. Regeneration for the same decision returns the
// existing pack with an identical content hash.
type EvidencePack struct {
	ID          string       `json:"id"`
	DecisionID  string       `json:"decision_id"`
	Evidence    EvidenceBody `json:"evidence"`
	ContentHash string       `json:"content_hash"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// ExportFormat selects a presentational rendering of an evidence pack.
// Exports never alter the content hash or re-derive facts.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportHTML ExportFormat = "html"
)

// Valid reports whether f is a supported export format.
func (f ExportFormat) Valid() bool {
	return f == ExportJSON || f == ExportHTML
}
