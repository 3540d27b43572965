// Package evidence assembles the immutable, content-hashed pack that
// answers "why did we do this" for a decision. The body is built in
// fixed field order from already-persisted rows; the hash covers the
// body only, never the pack id or generation time.
package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/canonicalize"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/observability"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// trailEventTypes is the closed set of ledger event types an evidence
// pack includes. Fixed so the slice, and therefore the hash, cannot
// drift as unrelated event kinds are added later.
var trailEventTypes = []string{
	contracts.AuditEvaluationCompleted,
	contracts.AuditExceptionRaised,
	contracts.AuditExceptionSuppressed,
	contracts.AuditDecisionRecorded,
}

// Generator builds evidence packs.
type Generator struct {
	store   *store.Store
	audit   *audit.Recorder
	metrics *observability.Metrics
}

// NewGenerator creates an evidence generator.
func NewGenerator(st *store.Store, rec *audit.Recorder, metrics *observability.Metrics) *Generator {
	return &Generator{store: st, audit: rec, metrics: metrics}
}

// Generate builds the evidence pack for a decision, or returns the
// existing one. The body is deterministic, so a losing concurrent caller
// fetches a pack whose content hash equals the one it just computed.
// Only a fresh generation emits an audit event.
func (g *Generator) Generate(ctx context.Context, decisionID string, generatedAt time.Time) (*contracts.EvidencePack, error) {
	body, err := g.assemble(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	hash, err := canonicalize.CanonicalHash(body)
	if err != nil {
		return nil, err
	}

	pack := &contracts.EvidencePack{
		ID:          uuid.New().String(),
		DecisionID:  decisionID,
		Evidence:    *body,
		ContentHash: hash,
		GeneratedAt: generatedAt,
	}
	persisted, fetched, err := g.store.InsertOrFetchEvidencePack(ctx, pack)
	if err != nil {
		return nil, err
	}
	if fetched {
		return persisted, nil
	}

	g.metrics.EvidenceGenerated(ctx)
	if _, err := g.audit.Record(ctx, contracts.AuditEvidenceGenerated, "evidence_pack", persisted.ID,
		"kernel", generatedAt, map[string]any{
			"decision_id":  decisionID,
			"content_hash": persisted.ContentHash,
		}); err != nil {
		return nil, err
	}
	return persisted, nil
}

// PackForDecision fetches the already-generated pack for a decision.
func (g *Generator) PackForDecision(ctx context.Context, decisionID string) (*contracts.EvidencePack, error) {
	return g.store.EvidencePackForDecision(ctx, decisionID)
}

// Verify recomputes the content hash over the stored body and compares
// it to the recorded one. A mismatch is an integrity failure.
func Verify(pack *contracts.EvidencePack) error {
	hash, err := canonicalize.CanonicalHash(pack.Evidence)
	if err != nil {
		return err
	}
	if hash != pack.ContentHash {
		return &contracts.ContentHashMismatchError{
			PackID:   pack.ID,
			Recorded: pack.ContentHash,
			Computed: hash,
		}
	}
	return nil
}

// assemble walks the decision's lineage and collects the pack body. The
// audit trail is the deterministic ledger slice: the pack's entities,
// the fixed event-type set, cut off at the decision instant.
func (g *Generator) assemble(ctx context.Context, decisionID string) (*contracts.EvidenceBody, error) {
	d, err := g.store.Decision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	ex, err := g.store.Exception(ctx, d.ExceptionID)
	if err != nil {
		return nil, err
	}
	ev, err := g.store.Evaluation(ctx, ex.EvaluationID)
	if err != nil {
		return nil, err
	}
	signals, err := g.store.Signals(ctx, ev.SignalIDs)
	if err != nil {
		return nil, err
	}
	version, err := g.store.PolicyVersion(ctx, ev.PolicyVersionID)
	if err != nil {
		return nil, err
	}
	trail, err := g.store.AuditEventsForEntities(ctx,
		[]string{ev.ID, ex.ID, d.ID}, trailEventTypes, d.DecidedAt)
	if err != nil {
		return nil, err
	}

	return &contracts.EvidenceBody{
		Decision:      *d,
		Exception:     *ex,
		Evaluation:    *ev,
		Signals:       signals,
		PolicyVersion: *version,
		AuditTrail:    trail,
	}, nil
}
