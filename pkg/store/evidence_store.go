package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// InsertOrFetchEvidencePack persists a pack, racing on the one-pack-per-
// decision constraint. A concurrent second caller degrades to a fetch of
// the winner's pack.
func (s *Store) InsertOrFetchEvidencePack(ctx context.Context, p *contracts.EvidencePack) (*contracts.EvidencePack, bool, error) {
	evidence, err := json.Marshal(p.Evidence)
	if err != nil {
		return nil, false, fmt.Errorf("marshal evidence: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence_packs (id, decision_id, evidence, content_hash, generated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (decision_id) DO NOTHING`,
		p.ID, p.DecisionID, string(evidence), p.ContentHash, formatTime(p.GeneratedAt))
	if err != nil {
		return nil, false, fmt.Errorf("insert evidence pack: %w", mapWriteErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.EvidencePackForDecision(ctx, p.DecisionID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: lost generate race and refetch failed: %v",
				contracts.ErrConcurrencyConflict, err)
		}
		return existing, true, nil
	}
	return p, false, nil
}

// EvidencePackForDecision fetches the pack generated for a decision.
// Callers look evidence up this way; decisions never store a pack id.
func (s *Store) EvidencePackForDecision(ctx context.Context, decisionID string) (*contracts.EvidencePack, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, decision_id, evidence, content_hash, generated_at
		 FROM evidence_packs WHERE decision_id = ?`, decisionID)
	p, err := scanEvidencePack(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: evidence pack for decision %s", contracts.ErrNotFound, decisionID)
	}
	return p, err
}

func scanEvidencePack(row rowScanner) (*contracts.EvidencePack, error) {
	var (
		p           contracts.EvidencePack
		evidence    string
		generatedAt string
	)
	if err := row.Scan(&p.ID, &p.DecisionID, &evidence, &p.ContentHash, &generatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(evidence), &p.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	p.GeneratedAt = parseTime(generatedAt)
	return &p, nil
}
