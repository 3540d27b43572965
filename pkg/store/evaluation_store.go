package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// InsertOrFetchEvaluation persists an evaluation, racing on the input_hash
// uniqueness constraint. When another row already carries the hash the
// existing row is returned with cacheHit set; nothing is written. This is
// insert-or-fetch, never check-then-insert.
func (s *Store) InsertOrFetchEvaluation(ctx context.Context, ev *contracts.Evaluation) (*contracts.Evaluation, bool, error) {
	signalIDs, err := json.Marshal(ev.SignalIDs)
	if err != nil {
		return nil, false, fmt.Errorf("marshal signal ids: %w", err)
	}
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return nil, false, fmt.Errorf("marshal details: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, policy_version_id, signal_ids, result, details, input_hash, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (input_hash) DO NOTHING`,
		ev.ID, ev.PolicyVersionID, string(signalIDs), string(ev.Result), string(details),
		ev.InputHash, formatTime(ev.EvaluatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("insert evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.EvaluationByInputHash(ctx, ev.InputHash)
		if err != nil {
			return nil, false, fmt.Errorf("%w: lost insert race and refetch failed: %v",
				contracts.ErrConcurrencyConflict, err)
		}
		existing.CacheHit = true
		return existing, true, nil
	}
	return ev, false, nil
}

// Evaluation fetches an evaluation by id.
func (s *Store) Evaluation(ctx context.Context, id string) (*contracts.Evaluation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, policy_version_id, signal_ids, result, details, input_hash, evaluated_at
		 FROM evaluations WHERE id = ?`, id)
	ev, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: evaluation %s", contracts.ErrNotFound, id)
	}
	return ev, err
}

// EvaluationByInputHash fetches the evaluation carrying the given hash.
func (s *Store) EvaluationByInputHash(ctx context.Context, inputHash string) (*contracts.Evaluation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, policy_version_id, signal_ids, result, details, input_hash, evaluated_at
		 FROM evaluations WHERE input_hash = ?`, inputHash)
	ev, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: evaluation with input hash %s", contracts.ErrNotFound, inputHash)
	}
	return ev, err
}

func scanEvaluation(row rowScanner) (*contracts.Evaluation, error) {
	var (
		ev          contracts.Evaluation
		signalIDs   string
		result      string
		details     string
		evaluatedAt string
	)
	if err := row.Scan(&ev.ID, &ev.PolicyVersionID, &signalIDs, &result, &details, &ev.InputHash, &evaluatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(signalIDs), &ev.SignalIDs); err != nil {
		return nil, fmt.Errorf("unmarshal signal ids: %w", err)
	}
	if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	ev.Result = contracts.EvaluationResult(result)
	ev.EvaluatedAt = parseTime(evaluatedAt)
	return &ev, nil
}
