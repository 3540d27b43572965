package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// CreateReplayRun registers a replay namespace before any rows land in it.
func (s *Store) CreateReplayRun(ctx context.Context, r *contracts.ReplayResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_runs (id, pack, policy_version_id, window_from, window_to, started_at, result)
		 VALUES (?, ?, ?, ?, ?, ?, '{}')`,
		r.ReplayID, r.Pack, r.PolicyVersionID,
		formatTime(r.Window.From), formatTime(r.Window.To), formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("insert replay run: %w", err)
	}
	return nil
}

// FinishReplayRun stores the final result summary for a run.
func (s *Store) FinishReplayRun(ctx context.Context, r *contracts.ReplayResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal replay result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE replay_runs SET result = ? WHERE id = ?`, string(data), r.ReplayID)
	return err
}

// ReplayRun fetches a run's stored result.
func (s *Store) ReplayRun(ctx context.Context, replayID string) (*contracts.ReplayResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM replay_runs WHERE id = ?`, replayID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: replay run %s", contracts.ErrNotFound, replayID)
	}
	if err != nil {
		return nil, err
	}
	var r contracts.ReplayResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("unmarshal replay result: %w", err)
	}
	return &r, nil
}

// InsertReplayEvaluation records an evaluation inside the replay namespace.
// Idempotent per (replay_id, input_hash), mirroring the live constraint.
func (s *Store) InsertReplayEvaluation(ctx context.Context, replayID, signalID string, ev *contracts.Evaluation) (bool, error) {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return false, fmt.Errorf("marshal details: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_evaluations (replay_id, id, signal_id, input_hash, result, severity, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (replay_id, input_hash) DO NOTHING`,
		replayID, ev.ID, signalID, ev.InputHash, string(ev.Result), string(ev.Details.Severity), string(details))
	if err != nil {
		return false, fmt.Errorf("insert replay evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertReplayException records an exception inside the replay namespace.
// Returns false when the fingerprint was already present, mirroring live
// open-scope dedup. The breach key is stored alongside the fingerprint
// for cross-version comparison.
func (s *Store) InsertReplayException(ctx context.Context, replayID, breachKey string, ex *contracts.Exception) (bool, error) {
	options, err := json.Marshal(ex.Options)
	if err != nil {
		return false, fmt.Errorf("marshal options: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_exceptions (replay_id, id, fingerprint, breach_key, severity, options)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (replay_id, fingerprint) DO NOTHING`,
		replayID, ex.ID, ex.Fingerprint, breachKey, string(ex.Severity), string(options))
	if err != nil {
		return false, fmt.Errorf("insert replay exception: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReplayExceptionKeys returns a run's (breach key, severity) set in
// deterministic order.
func (s *Store) ReplayExceptionKeys(ctx context.Context, replayID string) ([]contracts.ExceptionKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT breach_key, severity FROM replay_exceptions WHERE replay_id = ? ORDER BY breach_key`,
		replayID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ExceptionKey
	for rows.Next() {
		var k contracts.ExceptionKey
		var severity string
		if err := rows.Scan(&k.BreachKey, &severity); err != nil {
			return nil, err
		}
		k.Severity = contracts.Severity(severity)
		out = append(out, k)
	}
	return out, rows.Err()
}

// ReplayEvaluationResults returns signal_id → result for a run.
func (s *Store) ReplayEvaluationResults(ctx context.Context, replayID string) (map[string]contracts.EvaluationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signal_id, result FROM replay_evaluations WHERE replay_id = ?`, replayID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]contracts.EvaluationResult)
	for rows.Next() {
		var signalID, result string
		if err := rows.Scan(&signalID, &result); err != nil {
			return nil, err
		}
		out[signalID] = contracts.EvaluationResult(result)
	}
	return out, rows.Err()
}
