package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// InsertSignal ingests a signal row. Signals are immutable after this.
func (s *Store) InsertSignal(ctx context.Context, sig *contracts.Signal) error {
	if !sig.Reliability.Valid() {
		return fmt.Errorf("%w: unknown reliability %q", contracts.ErrValidation, sig.Reliability)
	}
	var snapshot any
	if sig.CapabilitySnapshot != nil {
		data, err := json.Marshal(sig.CapabilitySnapshot)
		if err != nil {
			return fmt.Errorf("marshal capability snapshot: %w", err)
		}
		snapshot = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (id, pack, signal_type, payload, source, reliability, observed_at, ingested_at, capability_snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Pack, sig.SignalType, string(sig.Payload), sig.Source, string(sig.Reliability),
		formatTime(sig.ObservedAt), formatTime(sig.IngestedAt), snapshot)
	if err != nil {
		return fmt.Errorf("insert signal: %w", mapWriteErr(err))
	}
	return nil
}

// Signal fetches a signal by id.
func (s *Store) Signal(ctx context.Context, id string) (*contracts.Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pack, signal_type, payload, source, reliability, observed_at, ingested_at, capability_snapshot
		 FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: signal %s", contracts.ErrNotFound, id)
	}
	return sig, err
}

// Signals fetches the given ids, failing if any is unknown.
func (s *Store) Signals(ctx context.Context, ids []string) ([]contracts.Signal, error) {
	out := make([]contracts.Signal, 0, len(ids))
	for _, id := range ids {
		sig, err := s.Signal(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, nil
}

// SignalsInWindow returns a pack's signals observed inside [from, to),
// ordered by (observed_at, id) for stable replay iteration.
func (s *Store) SignalsInWindow(ctx context.Context, pack string, window contracts.SignalWindow) ([]contracts.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pack, signal_type, payload, source, reliability, observed_at, ingested_at, capability_snapshot
		 FROM signals
		 WHERE pack = ? AND observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at, id`,
		pack, formatTime(window.From), formatTime(window.To))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

func scanSignal(row rowScanner) (*contracts.Signal, error) {
	var (
		sig         contracts.Signal
		payload     string
		reliability string
		observedAt  string
		ingestedAt  string
		snapshot    sql.NullString
	)
	if err := row.Scan(&sig.ID, &sig.Pack, &sig.SignalType, &payload, &sig.Source, &reliability,
		&observedAt, &ingestedAt, &snapshot); err != nil {
		return nil, err
	}
	sig.Payload = json.RawMessage(payload)
	sig.Reliability = contracts.Reliability(reliability)
	sig.ObservedAt = parseTime(observedAt)
	sig.IngestedAt = parseTime(ingestedAt)
	if snapshot.Valid && snapshot.String != "" {
		var snap contracts.CapabilitySnapshot
		if err := json.Unmarshal([]byte(snapshot.String), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal capability snapshot: %w", err)
		}
		sig.CapabilitySnapshot = &snap
	}
	return &sig, nil
}
