package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// RecordDecision atomically resolves an open exception and persists the
// decision. The conditional update on status is the open→resolved
// linearization point: a losing concurrent caller gets
// ExceptionNotOpenError and nothing is partially applied.
func (s *Store) RecordDecision(ctx context.Context, d *contracts.Decision) error {
	assumptions, err := json.Marshal(d.Assumptions)
	if err != nil {
		return fmt.Errorf("marshal assumptions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE exceptions SET status = 'resolved', resolved_at = ? WHERE id = ? AND status = 'open'`,
		formatTime(d.DecidedAt), d.ExceptionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM exceptions WHERE id = ?`, d.ExceptionID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: exception %s", contracts.ErrNotFound, d.ExceptionID)
		}
		if err != nil {
			return err
		}
		return &contracts.ExceptionNotOpenError{
			ExceptionID: d.ExceptionID,
			Status:      contracts.ExceptionStatus(status),
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decisions (id, exception_id, chosen_option_id, rationale, assumptions, decided_by, approved_by, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ExceptionID, d.ChosenOptionID, d.Rationale, string(assumptions),
		d.DecidedBy, d.ApprovedBy, formatTime(d.DecidedAt)); err != nil {
		return fmt.Errorf("insert decision: %w", mapWriteErr(err))
	}
	return tx.Commit()
}

// Decision fetches a decision by id.
func (s *Store) Decision(ctx context.Context, id string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, exception_id, chosen_option_id, rationale, assumptions, decided_by, approved_by, decided_at
		 FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: decision %s", contracts.ErrNotFound, id)
	}
	return d, err
}

// DecisionForException fetches the decision that resolved an exception.
func (s *Store) DecisionForException(ctx context.Context, exceptionID string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, exception_id, chosen_option_id, rationale, assumptions, decided_by, approved_by, decided_at
		 FROM decisions WHERE exception_id = ?`, exceptionID)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: decision for exception %s", contracts.ErrNotFound, exceptionID)
	}
	return d, err
}

func scanDecision(row rowScanner) (*contracts.Decision, error) {
	var (
		d           contracts.Decision
		assumptions string
		decidedAt   string
	)
	if err := row.Scan(&d.ID, &d.ExceptionID, &d.ChosenOptionID, &d.Rationale, &assumptions,
		&d.DecidedBy, &d.ApprovedBy, &decidedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(assumptions), &d.Assumptions); err != nil {
		return nil, fmt.Errorf("unmarshal assumptions: %w", err)
	}
	d.DecidedAt = parseTime(decidedAt)
	return &d, nil
}
