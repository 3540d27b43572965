package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// EnqueueCandidate inserts a pending approval-queue entry.
func (s *Store) EnqueueCandidate(ctx context.Context, c *contracts.PolicyCandidate) error {
	proposal, err := json.Marshal(c.Proposal)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approval_queue (id, pack, policy_id, proposal, submitted_by, submitted_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
		c.ID, c.Pack, c.PolicyID, string(proposal), c.SubmittedBy, formatTime(c.SubmittedAt))
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// Candidate fetches an approval-queue entry by id.
func (s *Store) Candidate(ctx context.Context, id string) (*contracts.PolicyCandidate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pack, policy_id, proposal, submitted_by, submitted_at, status, reviewed_by, reviewed_at
		 FROM approval_queue WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: candidate %s", contracts.ErrNotFound, id)
	}
	return c, err
}

// PendingCandidates lists pending entries, oldest first.
func (s *Store) PendingCandidates(ctx context.Context) ([]*contracts.PolicyCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pack, policy_id, proposal, submitted_by, submitted_at, status, reviewed_by, reviewed_at
		 FROM approval_queue WHERE status = 'pending' ORDER BY submitted_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.PolicyCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReviewCandidate transitions a pending entry to approved or rejected.
// The conditional update serializes concurrent reviewers.
func (s *Store) ReviewCandidate(ctx context.Context, id string, status contracts.CandidateStatus, reviewedBy, reviewedAt string) error {
	if status != contracts.CandidateApproved && status != contracts.CandidateRejected {
		return fmt.Errorf("%w: review status must be approved or rejected", contracts.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_queue SET status = ?, reviewed_by = ?, reviewed_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), reviewedBy, reviewedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		c, err := s.Candidate(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: candidate %s already %s", contracts.ErrState, id, c.Status)
	}
	return nil
}

func scanCandidate(row rowScanner) (*contracts.PolicyCandidate, error) {
	var (
		c           contracts.PolicyCandidate
		proposal    string
		submittedAt string
		status      string
		reviewedAt  sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Pack, &c.PolicyID, &proposal, &c.SubmittedBy, &submittedAt,
		&status, &c.ReviewedBy, &reviewedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(proposal), &c.Proposal); err != nil {
		return nil, fmt.Errorf("unmarshal proposal: %w", err)
	}
	c.SubmittedAt = parseTime(submittedAt)
	c.Status = contracts.CandidateStatus(status)
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		c.ReviewedAt = &t
	}
	return &c, nil
}
