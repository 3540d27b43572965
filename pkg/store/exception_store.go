package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// InsertOrFetchOpenException persists a freshly raised exception, racing on
// the partial uniqueness index over open fingerprints. When an open
// exception already carries the fingerprint, that exception is returned
// with suppressed=true and nothing is written. Two concurrent raises over
// the same breach therefore yield exactly one winner.
func (s *Store) InsertOrFetchOpenException(ctx context.Context, ex *contracts.Exception) (*contracts.Exception, bool, error) {
	options, err := json.Marshal(ex.Options)
	if err != nil {
		return nil, false, fmt.Errorf("marshal options: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exceptions (id, evaluation_id, fingerprint, severity, status, title, context, options, raised_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) WHERE status = 'open' DO NOTHING`,
		ex.ID, ex.EvaluationID, ex.Fingerprint, string(ex.Severity), string(ex.Status),
		ex.Title, ex.Context, string(options), formatTime(ex.RaisedAt))
	if err != nil {
		return nil, false, fmt.Errorf("insert exception: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.OpenExceptionByFingerprint(ctx, ex.Fingerprint)
		if err != nil {
			return nil, false, fmt.Errorf("%w: lost raise race and refetch failed: %v",
				contracts.ErrConcurrencyConflict, err)
		}
		return existing, true, nil
	}
	return ex, false, nil
}

// Exception fetches an exception by id.
func (s *Store) Exception(ctx context.Context, id string) (*contracts.Exception, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, evaluation_id, fingerprint, severity, status, title, context, options, raised_at, resolved_at
		 FROM exceptions WHERE id = ?`, id)
	ex, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: exception %s", contracts.ErrNotFound, id)
	}
	return ex, err
}

// OpenExceptionByFingerprint fetches the open exception carrying the given
// fingerprint.
func (s *Store) OpenExceptionByFingerprint(ctx context.Context, fingerprint string) (*contracts.Exception, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, evaluation_id, fingerprint, severity, status, title, context, options, raised_at, resolved_at
		 FROM exceptions WHERE fingerprint = ? AND status = 'open'`, fingerprint)
	ex, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: open exception with fingerprint %s", contracts.ErrNotFound, fingerprint)
	}
	return ex, err
}

// OpenExceptions lists open exceptions, oldest first.
func (s *Store) OpenExceptions(ctx context.Context) ([]*contracts.Exception, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluation_id, fingerprint, severity, status, title, context, options, raised_at, resolved_at
		 FROM exceptions WHERE status = 'open' ORDER BY raised_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Exception
	for rows.Next() {
		ex, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// DismissException transitions an open exception to dismissed. The
// conditional update is the linearization point: a non-open target fails
// with ExceptionNotOpenError and writes nothing.
func (s *Store) DismissException(ctx context.Context, id string, at string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exceptions SET status = 'dismissed', resolved_at = ? WHERE id = ? AND status = 'open'`,
		at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		ex, err := s.Exception(ctx, id)
		if err != nil {
			return err
		}
		return &contracts.ExceptionNotOpenError{ExceptionID: id, Status: ex.Status}
	}
	return nil
}

func scanException(row rowScanner) (*contracts.Exception, error) {
	var (
		ex         contracts.Exception
		severity   string
		status     string
		options    string
		raisedAt   string
		resolvedAt sql.NullString
	)
	if err := row.Scan(&ex.ID, &ex.EvaluationID, &ex.Fingerprint, &severity, &status,
		&ex.Title, &ex.Context, &options, &raisedAt, &resolvedAt); err != nil {
		return nil, err
	}
	ex.Severity = contracts.Severity(severity)
	ex.Status = contracts.ExceptionStatus(status)
	if err := json.Unmarshal([]byte(options), &ex.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	ex.RaisedAt = parseTime(raisedAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		ex.ResolvedAt = &t
	}
	return &ex, nil
}
