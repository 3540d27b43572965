package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// CreatePolicy inserts a policy row.
func (s *Store) CreatePolicy(ctx context.Context, p *contracts.Policy) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (id, name, pack, description) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Pack, p.Description)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// Policy fetches a policy by id.
func (s *Store) Policy(ctx context.Context, id string) (*contracts.Policy, error) {
	var p contracts.Policy
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, pack, description FROM policies WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Pack, &p.Description)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: policy %s", contracts.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePolicyVersion inserts a version row. Versions created active are
// checked for overlap with existing active versions of the same policy:
// at most one active version covers any instant.
func (s *Store) CreatePolicyVersion(ctx context.Context, v *contracts.PolicyVersion) error {
	if !v.Status.Valid() {
		return fmt.Errorf("%w: unknown version status %q", contracts.ErrValidation, v.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if v.Status == contracts.VersionActive {
		if err := checkActiveOverlap(ctx, tx, v); err != nil {
			return err
		}
	}

	rules, err := json.Marshal(v.Rules)
	if err != nil {
		return fmt.Errorf("marshal rule definition: %w", err)
	}
	actions, err := json.Marshal(v.AllowedActionTypes)
	if err != nil {
		return fmt.Errorf("marshal allowed action types: %w", err)
	}

	var validTo any
	if v.ValidTo != nil {
		validTo = formatTime(*v.ValidTo)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policy_versions
		 (id, policy_id, version_number, status, rule_definition, allowed_action_types, valid_from, valid_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PolicyID, v.VersionNumber, string(v.Status), string(rules), string(actions),
		formatTime(v.ValidFrom), validTo)
	if err != nil {
		return fmt.Errorf("insert policy version: %w", err)
	}
	return tx.Commit()
}

func checkActiveOverlap(ctx context.Context, tx *sql.Tx, v *contracts.PolicyVersion) error {
	to := "9999-12-31T00:00:00Z"
	if v.ValidTo != nil {
		to = formatTime(*v.ValidTo)
	}
	var overlapping int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM policy_versions
		 WHERE policy_id = ? AND status = 'active' AND id != ?
		   AND valid_from < ? AND (valid_to IS NULL OR valid_to > ?)`,
		v.PolicyID, v.ID, to, formatTime(v.ValidFrom)).Scan(&overlapping)
	if err != nil {
		return err
	}
	if overlapping > 0 {
		return fmt.Errorf("%w: policy %s already has an active version covering this window",
			contracts.ErrState, v.PolicyID)
	}
	return nil
}

// NextVersionNumber returns one past the highest version number recorded
// for a policy.
func (s *Store) NextVersionNumber(ctx context.Context, policyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM policy_versions WHERE policy_id = ?`,
		policyID).Scan(&n)
	return n, err
}

// PolicyVersion fetches a version by id.
func (s *Store) PolicyVersion(ctx context.Context, id string) (*contracts.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, policy_id, version_number, status, rule_definition, allowed_action_types, valid_from, valid_to
		 FROM policy_versions WHERE id = ?`, id)
	v, err := scanPolicyVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: policy version %s", contracts.ErrNotFound, id)
	}
	return v, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicyVersion(row rowScanner) (*contracts.PolicyVersion, error) {
	var (
		v         contracts.PolicyVersion
		status    string
		rules     string
		actions   string
		validFrom string
		validTo   sql.NullString
	)
	if err := row.Scan(&v.ID, &v.PolicyID, &v.VersionNumber, &status, &rules, &actions, &validFrom, &validTo); err != nil {
		return nil, err
	}
	v.Status = contracts.VersionStatus(status)
	if err := json.Unmarshal([]byte(rules), &v.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rule definition: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &v.AllowedActionTypes); err != nil {
		return nil, fmt.Errorf("unmarshal allowed action types: %w", err)
	}
	v.ValidFrom = parseTime(validFrom)
	if validTo.Valid {
		t := parseTime(validTo.String)
		v.ValidTo = &t
	}
	return &v, nil
}

// UpdateDraftRules replaces the rule definition of a draft version. Once a
// version leaves draft its rules are immutable; a non-draft target fails
// with ErrState and writes nothing.
func (s *Store) UpdateDraftRules(ctx context.Context, versionID string, rules contracts.RuleDefinition) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rule definition: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_versions SET rule_definition = ? WHERE id = ? AND status = 'draft'`,
		string(data), versionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.PolicyVersion(ctx, versionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: policy version %s is not draft, rules are immutable",
			contracts.ErrState, versionID)
	}
	return nil
}

// ActivateVersion transitions a draft version to active after the overlap
// check, stamping its validity window start.
func (s *Store) ActivateVersion(ctx context.Context, versionID string, from time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, policy_id, version_number, status, rule_definition, allowed_action_types, valid_from, valid_to
		 FROM policy_versions WHERE id = ?`, versionID)
	v, err := scanPolicyVersion(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: policy version %s", contracts.ErrNotFound, versionID)
	}
	if err != nil {
		return err
	}
	if v.Status != contracts.VersionDraft {
		return fmt.Errorf("%w: policy version %s is %s, only drafts activate",
			contracts.ErrState, versionID, v.Status)
	}

	v.ValidFrom = from
	v.Status = contracts.VersionActive
	if err := checkActiveOverlap(ctx, tx, v); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE policy_versions SET status = 'active', valid_from = ? WHERE id = ?`,
		formatTime(from), versionID); err != nil {
		return err
	}
	return tx.Commit()
}

// ArchiveVersion transitions an active version to archived and closes its
// validity window.
func (s *Store) ArchiveVersion(ctx context.Context, versionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_versions SET status = 'archived', valid_to = ? WHERE id = ? AND status = 'active'`,
		formatTime(at), versionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.PolicyVersion(ctx, versionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: policy version %s is not active", contracts.ErrState, versionID)
	}
	return nil
}

// VersionsActiveAt returns every active version in a pack whose validity
// window covers t. Feeds pipeline step 1 (packs may declare overlapping
// policies).
func (s *Store) VersionsActiveAt(ctx context.Context, pack string, t time.Time) ([]*contracts.PolicyVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.policy_id, v.version_number, v.status, v.rule_definition, v.allowed_action_types, v.valid_from, v.valid_to
		 FROM policy_versions v JOIN policies p ON p.id = v.policy_id
		 WHERE p.pack = ? AND v.status = 'active'
		   AND v.valid_from <= ? AND (v.valid_to IS NULL OR v.valid_to > ?)
		 ORDER BY v.policy_id, v.version_number`,
		pack, formatTime(t), formatTime(t))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.PolicyVersion
	for rows.Next() {
		v, err := scanPolicyVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
