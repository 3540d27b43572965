package store

import "context"

// migrations run in order on every open. Statements are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS policies (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		pack        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS policy_versions (
		id                   TEXT PRIMARY KEY,
		policy_id            TEXT NOT NULL REFERENCES policies(id),
		version_number       INTEGER NOT NULL,
		status               TEXT NOT NULL,
		rule_definition      TEXT NOT NULL,
		allowed_action_types TEXT NOT NULL,
		valid_from           TEXT NOT NULL,
		valid_to             TEXT,
		UNIQUE (policy_id, version_number)
	)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id                  TEXT PRIMARY KEY,
		pack                TEXT NOT NULL,
		signal_type         TEXT NOT NULL,
		payload             TEXT NOT NULL,
		source              TEXT NOT NULL,
		reliability         TEXT NOT NULL,
		observed_at         TEXT NOT NULL,
		ingested_at         TEXT NOT NULL,
		capability_snapshot TEXT
	)`,

	`CREATE TRIGGER IF NOT EXISTS signals_immutable
	 BEFORE UPDATE ON signals
	 BEGIN SELECT RAISE(ABORT, 'signals are immutable'); END`,

	`CREATE TABLE IF NOT EXISTS evaluations (
		id                TEXT PRIMARY KEY,
		policy_version_id TEXT NOT NULL REFERENCES policy_versions(id),
		signal_ids        TEXT NOT NULL,
		result            TEXT NOT NULL,
		details           TEXT NOT NULL,
		input_hash        TEXT NOT NULL UNIQUE,
		evaluated_at      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS exceptions (
		id            TEXT PRIMARY KEY,
		evaluation_id TEXT NOT NULL REFERENCES evaluations(id),
		fingerprint   TEXT NOT NULL,
		severity      TEXT NOT NULL,
		status        TEXT NOT NULL,
		title         TEXT NOT NULL,
		context       TEXT NOT NULL DEFAULT '',
		options       TEXT NOT NULL,
		raised_at     TEXT NOT NULL,
		resolved_at   TEXT
	)`,

	// Dedup scope is "currently open", not "ever raised".
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_exceptions_open_fingerprint
	 ON exceptions (fingerprint) WHERE status = 'open'`,

	`CREATE TABLE IF NOT EXISTS decisions (
		id               TEXT PRIMARY KEY,
		exception_id     TEXT NOT NULL UNIQUE REFERENCES exceptions(id),
		chosen_option_id TEXT NOT NULL,
		rationale        TEXT NOT NULL,
		assumptions      TEXT NOT NULL,
		decided_by       TEXT NOT NULL,
		approved_by      TEXT NOT NULL DEFAULT '',
		decided_at       TEXT NOT NULL
	)`,

	`CREATE TRIGGER IF NOT EXISTS decisions_immutable
	 BEFORE UPDATE ON decisions
	 BEGIN SELECT RAISE(ABORT, 'decisions are immutable'); END`,

	`CREATE TRIGGER IF NOT EXISTS decisions_no_delete
	 BEFORE DELETE ON decisions
	 BEGIN SELECT RAISE(ABORT, 'decisions are immutable'); END`,

	`CREATE TABLE IF NOT EXISTS evidence_packs (
		id           TEXT PRIMARY KEY,
		decision_id  TEXT NOT NULL UNIQUE REFERENCES decisions(id),
		evidence     TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		generated_at TEXT NOT NULL
	)`,

	`CREATE TRIGGER IF NOT EXISTS evidence_packs_immutable
	 BEFORE UPDATE ON evidence_packs
	 BEGIN SELECT RAISE(ABORT, 'evidence packs are immutable'); END`,

	`CREATE TRIGGER IF NOT EXISTS evidence_packs_no_delete
	 BEFORE DELETE ON evidence_packs
	 BEGIN SELECT RAISE(ABORT, 'evidence packs are immutable'); END`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id          TEXT PRIMARY KEY,
		seq         INTEGER NOT NULL UNIQUE,
		event_type  TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		actor       TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		payload     TEXT
	)`,

	`CREATE TRIGGER IF NOT EXISTS audit_events_immutable
	 BEFORE UPDATE ON audit_events
	 BEGIN SELECT RAISE(ABORT, 'audit events are immutable'); END`,

	`CREATE TRIGGER IF NOT EXISTS audit_events_no_delete
	 BEFORE DELETE ON audit_events
	 BEGIN SELECT RAISE(ABORT, 'audit events are immutable'); END`,

	// Replay writes land here, never in the live tables above.
	`CREATE TABLE IF NOT EXISTS replay_runs (
		id                TEXT PRIMARY KEY,
		pack              TEXT NOT NULL,
		policy_version_id TEXT NOT NULL,
		window_from       TEXT NOT NULL,
		window_to         TEXT NOT NULL,
		started_at        TEXT NOT NULL,
		result            TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS replay_evaluations (
		replay_id  TEXT NOT NULL REFERENCES replay_runs(id),
		id         TEXT NOT NULL,
		signal_id  TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		result     TEXT NOT NULL,
		severity   TEXT NOT NULL DEFAULT '',
		details    TEXT NOT NULL,
		PRIMARY KEY (replay_id, input_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS replay_exceptions (
		replay_id   TEXT NOT NULL REFERENCES replay_runs(id),
		id          TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		breach_key  TEXT NOT NULL,
		severity    TEXT NOT NULL,
		options     TEXT NOT NULL,
		PRIMARY KEY (replay_id, fingerprint)
	)`,

	`CREATE TABLE IF NOT EXISTS approval_queue (
		id           TEXT PRIMARY KEY,
		pack         TEXT NOT NULL,
		policy_id    TEXT NOT NULL,
		proposal     TEXT NOT NULL,
		submitted_by TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		reviewed_by  TEXT NOT NULL DEFAULT '',
		reviewed_at  TEXT
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
