package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// AppendAuditEvent appends one event to the ledger. The schema's triggers
// reject any later update or delete.
func (s *Store) AppendAuditEvent(ctx context.Context, ev *contracts.AuditEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, seq, event_type, entity_type, entity_id, actor, occurred_at, payload)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_events), ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.EntityType, ev.EntityID, ev.Actor, formatTime(ev.OccurredAt), payload)
	if err != nil {
		return fmt.Errorf("append audit event: %w", mapWriteErr(err))
	}
	return nil
}

// AuditEventsForEntities returns the deterministic ledger slice feeding
// evidence packs: events for the given entities, restricted to the given
// event types, occurring at or before cutoff, in ledger order.
func (s *Store) AuditEventsForEntities(ctx context.Context, entityIDs, eventTypes []string, cutoff time.Time) ([]contracts.AuditEvent, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(entityIDs)+len(eventTypes)+1)
	sb.WriteString(`SELECT id, event_type, entity_type, entity_id, actor, occurred_at, payload
		 FROM audit_events WHERE entity_id IN (`)
	for i, id := range entityIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
		args = append(args, id)
	}
	sb.WriteString(")")
	if len(eventTypes) > 0 {
		sb.WriteString(" AND event_type IN (")
		for i, et := range eventTypes {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, et)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" AND occurred_at <= ? ORDER BY seq")
	args = append(args, formatTime(cutoff))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAuditEvents(rows)
}

// AuditEventsByType lists ledger entries of one type in ledger order.
func (s *Store) AuditEventsByType(ctx context.Context, eventType string, limit int) ([]contracts.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, entity_type, entity_id, actor, occurred_at, payload
		 FROM audit_events WHERE event_type = ? ORDER BY seq LIMIT ?`,
		eventType, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAuditEvents(rows)
}

// AuditEventCount returns the ledger length.
func (s *Store) AuditEventCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

func scanAuditEvents(rows *sql.Rows) ([]contracts.AuditEvent, error) {
	var out []contracts.AuditEvent
	for rows.Next() {
		var (
			ev         contracts.AuditEvent
			occurredAt string
			payload    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.EntityType, &ev.EntityID, &ev.Actor, &occurredAt, &payload); err != nil {
			return nil, err
		}
		ev.OccurredAt = parseTime(occurredAt)
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
