// Package audit records the kernel's append-only audit ledger and mirrors
// every entry as a structured JSON line for log shipping.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Recorder appends events to the ledger and writes them to a configurable
// sink. Time is always supplied by the caller.
type Recorder struct {
	mu     sync.Mutex
	store  *store.Store
	writer io.Writer
}

// NewRecorder creates a Recorder mirroring entries to os.Stdout.
func NewRecorder(st *store.Store) *Recorder {
	return NewRecorderWithWriter(st, os.Stdout)
}

// NewRecorderWithWriter creates a Recorder with an injected sink, for tests
// and custom shippers.
func NewRecorderWithWriter(st *store.Store, w io.Writer) *Recorder {
	if w == nil {
		w = os.Stdout
	}
	return &Recorder{store: st, writer: w}
}

// Record appends one event. The payload is marshaled to JSON; a marshal
// failure is an error, never a silently dropped entry.
func (r *Recorder) Record(ctx context.Context, eventType, entityType, entityID, actor string, occurredAt time.Time, payload any) (*contracts.AuditEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("audit payload: %w", err)
		}
		raw = data
	}

	event := &contracts.AuditEvent{
		ID:         uuid.New().String(),
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		OccurredAt: occurredAt,
		Payload:    raw,
	}

	if err := r.store.AppendAuditEvent(ctx, event); err != nil {
		return nil, err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Prefix with AUDIT: for easy filtering.
	_, err = r.writer.Write(append([]byte("AUDIT: "), append(line, '\n')...))
	return event, err
}
