// Package observability exposes the kernel's OpenTelemetry instruments.
// Only the metric API is used here; the host process owns provider and
// exporter wiring.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tracelight-io/tracelight"

// Metrics holds the kernel's counters. A nil *Metrics is a valid no-op
// receiver so components can run uninstrumented.
type Metrics struct {
	evaluations metric.Int64Counter
	cacheHits   metric.Int64Counter
	raised      metric.Int64Counter
	suppressed  metric.Int64Counter
	decisions   metric.Int64Counter
	packs       metric.Int64Counter
	replayRows  metric.Int64Counter
}

// New creates the kernel instruments on the globally registered meter
// provider.
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error
	if m.evaluations, err = meter.Int64Counter("kernel.evaluations",
		metric.WithDescription("Evaluations performed, by result")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("kernel.evaluation_cache_hits",
		metric.WithDescription("Evaluations answered from an existing input hash")); err != nil {
		return nil, err
	}
	if m.raised, err = meter.Int64Counter("kernel.exceptions_raised",
		metric.WithDescription("Exceptions raised, by severity")); err != nil {
		return nil, err
	}
	if m.suppressed, err = meter.Int64Counter("kernel.exceptions_suppressed",
		metric.WithDescription("Exceptions suppressed by open-fingerprint dedup")); err != nil {
		return nil, err
	}
	if m.decisions, err = meter.Int64Counter("kernel.decisions_recorded",
		metric.WithDescription("Decisions recorded")); err != nil {
		return nil, err
	}
	if m.packs, err = meter.Int64Counter("kernel.evidence_packs_generated",
		metric.WithDescription("Evidence packs generated (fetches excluded)")); err != nil {
		return nil, err
	}
	if m.replayRows, err = meter.Int64Counter("kernel.replay_rows",
		metric.WithDescription("Replay rows processed, by outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

// Evaluation counts one evaluation with its result label.
func (m *Metrics) Evaluation(ctx context.Context, result string, cacheHit bool) {
	if m == nil {
		return
	}
	m.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if cacheHit {
		m.cacheHits.Add(ctx, 1)
	}
}

// ExceptionRaised counts one raised exception with its severity label.
func (m *Metrics) ExceptionRaised(ctx context.Context, severity string) {
	if m == nil {
		return
	}
	m.raised.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// ExceptionSuppressed counts one deduplicated raise.
func (m *Metrics) ExceptionSuppressed(ctx context.Context) {
	if m == nil {
		return
	}
	m.suppressed.Add(ctx, 1)
}

// DecisionRecorded counts one recorded decision.
func (m *Metrics) DecisionRecorded(ctx context.Context) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1)
}

// EvidenceGenerated counts one freshly generated pack.
func (m *Metrics) EvidenceGenerated(ctx context.Context) {
	if m == nil {
		return
	}
	m.packs.Add(ctx, 1)
}

// ReplayRow counts one replay row with its outcome label.
func (m *Metrics) ReplayRow(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.replayRows.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
