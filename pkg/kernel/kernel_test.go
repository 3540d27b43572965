package kernel_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight-io/tracelight/pkg/config"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/kernel"
	"github.com/tracelight-io/tracelight/pkg/store"
)

var refTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newKernel(t *testing.T) (*kernel.Kernel, *bytes.Buffer) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)

	var auditLog bytes.Buffer
	k, err := kernel.NewWithStore(st, &config.Config{
		DatabasePath:     ":memory:",
		CoprocessorQPS:   100,
		CoprocessorBurst: 10,
	}, kernel.WithAuditWriter(&auditLog), kernel.WithoutMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k, &auditLog
}

func seedActiveVersion(t *testing.T, k *kernel.Kernel) *contracts.PolicyVersion {
	t.Helper()
	ctx := context.Background()
	policy := &contracts.Policy{ID: uuid.New().String(), Name: "exposure-limits", Pack: "treasury"}
	require.NoError(t, k.Store().CreatePolicy(ctx, policy))

	version := &contracts.PolicyVersion{
		ID:            uuid.New().String(),
		PolicyID:      policy.ID,
		VersionNumber: 1,
		Status:        contracts.VersionActive,
		Rules: contracts.RuleDefinition{
			Predicates: []contracts.Predicate{{
				Name:       "exposure_over_limit",
				SignalType: "exposure_report",
				Field:      "exposure_usd",
				Op:         contracts.OpGT,
				Threshold:  "1000000",
				Severity:   contracts.SeverityHigh,
			}},
			DimensionFields: []string{"counterparty"},
		},
		AllowedActionTypes: []string{"escalate", "no_action", "reduce_position"},
		ValidFrom:          refTime.Add(-24 * time.Hour),
	}
	require.NoError(t, k.Store().CreatePolicyVersion(ctx, version))
	return version
}

// TestKernel_BreachToEvidence walks the full lifecycle: ingest, evaluate,
// raise, decide, generate and export evidence.
func TestKernel_BreachToEvidence(t *testing.T) {
	k, auditLog := newKernel(t)
	version := seedActiveVersion(t, k)
	ctx := context.Background()

	sig, err := k.IngestSignal(ctx, &contracts.Signal{
		Pack:        "treasury",
		SignalType:  "exposure_report",
		Payload:     json.RawMessage(`{"counterparty": "acme", "exposure_usd": 1250000}`),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  refTime.Add(-time.Minute),
		IngestedAt:  refTime,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sig.ID)

	ev, err := k.Evaluate(ctx, version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)
	require.Equal(t, contracts.ResultFail, ev.Result)

	ex, err := k.RaiseException(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, ex)

	var chosen string
	for _, opt := range ex.Options {
		if opt.ActionType == "reduce_position" {
			chosen = opt.ID
		}
	}
	require.NotEmpty(t, chosen)

	d, err := k.RecordDecision(ctx, contracts.DecisionInput{
		ExceptionID:    ex.ID,
		ChosenOptionID: chosen,
		Rationale:      "Exposure confirmed against settlement data.",
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	})
	require.NoError(t, err)

	pack, err := k.GenerateEvidence(ctx, d.ID, refTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, pack.ContentHash, 64)

	out, err := k.ExportEvidence(ctx, d.ID, contracts.ExportJSON)
	require.NoError(t, err)
	assert.Contains(t, string(out), pack.ContentHash)

	// Every lifecycle step mirrors to the audit sink.
	log := auditLog.String()
	assert.Contains(t, log, contracts.AuditEvaluationCompleted)
	assert.Contains(t, log, contracts.AuditExceptionRaised)
	assert.Contains(t, log, contracts.AuditDecisionRecorded)
	assert.Contains(t, log, contracts.AuditEvidenceGenerated)
}

func TestKernel_IngestValidatesSnapshot(t *testing.T) {
	k, _ := newKernel(t)
	ctx := context.Background()

	_, err := k.IngestSignal(ctx, &contracts.Signal{
		Pack:        "treasury",
		SignalType:  "exposure_report",
		Payload:     json.RawMessage(`{"exposure_usd": 1}`),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  refTime,
		IngestedAt:  refTime,
		CapabilitySnapshot: &contracts.CapabilitySnapshot{
			CapturedAt: refTime,
		},
	})
	// feasible_actions serializes as null, violating the pack schema.
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestKernel_IngestRejectsUnknownPack(t *testing.T) {
	k, _ := newKernel(t)

	_, err := k.IngestSignal(context.Background(), &contracts.Signal{
		Pack:        "lending",
		SignalType:  "exposure_report",
		Payload:     json.RawMessage(`{}`),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  refTime,
		IngestedAt:  refTime,
	})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestKernel_ReplayMatchesLiveRun(t *testing.T) {
	k, _ := newKernel(t)
	version := seedActiveVersion(t, k)
	ctx := context.Background()

	observedAt := refTime.Add(-time.Minute)
	sig, err := k.IngestSignal(ctx, &contracts.Signal{
		Pack:        "treasury",
		SignalType:  "exposure_report",
		Payload:     json.RawMessage(`{"counterparty": "acme", "exposure_usd": 1250000}`),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  observedAt,
		IngestedAt:  refTime,
	})
	require.NoError(t, err)

	// Live evaluation at the signal's own observation instant, matching
	// what the replay harness will use.
	live, err := k.Evaluate(ctx, version.ID, []string{sig.ID}, observedAt)
	require.NoError(t, err)

	window := contracts.SignalWindow{From: observedAt.Add(-time.Hour), To: refTime}
	result, err := k.Replay(ctx, "treasury", version.ID, window, time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	require.NotNil(t, result.Rows[0].Evaluation)
	assert.Equal(t, live.InputHash, result.Rows[0].Evaluation.InputHash)
	assert.Equal(t, live.Result, result.Rows[0].Evaluation.Result)
}
