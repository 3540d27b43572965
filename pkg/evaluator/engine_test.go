package evaluator_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/evaluator"
	"github.com/tracelight-io/tracelight/pkg/store"
)

var refTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newEngine(t *testing.T, st *store.Store) *evaluator.Engine {
	t.Helper()
	eng, err := evaluator.NewEngine(st, audit.NewRecorderWithWriter(st, io.Discard), nil)
	require.NoError(t, err)
	return eng
}

func seedPolicyVersion(t *testing.T, st *store.Store, rules contracts.RuleDefinition) *contracts.PolicyVersion {
	t.Helper()
	ctx := context.Background()
	policy := &contracts.Policy{ID: uuid.New().String(), Name: "exposure-limits", Pack: "treasury"}
	require.NoError(t, st.CreatePolicy(ctx, policy))

	version := &contracts.PolicyVersion{
		ID:                 uuid.New().String(),
		PolicyID:           policy.ID,
		VersionNumber:      1,
		Status:             contracts.VersionActive,
		Rules:              rules,
		AllowedActionTypes: []string{"escalate", "no_action", "reduce_position"},
		ValidFrom:          refTime.Add(-24 * time.Hour),
	}
	require.NoError(t, st.CreatePolicyVersion(ctx, version))
	return version
}

func seedSignal(t *testing.T, st *store.Store, signalType, payload string) *contracts.Signal {
	t.Helper()
	sig := &contracts.Signal{
		ID:          uuid.New().String(),
		Pack:        "treasury",
		SignalType:  signalType,
		Payload:     json.RawMessage(payload),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  refTime.Add(-time.Minute),
		IngestedAt:  refTime,
	}
	require.NoError(t, st.InsertSignal(context.Background(), sig))
	return sig
}

func exposureRules() contracts.RuleDefinition {
	return contracts.RuleDefinition{
		Predicates: []contracts.Predicate{{
			Name:       "exposure_over_limit",
			SignalType: "exposure_report",
			Field:      "exposure_usd",
			Op:         contracts.OpGT,
			Threshold:  "1000000",
			Severity:   contracts.SeverityHigh,
		}},
		DimensionFields: []string{"counterparty"},
	}
}

func TestEvaluate_BreachFails(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())
	sig := seedSignal(t, st, "exposure_report", `{"counterparty": "acme", "exposure_usd": 1250000}`)

	ev, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)

	assert.Equal(t, contracts.ResultFail, ev.Result)
	assert.Equal(t, contracts.SeverityHigh, ev.Details.Severity)
	require.Len(t, ev.Details.Fired, 1)
	assert.Equal(t, "exposure_over_limit", ev.Details.Fired[0].Predicate)
	assert.Equal(t, "1250000", ev.Details.Fired[0].Observed)
	assert.Equal(t, refTime, ev.EvaluatedAt)
	assert.False(t, ev.CacheHit)
}

func TestEvaluate_UnderThresholdPasses(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())
	sig := seedSignal(t, st, "exposure_report", `{"counterparty": "acme", "exposure_usd": 900000}`)

	ev, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)
	assert.Equal(t, contracts.ResultPass, ev.Result)
	assert.Empty(t, ev.Details.Fired)
}

func TestEvaluate_ExactComparisonBeyondFloatPrecision(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	// 2^53 and 2^53+1 collapse to the same float64; the comparison must
	// still see the one-unit breach.
	version := seedPolicyVersion(t, st, contracts.RuleDefinition{
		Predicates: []contracts.Predicate{{
			Name:       "exposure_over_limit",
			SignalType: "exposure_report",
			Field:      "exposure_usd",
			Op:         contracts.OpGT,
			Threshold:  "9007199254740992",
			Severity:   contracts.SeverityHigh,
		}},
		DimensionFields: []string{"counterparty"},
	})
	sig := seedSignal(t, st, "exposure_report",
		`{"counterparty": "acme", "exposure_usd": 9007199254740993}`)

	ev, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)

	assert.Equal(t, contracts.ResultFail, ev.Result)
	require.Len(t, ev.Details.Fired, 1)
	assert.Equal(t, "9007199254740993", ev.Details.Fired[0].Observed)
	assert.Equal(t, "9007199254740992", ev.Details.Fired[0].Threshold)
}

func TestEvaluate_Idempotent(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())
	sig := seedSignal(t, st, "exposure_report", `{"counterparty": "acme", "exposure_usd": 1250000}`)

	ctx := context.Background()
	first, err := eng.Evaluate(ctx, version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)
	second, err := eng.Evaluate(ctx, version.ID, []string{sig.ID}, refTime.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.InputHash, second.InputHash)
	assert.True(t, second.EvaluatedAt.Equal(first.EvaluatedAt),
		"cached evaluation must keep its original timestamp")
	assert.True(t, second.CacheHit)

	// One audit event for two calls.
	events, err := st.AuditEventsByType(ctx, contracts.AuditEvaluationCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEvaluate_MissingFieldIsInconclusive(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())
	sig := seedSignal(t, st, "exposure_report", `{"counterparty": "acme"}`)

	ev, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)
	assert.Equal(t, contracts.ResultInconclusive, ev.Result)
	assert.Equal(t, []string{"exposure_over_limit"}, ev.Details.Indeterminate)
}

func TestEvaluate_DraftVersionRejected(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	ctx := context.Background()

	policy := &contracts.Policy{ID: uuid.New().String(), Name: "exposure-limits", Pack: "treasury"}
	require.NoError(t, st.CreatePolicy(ctx, policy))
	draft := &contracts.PolicyVersion{
		ID:            uuid.New().String(),
		PolicyID:      policy.ID,
		VersionNumber: 1,
		Status:        contracts.VersionDraft,
		Rules:         exposureRules(),
		ValidFrom:     refTime.Add(-24 * time.Hour),
	}
	require.NoError(t, st.CreatePolicyVersion(ctx, draft))
	sig := seedSignal(t, st, "exposure_report", `{"counterparty": "acme", "exposure_usd": 1250000}`)

	_, err := eng.Evaluate(ctx, draft.ID, []string{sig.ID}, refTime)
	var notActive *contracts.PolicyNotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.ErrorIs(t, err, contracts.ErrState)
}

func TestEvaluate_OutsideValidityWindowRejected(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())
	sig := seedSignal(t, st, "exposure_report", `{"counterparty": "acme", "exposure_usd": 1250000}`)

	_, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime.Add(-48*time.Hour))
	assert.ErrorIs(t, err, contracts.ErrState)
}

func TestEvaluate_UnreferencedSignalTypeRejected(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())
	sig := seedSignal(t, st, "settlement_report", `{"counterparty": "acme", "amount": 5}`)

	_, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime)
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestEvaluate_NoSignalsRejected(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	version := seedPolicyVersion(t, st, exposureRules())

	_, err := eng.Evaluate(context.Background(), version.ID, nil, refTime)
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestEvaluate_CELGuardGatesBreach(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	rules := contracts.RuleDefinition{
		Predicates: []contracts.Predicate{{
			Name:       "exposure_over_limit_verified",
			SignalType: "exposure_report",
			Field:      "exposure_usd",
			Op:         contracts.OpGT,
			Threshold:  "1000000",
			Expr:       `signal.region == "emea"`,
			Severity:   contracts.SeverityHigh,
		}},
	}
	version := seedPolicyVersion(t, st, rules)

	gated := seedSignal(t, st, "exposure_report", `{"exposure_usd": 1250000, "region": "apac"}`)
	ev, err := eng.Evaluate(context.Background(), version.ID, []string{gated.ID}, refTime)
	require.NoError(t, err)
	assert.Equal(t, contracts.ResultPass, ev.Result)

	firing := seedSignal(t, st, "exposure_report", `{"exposure_usd": 1250000, "region": "emea"}`)
	ev, err = eng.Evaluate(context.Background(), version.ID, []string{firing.ID}, refTime)
	require.NoError(t, err)
	assert.Equal(t, contracts.ResultFail, ev.Result)
}

func TestEvaluate_ThresholdField(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st)
	rules := contracts.RuleDefinition{
		Predicates: []contracts.Predicate{{
			Name:           "exposure_over_dynamic_limit",
			SignalType:     "exposure_report",
			Field:          "exposure_usd",
			Op:             contracts.OpGT,
			ThresholdField: "limit_usd",
			Severity:       contracts.SeverityMedium,
		}},
	}
	version := seedPolicyVersion(t, st, rules)
	sig := seedSignal(t, st, "exposure_report", `{"exposure_usd": 500000, "limit_usd": 400000}`)

	ev, err := eng.Evaluate(context.Background(), version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)
	assert.Equal(t, contracts.ResultFail, ev.Result)
	require.Len(t, ev.Details.Fired, 1)
	assert.Equal(t, "400000", ev.Details.Fired[0].Threshold)
}
