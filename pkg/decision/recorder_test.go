package decision_test

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
	"github.com/tracelight-io/tracelight/pkg/decision"
	"github.com/tracelight-io/tracelight/pkg/evaluator"
	"github.com/tracelight-io/tracelight/pkg/exception"
	"github.com/tracelight-io/tracelight/pkg/pack"
	"github.com/tracelight-io/tracelight/pkg/store"
)

var refTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	recorder *decision.Recorder
	ex       *contracts.Exception
}

// newFixture seeds a full breach: policy, failing evaluation, open
// exception with the treasury option set.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rec := audit.NewRecorderWithWriter(st, io.Discard)
	eval, err := evaluator.NewEngine(st, rec, nil)
	require.NoError(t, err)
	registry, err := pack.NewRegistry()
	require.NoError(t, err)
	excEngine := exception.NewEngine(st, exception.NewPipeline(registry), rec, nil)

	ctx := context.Background()
	policy := &contracts.Policy{ID: uuid.New().String(), Name: "exposure-limits", Pack: "treasury"}
	require.NoError(t, st.CreatePolicy(ctx, policy))
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
		AllowedActionTypes: []string{"adjust_limit", "escalate", "no_action", "reduce_position"},
		ValidFrom:          refTime.Add(-24 * time.Hour),
	}
	require.NoError(t, st.CreatePolicyVersion(ctx, version))

	sig := &contracts.Signal{
		ID:          uuid.New().String(),
		Pack:        "treasury",
		SignalType:  "exposure_report",
		Payload:     json.RawMessage(`{"counterparty": "acme", "exposure_usd": 1250000}`),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  refTime.Add(-time.Minute),
		IngestedAt:  refTime,
	}
	require.NoError(t, st.InsertSignal(ctx, sig))

	ev, err := eval.Evaluate(ctx, version.ID, []string{sig.ID}, refTime)
	require.NoError(t, err)
	require.Equal(t, contracts.ResultFail, ev.Result)
	ex, err := excEngine.Raise(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, ex)

	return &fixture{store: st, recorder: decision.NewRecorder(st, rec, nil), ex: ex}
}

func (f *fixture) option(t *testing.T, actionType string) *contracts.ResolutionOption {
	t.Helper()
	for i := range f.ex.Options {
		if f.ex.Options[i].ActionType == actionType {
			return &f.ex.Options[i]
		}
	}
	t.Fatalf("option %s not present", actionType)
	return nil
}

func TestRecord_ResolvesException(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.option(t, "reduce_position")

	d, err := f.recorder.Record(ctx, contracts.DecisionInput{
		ExceptionID:    f.ex.ID,
		ChosenOptionID: opt.ID,
		Rationale:      "Exposure confirmed against settlement data.",
		Assumptions:    []string{"risk feed reconciles with custodian"},
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, opt.ID, d.ChosenOptionID)

	resolved, err := f.store.Exception(ctx, f.ex.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ExceptionResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	stored, err := f.store.DecisionForException(ctx, f.ex.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, stored.ID)

	events, err := f.store.AuditEventsByType(ctx, contracts.AuditDecisionRecorded, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecord_NoActionIsAFirstClassChoice(t *testing.T) {
	f := newFixture(t)
	opt := f.option(t, "no_action")

	d, err := f.recorder.Record(context.Background(), contracts.DecisionInput{
		ExceptionID:    f.ex.ID,
		ChosenOptionID: opt.ID,
		Rationale:      "Exposure is within board-approved tolerance for this counterparty.",
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, opt.ID, d.ChosenOptionID)
}

func TestRecord_RejectsForeignOption(t *testing.T) {
	f := newFixture(t)

	_, err := f.recorder.Record(context.Background(), contracts.DecisionInput{
		ExceptionID:    f.ex.ID,
		ChosenOptionID: "opt_not_a_member",
		Rationale:      "anything",
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	})
	var invalid *contracts.InvalidOptionError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestRecord_RejectsBlankRationale(t *testing.T) {
	f := newFixture(t)
	opt := f.option(t, "escalate")

	_, err := f.recorder.Record(context.Background(), contracts.DecisionInput{
		ExceptionID:    f.ex.ID,
		ChosenOptionID: opt.ID,
		Rationale:      "   \n\t",
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	})
	var missing *contracts.MissingRationaleError
	require.ErrorAs(t, err, &missing)
}

func TestRecord_HardOverrideNeedsDistinctApprover(t *testing.T) {
	f := newFixture(t)
	opt := f.option(t, "adjust_limit")
	require.True(t, opt.HardOverride)

	in := contracts.DecisionInput{
		ExceptionID:    f.ex.ID,
		ChosenOptionID: opt.ID,
		Rationale:      "Raising the limit permanently after credit review.",
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	}

	_, err := f.recorder.Record(context.Background(), in)
	var approval *contracts.ApprovalRequiredError
	require.ErrorAs(t, err, &approval)

	in.ApprovedBy = "treasury-officer"
	_, err = f.recorder.Record(context.Background(), in)
	require.ErrorAs(t, err, &approval)

	in.ApprovedBy = "risk-head"
	d, err := f.recorder.Record(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "risk-head", d.ApprovedBy)
}

func TestRecord_SecondDecisionRejected(t *testing.T) {
	f := newFixture(t)
	opt := f.option(t, "escalate")

	in := contracts.DecisionInput{
		ExceptionID:    f.ex.ID,
		ChosenOptionID: opt.ID,
		Rationale:      "Escalating to the risk committee.",
		DecidedBy:      "treasury-officer",
		DecidedAt:      refTime.Add(time.Minute),
	}
	_, err := f.recorder.Record(context.Background(), in)
	require.NoError(t, err)

	_, err = f.recorder.Record(context.Background(), in)
	var notOpen *contracts.ExceptionNotOpenError
	require.ErrorAs(t, err, &notOpen)
	assert.Equal(t, contracts.ExceptionResolved, notOpen.Status)
}
