package coprocessor_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/coprocessor"
	"github.com/tracelight-io/tracelight/pkg/store"
)

var refTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) (*coprocessor.Queue, *store.Store, *contracts.Policy) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	policy := &contracts.Policy{ID: uuid.New().String(), Name: "exposure-limits", Pack: "treasury"}
	require.NoError(t, st.CreatePolicy(context.Background(), policy))

	return coprocessor.NewQueue(st, audit.NewRecorderWithWriter(st, io.Discard)), st, policy
}

func proposal() contracts.PolicyVersionProposal {
	return contracts.PolicyVersionProposal{
		Rules: contracts.RuleDefinition{
			Predicates: []contracts.Predicate{{
				Name:       "exposure_over_limit",
				SignalType: "exposure_report",
				Field:      "exposure_usd",
				Op:         contracts.OpGT,
				Threshold:  "800000",
				Severity:   contracts.SeverityHigh,
			}},
			DimensionFields: []string{"counterparty"},
		},
		AllowedActionTypes: []string{"escalate", "no_action"},
		Note:               "tighten limit based on observed breach frequency",
	}
}

func TestQueue_EnqueueAndApprove(t *testing.T) {
	q, st, policy := newQueue(t)
	ctx := context.Background()

	c, err := q.Enqueue(ctx, policy.ID, proposal(), "coprocessor-1", refTime)
	require.NoError(t, err)
	assert.Equal(t, contracts.CandidatePending, c.Status)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	version, err := q.Approve(ctx, c.ID, "risk-head", refTime.Add(time.Hour))
	require.NoError(t, err)

	// Approval yields a draft only; activation is a separate human step.
	assert.Equal(t, contracts.VersionDraft, version.Status)
	assert.Equal(t, policy.ID, version.PolicyID)
	assert.Equal(t, 1, version.VersionNumber)

	stored, err := st.PolicyVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, "800000", string(stored.Rules.Predicates[0].Threshold))

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueue_ReviewerMustDifferFromSubmitter(t *testing.T) {
	q, _, policy := newQueue(t)
	ctx := context.Background()

	c, err := q.Enqueue(ctx, policy.ID, proposal(), "coprocessor-1", refTime)
	require.NoError(t, err)

	_, err = q.Approve(ctx, c.ID, "coprocessor-1", refTime.Add(time.Hour))
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestQueue_RejectLeavesNoVersion(t *testing.T) {
	q, st, policy := newQueue(t)
	ctx := context.Background()

	c, err := q.Enqueue(ctx, policy.ID, proposal(), "coprocessor-1", refTime)
	require.NoError(t, err)
	require.NoError(t, q.Reject(ctx, c.ID, "risk-head", refTime.Add(time.Hour)))

	n, err := st.NextVersionNumber(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rejection must not create a version")

	_, err = q.Approve(ctx, c.ID, "risk-head", refTime.Add(2*time.Hour))
	assert.ErrorIs(t, err, contracts.ErrState)
}

func TestQueue_EmptyProposalRejected(t *testing.T) {
	q, _, policy := newQueue(t)

	_, err := q.Enqueue(context.Background(), policy.ID,
		contracts.PolicyVersionProposal{}, "coprocessor-1", refTime)
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestGateway_ReadOnlyQueries(t *testing.T) {
	_, st, _ := newQueue(t)
	g := coprocessor.NewGateway(st, 100, 10)
	ctx := context.Background()

	open, err := g.OpenExceptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = g.Evaluation(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestGateway_RateLimitHonorsContext(t *testing.T) {
	_, st, _ := newQueue(t)
	// One token total: the second call must block until the context ends.
	g := coprocessor.NewGateway(st, 0.001, 1)

	ctx := context.Background()
	_, err := g.OpenExceptions(ctx)
	require.NoError(t, err)

	limited, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = g.OpenExceptions(limited)
	assert.Error(t, err)
}
