// Package replay re-runs stored signals against a policy version inside
// an isolated namespace. A replay over the inputs of a live run must
// reproduce its evaluations and exceptions byte for byte; divergence
// means a determinism leak, not replay drift.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/evaluator"
	"github.com/tracelight-io/tracelight/pkg/exception"
	"github.com/tracelight-io/tracelight/pkg/observability"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Harness drives replay runs. It shares the evaluator's and exception
// engine's pure paths with the live pipeline and writes exclusively to
// the replay tables; live state is never touched.
type Harness struct {
	store     *store.Store
	evaluator *evaluator.Engine
	exception *exception.Engine
	audit     *audit.Recorder
	metrics   *observability.Metrics
}

// NewHarness creates a replay harness.
func NewHarness(st *store.Store, eval *evaluator.Engine, exc *exception.Engine,
	rec *audit.Recorder, metrics *observability.Metrics) *Harness {
	return &Harness{store: st, evaluator: eval, exception: exc, audit: rec, metrics: metrics}
}

// Run replays the pack's signals observed inside the window, one
// evaluation per signal, against the given policy version. Draft and
// archived versions are allowed here; replay exists exactly to exercise
// versions that are not live. Row-level failures are recorded on the
// row and the run continues.
//
// startedAt stamps the run record only; every evaluation uses the
// signal's own observation time as its reference time, so the run
// timestamp can never leak into results.
func (h *Harness) Run(ctx context.Context, packName, policyVersionID string,
	window contracts.SignalWindow, startedAt time.Time) (*contracts.ReplayResult, error) {
	version, err := h.store.PolicyVersion(ctx, policyVersionID)
	if err != nil {
		return nil, err
	}
	policy, err := h.store.Policy(ctx, version.PolicyID)
	if err != nil {
		return nil, err
	}
	if packName != policy.Pack {
		return nil, fmt.Errorf("%w: replay pack %q does not match policy pack %q",
			contracts.ErrValidation, packName, policy.Pack)
	}
	signals, err := h.store.SignalsInWindow(ctx, packName, window)
	if err != nil {
		return nil, err
	}

	result := &contracts.ReplayResult{
		ReplayID:        uuid.New().String(),
		Pack:            packName,
		PolicyVersionID: policyVersionID,
		Window:          window,
		StartedAt:       startedAt,
	}
	if err := h.store.CreateReplayRun(ctx, result); err != nil {
		return nil, err
	}
	if _, err := h.audit.Record(ctx, contracts.AuditReplayStarted, "replay_run", result.ReplayID,
		"kernel", startedAt, map[string]any{
			"pack":              packName,
			"policy_version_id": policyVersionID,
			"signals":           len(signals),
		}); err != nil {
		return nil, err
	}

	for i := range signals {
		row := h.replayRow(ctx, result.ReplayID, policy.Pack, version, signals[i])
		result.Rows = append(result.Rows, row)
		switch {
		case row.Error != "":
			result.RowErrors++
			h.metrics.ReplayRow(ctx, "error")
		case row.Result == contracts.ResultFail:
			result.Evaluations++
			result.Failures++
			if row.Exception != nil {
				result.Exceptions++
				h.metrics.ReplayRow(ctx, "exception")
			} else {
				result.Suppressed++
				h.metrics.ReplayRow(ctx, "suppressed")
			}
		default:
			result.Evaluations++
			h.metrics.ReplayRow(ctx, string(row.Result))
		}
	}

	if err := h.store.FinishReplayRun(ctx, result); err != nil {
		return nil, err
	}
	if _, err := h.audit.Record(ctx, contracts.AuditReplayCompleted, "replay_run", result.ReplayID,
		"kernel", startedAt, map[string]any{
			"evaluations": result.Evaluations,
			"failures":    result.Failures,
			"exceptions":  result.Exceptions,
			"suppressed":  result.Suppressed,
			"row_errors":  result.RowErrors,
		}); err != nil {
		return nil, err
	}
	return result, nil
}

// replayRow evaluates one signal and, on a fail, builds its exception.
// All state lands in the replay namespace.
func (h *Harness) replayRow(ctx context.Context, replayID, packName string,
	version *contracts.PolicyVersion, signal contracts.Signal) contracts.ReplayRow {
	row := contracts.ReplayRow{SignalID: signal.ID}

	ev, err := h.evaluator.EvaluateVersion(version, []contracts.Signal{signal}, signal.ObservedAt)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Evaluation = ev
	row.Result = ev.Result
	row.Severity = ev.Details.Severity
	if _, err := h.store.InsertReplayEvaluation(ctx, replayID, signal.ID, ev); err != nil {
		row.Error = err.Error()
		return row
	}
	if ev.Result != contracts.ResultFail {
		return row
	}

	ex, err := h.exception.Build(ev, version, packName,
		[]*contracts.PolicyVersion{version}, []contracts.Signal{signal})
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Fingerprint = ex.Fingerprint
	breachKey, err := exception.BreachKey([]contracts.Signal{signal}, version.Rules.DimensionFields)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	inserted, err := h.store.InsertReplayException(ctx, replayID, breachKey, ex)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	if inserted {
		row.Exception = ex
	}
	return row
}

// Compare diffs two finished runs: the (breach key, severity) exception
// sets plus per-signal evaluation results. Both keys leave the policy
// version out, so runs over different versions correlate row for row.
// Equivalent means both diffs are empty. This is the gate a draft
// version clears before activation.
func (h *Harness) Compare(ctx context.Context, baselineID, comparisonID string) (*contracts.ComparisonResult, error) {
	if _, err := h.store.ReplayRun(ctx, baselineID); err != nil {
		return nil, err
	}
	if _, err := h.store.ReplayRun(ctx, comparisonID); err != nil {
		return nil, err
	}

	baseKeys, err := h.store.ReplayExceptionKeys(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	compKeys, err := h.store.ReplayExceptionKeys(ctx, comparisonID)
	if err != nil {
		return nil, err
	}

	out := &contracts.ComparisonResult{
		BaselineID:           baselineID,
		ComparisonID:         comparisonID,
		BaselineExceptions:   len(baseKeys),
		ComparisonExceptions: len(compKeys),
	}

	inComp := make(map[contracts.ExceptionKey]bool, len(compKeys))
	for _, k := range compKeys {
		inComp[k] = true
	}
	inBase := make(map[contracts.ExceptionKey]bool, len(baseKeys))
	for _, k := range baseKeys {
		inBase[k] = true
		if inComp[k] {
			out.Matched++
		} else {
			out.OnlyInBaseline = append(out.OnlyInBaseline, k)
		}
	}
	for _, k := range compKeys {
		if !inBase[k] {
			out.OnlyInComparison = append(out.OnlyInComparison, k)
		}
	}

	baseResults, err := h.store.ReplayEvaluationResults(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	compResults, err := h.store.ReplayEvaluationResults(ctx, comparisonID)
	if err != nil {
		return nil, err
	}
	for signalID, br := range baseResults {
		if cr, ok := compResults[signalID]; ok && cr != br {
			out.EvaluationDiffs = append(out.EvaluationDiffs, contracts.EvaluationDiff{
				SignalID:   signalID,
				Baseline:   br,
				Comparison: cr,
			})
		}
	}
	sort.Slice(out.EvaluationDiffs, func(i, j int) bool {
		return out.EvaluationDiffs[i].SignalID < out.EvaluationDiffs[j].SignalID
	})

	out.Equivalent = len(out.OnlyInBaseline) == 0 &&
		len(out.OnlyInComparison) == 0 && len(out.EvaluationDiffs) == 0
	return out, nil
}
