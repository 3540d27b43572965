package exception

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/observability"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Engine raises exceptions from failing evaluations.
type Engine struct {
	store    *store.Store
	pipeline *Pipeline
	audit    *audit.Recorder
	metrics  *observability.Metrics
}

// NewEngine creates an exception engine.
func NewEngine(st *store.Store, pipeline *Pipeline, rec *audit.Recorder, metrics *observability.Metrics) *Engine {
	return &Engine{store: st, pipeline: pipeline, audit: rec, metrics: metrics}
}

// Raise turns a failing evaluation into an open exception. Pass and
// inconclusive evaluations return (nil, nil); only a fail interrupts.
//
// When an open exception already carries the breach fingerprint the
// raise is suppressed: the existing exception is returned unchanged and
// a duplicate-suppression event is recorded instead of a raise.
func (e *Engine) Raise(ctx context.Context, evaluationID string) (*contracts.Exception, error) {
	ev, err := e.store.Evaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if ev.Result != contracts.ResultFail {
		return nil, nil
	}

	version, err := e.store.PolicyVersion(ctx, ev.PolicyVersionID)
	if err != nil {
		return nil, err
	}
	policy, err := e.store.Policy(ctx, version.PolicyID)
	if err != nil {
		return nil, err
	}
	signals, err := e.store.Signals(ctx, ev.SignalIDs)
	if err != nil {
		return nil, err
	}
	relevant, err := e.store.VersionsActiveAt(ctx, policy.Pack, ev.EvaluatedAt)
	if err != nil {
		return nil, err
	}

	ex, err := e.Build(ev, version, policy.Pack, relevant, signals)
	if err != nil {
		return nil, err
	}

	persisted, suppressed, err := e.store.InsertOrFetchOpenException(ctx, ex)
	if err != nil {
		return nil, err
	}
	if suppressed {
		e.metrics.ExceptionSuppressed(ctx)
		if _, err := e.audit.Record(ctx, contracts.AuditExceptionSuppressed, "exception", persisted.ID,
			"kernel", ev.EvaluatedAt, map[string]any{
				"fingerprint":   persisted.Fingerprint,
				"evaluation_id": ev.ID,
			}); err != nil {
			return nil, err
		}
		return persisted, nil
	}

	e.metrics.ExceptionRaised(ctx, string(persisted.Severity))
	if _, err := e.audit.Record(ctx, contracts.AuditExceptionRaised, "exception", persisted.ID,
		"kernel", ev.EvaluatedAt, map[string]any{
			"fingerprint":      persisted.Fingerprint,
			"evaluation_id":    ev.ID,
			"severity":         persisted.Severity,
			"options":          len(persisted.Options),
			"snapshot_present": latestSnapshot(signals) != nil,
		}); err != nil {
		return nil, err
	}
	return persisted, nil
}

// Build constructs the exception for a failing evaluation without
// touching the store. The replay harness shares this path so live and
// replayed raises cannot drift. Everything except the row id is a pure
// function of the inputs.
func (e *Engine) Build(ev *contracts.Evaluation, version *contracts.PolicyVersion, packName string,
	relevant []*contracts.PolicyVersion, signals []contracts.Signal) (*contracts.Exception, error) {
	if ev.Result != contracts.ResultFail {
		return nil, fmt.Errorf("%w: evaluation %s has result %s, only fail raises",
			contracts.ErrState, ev.ID, ev.Result)
	}

	fingerprint, err := Fingerprint(version.ID, signals, version.Rules.DimensionFields)
	if err != nil {
		return nil, err
	}

	// The evaluated version is always relevant to its own breach even
	// when archived between evaluation and raise.
	withSelf := relevant
	found := false
	for _, v := range relevant {
		if v.ID == version.ID {
			found = true
			break
		}
	}
	if !found {
		withSelf = append(append([]*contracts.PolicyVersion{}, relevant...), version)
	}

	options, err := e.pipeline.Instantiate(packName, withSelf, latestSnapshot(signals))
	if err != nil {
		return nil, err
	}

	return &contracts.Exception{
		ID:           uuid.New().String(),
		EvaluationID: ev.ID,
		Fingerprint:  fingerprint,
		Severity:     ev.Details.Severity,
		Status:       contracts.ExceptionOpen,
		Title:        breachTitle(packName, ev.Details),
		Context:      breachContext(ev.Details),
		Options:      options,
		RaisedAt:     ev.EvaluatedAt,
	}, nil
}

// latestSnapshot picks the capability snapshot to filter against: the
// most recently captured one among the contributing signals, signal id
// as the deterministic tie break. Nil when no signal carries one.
func latestSnapshot(signals []contracts.Signal) *contracts.CapabilitySnapshot {
	var (
		best   *contracts.CapabilitySnapshot
		bestID string
	)
	for i := range signals {
		snap := signals[i].CapabilitySnapshot
		if snap == nil {
			continue
		}
		if best == nil || snap.CapturedAt.After(best.CapturedAt) ||
			(snap.CapturedAt.Equal(best.CapturedAt) && signals[i].ID > bestID) {
			best = snap
			bestID = signals[i].ID
		}
	}
	return best
}

func breachTitle(packName string, details contracts.EvaluationDetails) string {
	names := firedNames(details)
	if len(names) == 0 {
		return fmt.Sprintf("%s policy breach", packName)
	}
	return fmt.Sprintf("%s policy breach: %s", packName, strings.Join(names, ", "))
}

func breachContext(details contracts.EvaluationDetails) string {
	var parts []string
	for _, f := range details.Fired {
		parts = append(parts, fmt.Sprintf("%s observed %s against threshold %s on signal %s",
			f.Predicate, f.Observed, f.Threshold, f.SignalID))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func firedNames(details contracts.EvaluationDetails) []string {
	set := make(map[string]bool)
	for _, f := range details.Fired {
		set[f.Predicate] = true
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
