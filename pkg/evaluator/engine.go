package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/canonicalize"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/observability"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Engine is the store-coupled evaluator.
type Engine struct {
	store   *store.Store
	audit   *audit.Recorder
	metrics *observability.Metrics
	guards  *celEvaluator
}

// NewEngine creates an evaluation engine.
func NewEngine(st *store.Store, rec *audit.Recorder, metrics *observability.Metrics) (*Engine, error) {
	guards, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{store: st, audit: rec, metrics: metrics, guards: guards}, nil
}

// Evaluate applies the policy version to the given signals at the explicit
// reference time.
//
// Identical inputs always land on the same input hash; a second call
// returns the existing row with CacheHit set and emits no second audit
// event. The caller owns signal relevance: a supplied signal whose type no
// predicate references is an error, never silently dropped.
func (e *Engine) Evaluate(ctx context.Context, policyVersionID string, signalIDs []string, referenceTime time.Time) (*contracts.Evaluation, error) {
	if len(signalIDs) == 0 {
		return nil, fmt.Errorf("%w: evaluation requires at least one signal", contracts.ErrValidation)
	}

	version, err := e.store.PolicyVersion(ctx, policyVersionID)
	if err != nil {
		return nil, err
	}
	if !version.ActiveAt(referenceTime) {
		return nil, &contracts.PolicyNotActiveError{
			PolicyVersionID: policyVersionID,
			Status:          version.Status,
			ReferenceTime:   referenceTime,
		}
	}

	signals, err := e.store.Signals(ctx, signalIDs)
	if err != nil {
		return nil, err
	}
	if err := checkSignalTypes(version.Rules, signals); err != nil {
		return nil, err
	}

	ev, err := e.evaluate(version, signals, referenceTime)
	if err != nil {
		return nil, err
	}

	persisted, cacheHit, err := e.store.InsertOrFetchEvaluation(ctx, ev)
	if err != nil {
		return nil, err
	}
	e.metrics.Evaluation(ctx, string(persisted.Result), cacheHit)
	if cacheHit {
		return persisted, nil
	}

	if _, err := e.audit.Record(ctx, contracts.AuditEvaluationCompleted, "evaluation", persisted.ID,
		"kernel", referenceTime, map[string]any{
			"input_hash": persisted.InputHash,
			"result":     persisted.Result,
			"cache_hit":  false,
		}); err != nil {
		return nil, err
	}
	return persisted, nil
}

// EvaluateVersion runs the deterministic core against an already-loaded
// version without lifecycle enforcement or persistence. The replay
// harness shares this path so live and replayed evaluation cannot drift.
func (e *Engine) EvaluateVersion(version *contracts.PolicyVersion, signals []contracts.Signal, referenceTime time.Time) (*contracts.Evaluation, error) {
	if err := checkSignalTypes(version.Rules, signals); err != nil {
		return nil, err
	}
	return e.evaluate(version, signals, referenceTime)
}

func (e *Engine) evaluate(version *contracts.PolicyVersion, signals []contracts.Signal, referenceTime time.Time) (*contracts.Evaluation, error) {
	inputHash, err := canonicalize.InputHash(version.ID, signals)
	if err != nil {
		return nil, err
	}

	decoded, err := decodeSignals(signals)
	if err != nil {
		return nil, err
	}
	result, details, err := applyRules(version.Rules, decoded, e.guards)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(signals))
	for i := range signals {
		ids = append(ids, signals[i].ID)
	}

	return &contracts.Evaluation{
		ID:              uuid.New().String(),
		PolicyVersionID: version.ID,
		SignalIDs:       ids,
		Result:          result,
		Details:         details,
		InputHash:       inputHash,
		EvaluatedAt:     referenceTime,
	}, nil
}

// checkSignalTypes rejects signals whose type the rule definition never
// references. A predicate without a signal_type restriction references
// every type.
func checkSignalTypes(rules contracts.RuleDefinition, signals []contracts.Signal) error {
	anyType := false
	referenced := make(map[string]bool)
	for _, p := range rules.Predicates {
		if p.SignalType == "" {
			anyType = true
			continue
		}
		referenced[p.SignalType] = true
	}
	if anyType {
		return nil
	}
	for i := range signals {
		if !referenced[signals[i].SignalType] {
			return fmt.Errorf("%w: signal %s has type %q, not referenced by the rule definition",
				contracts.ErrValidation, signals[i].ID, signals[i].SignalType)
		}
	}
	return nil
}
