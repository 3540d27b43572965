// Package evaluator applies one policy version to a canonicalized signal
// set. The core is a pure function of its inputs; the engine around it
// adds input-hash idempotency, lifecycle enforcement and auditing.
package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/tracelight-io/tracelight/pkg/canonicalize"
	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// decodedSignal pairs a signal with its canonicalized payload in two
// forms: json.Number values for comparisons, native values for CEL.
type decodedSignal struct {
	signal   *contracts.Signal
	values   map[string]any
	celInput map[string]any
}

func decodeSignals(signals []contracts.Signal) ([]decodedSignal, error) {
	out := make([]decodedSignal, 0, len(signals))
	for i := range signals {
		payload, err := canonicalize.NormalizePayload(signals[i].Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: signal %s: %v", contracts.ErrValidation, signals[i].ID, err)
		}

		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		var numeric map[string]any
		if err := dec.Decode(&numeric); err != nil {
			return nil, fmt.Errorf("%w: signal %s payload is not an object: %v", contracts.ErrValidation, signals[i].ID, err)
		}

		var native map[string]any
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, fmt.Errorf("%w: signal %s: %v", contracts.ErrValidation, signals[i].ID, err)
		}

		out = append(out, decodedSignal{signal: &signals[i], values: numeric, celInput: native})
	}
	return out, nil
}

// applyRules runs every predicate and derives (result, details). Pure:
// no clock, no store, no live state.
func applyRules(rules contracts.RuleDefinition, decoded []decodedSignal, guards *celEvaluator) (contracts.EvaluationResult, contracts.EvaluationDetails, error) {
	var details contracts.EvaluationDetails

	for _, p := range rules.Predicates {
		if !p.Op.Valid() {
			return "", details, fmt.Errorf("%w: predicate %s has unknown operator %q", contracts.ErrValidation, p.Name, p.Op)
		}

		comparable := false
		for _, ds := range decoded {
			if p.SignalType != "" && ds.signal.SignalType != p.SignalType {
				continue
			}
			observed, ok := ds.values[p.Field]
			if !ok {
				continue
			}
			threshold, ok := thresholdValue(p, ds)
			if !ok {
				continue
			}
			comparable = true

			breach, err := compare(p.Op, observed, threshold)
			if err != nil {
				return "", details, fmt.Errorf("%w: predicate %s: %v", contracts.ErrValidation, p.Name, err)
			}
			if !breach {
				continue
			}
			if p.Expr != "" {
				pass, err := guards.Eval(p.Expr, ds.celInput)
				if err != nil {
					return "", details, fmt.Errorf("%w: predicate %s: %v", contracts.ErrValidation, p.Name, err)
				}
				if !pass {
					continue
				}
			}
			details.Fired = append(details.Fired, contracts.PredicateOutcome{
				Predicate: p.Name,
				SignalID:  ds.signal.ID,
				Observed:  stringify(observed),
				Threshold: stringify(threshold),
				Severity:  p.Severity,
			})
			details.Severity = contracts.MaxSeverity(details.Severity, p.Severity)
		}

		// A required field absent from every supplied signal is never
		// defaulted; the predicate is indeterminate.
		if !comparable {
			details.Indeterminate = append(details.Indeterminate, p.Name)
		}
	}

	switch {
	case len(details.Fired) > 0:
		return contracts.ResultFail, details, nil
	case len(details.Indeterminate) > 0:
		return contracts.ResultInconclusive, details, nil
	default:
		return contracts.ResultPass, details, nil
	}
}

// thresholdValue resolves the predicate's comparison target: a literal or
// another payload field of the same signal.
func thresholdValue(p contracts.Predicate, ds decodedSignal) (any, bool) {
	if p.ThresholdField != "" {
		v, ok := ds.values[p.ThresholdField]
		return v, ok
	}
	if p.Threshold != "" {
		return p.Threshold, true
	}
	return nil, false
}

// compare applies op to two canonical JSON values. Numbers compare
// numerically as exact rationals, so integer amounts beyond float64
// precision still order correctly; strings compare for equality only.
// Order operators on non-numeric operands are an error, never a silent
// pass.
func compare(op contracts.CompareOp, observed, threshold any) (bool, error) {
	if on, ok := asRat(observed); ok {
		if tn, ok := asRat(threshold); ok {
			return compareRat(op, on, tn)
		}
	}

	os, oOK := observed.(string)
	ts, tOK := threshold.(string)
	if oOK && tOK {
		switch op {
		case contracts.OpEQ:
			return os == ts, nil
		case contracts.OpNEQ:
			return os != ts, nil
		default:
			return false, fmt.Errorf("operator %s requires numeric operands, got strings", op)
		}
	}

	ob, oOK := observed.(bool)
	tb, tOK := threshold.(bool)
	if oOK && tOK {
		switch op {
		case contracts.OpEQ:
			return ob == tb, nil
		case contracts.OpNEQ:
			return ob != tb, nil
		default:
			return false, fmt.Errorf("operator %s requires numeric operands, got booleans", op)
		}
	}

	return false, fmt.Errorf("operands %v and %v are not comparable", observed, threshold)
}

func compareRat(op contracts.CompareOp, a, b *big.Rat) (bool, error) {
	c := a.Cmp(b)
	switch op {
	case contracts.OpGT:
		return c > 0, nil
	case contracts.OpGTE:
		return c >= 0, nil
	case contracts.OpLT:
		return c < 0, nil
	case contracts.OpLTE:
		return c <= 0, nil
	case contracts.OpEQ:
		return c == 0, nil
	case contracts.OpNEQ:
		return c != 0, nil
	}
	return false, fmt.Errorf("unknown operator %s", op)
}

func asRat(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case json.Number:
		r, ok := new(big.Rat).SetString(n.String())
		if !ok {
			return nil, false
		}
		return r, true
	case float64:
		r := new(big.Rat).SetFloat64(n)
		if r == nil {
			return nil, false
		}
		return r, true
	}
	return nil, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
