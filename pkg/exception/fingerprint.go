// Package exception converts failing evaluations into fingerprint-
// deduplicated exceptions carrying symmetric, risk-annotated resolution
// options.
package exception

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tracelight-io/tracelight/pkg/canonicalize"
	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// Fingerprint computes the coarse dedup key for a breach: policy version,
// the set of contributing signal types, and the canonicalized values of
// the rule's dimension fields. Deliberately coarser than the evaluation
// input hash so repeated breaches of one underlying condition collapse
// into one open exception.
func Fingerprint(policyVersionID string, signals []contracts.Signal, dimensionFields []string) (string, error) {
	types, dimensions, err := typesAndDimensions(signals, dimensionFields)
	if err != nil {
		return "", err
	}
	return canonicalize.CanonicalHash(struct {
		PolicyVersionID string              `json:"policy_version_id"`
		SignalTypes     []string            `json:"signal_types"`
		Dimensions      map[string][]string `json:"dimensions"`
	}{policyVersionID, types, dimensions})
}

// BreachKey computes the version-independent identity of a breach: the
// contributing signal types and dimension values with the policy version
// left out. Replay comparison correlates exceptions across versions with
// it; the persisted fingerprint stays version-scoped.
func BreachKey(signals []contracts.Signal, dimensionFields []string) (string, error) {
	types, dimensions, err := typesAndDimensions(signals, dimensionFields)
	if err != nil {
		return "", err
	}
	return canonicalize.CanonicalHash(struct {
		SignalTypes []string            `json:"signal_types"`
		Dimensions  map[string][]string `json:"dimensions"`
	}{types, dimensions})
}

func typesAndDimensions(signals []contracts.Signal, dimensionFields []string) ([]string, map[string][]string, error) {
	typeSet := make(map[string]bool)
	for i := range signals {
		typeSet[signals[i].SignalType] = true
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	dimensions := make(map[string][]string, len(dimensionFields))
	for _, field := range dimensionFields {
		valueSet := make(map[string]bool)
		for i := range signals {
			value, ok, err := payloadValue(signals[i].Payload, field)
			if err != nil {
				return nil, nil, fmt.Errorf("signal %s: %w", signals[i].ID, err)
			}
			if ok {
				valueSet[value] = true
			}
		}
		values := make([]string, 0, len(valueSet))
		for v := range valueSet {
			values = append(values, v)
		}
		sort.Strings(values)
		dimensions[field] = values
	}
	return types, dimensions, nil
}

// payloadValue extracts a top-level payload field as its canonical JSON
// string form.
func payloadValue(payload json.RawMessage, field string) (string, bool, error) {
	normalized, err := canonicalize.NormalizePayload(payload)
	if err != nil {
		return "", false, err
	}
	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return "", false, err
	}
	value, ok := obj[field]
	if !ok {
		return "", false, nil
	}
	canonical, err := canonicalize.JCS(value)
	if err != nil {
		return "", false, err
	}
	return string(canonical), true, nil
}
