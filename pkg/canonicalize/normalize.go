package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// volatileKeys are payload metadata keys stripped before hashing. They
// describe transport, not the observed fact, and would otherwise make
// identical observations hash differently.
var volatileKeys = map[string]struct{}{
	"ingested_at": {},
	"received_at": {},
	"trace_id":    {},
	"request_id":  {},
	"batch_id":    {},
}

// NormalizePayload returns the canonical form of a signal payload: volatile
// metadata removed, keys sorted, numbers preserved exactly as ingested.
func NormalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize: decode payload: %w", err)
	}

	if obj, ok := generic.(map[string]any); ok {
		for k := range obj {
			if _, volatile := volatileKeys[k]; volatile || strings.HasPrefix(k, "_") {
				delete(obj, k)
			}
		}
		generic = obj
	}

	return JCS(generic)
}

// NormalizedSignal is the hashable projection of a signal: identity, type
// and canonical payload, nothing volatile.
type NormalizedSignal struct {
	ID         string          `json:"id"`
	SignalType string          `json:"signal_type"`
	Payload    json.RawMessage `json:"payload"`
}

// NormalizeSignals canonicalizes each signal payload and sorts the set by
// (signal_type, id) to remove order sensitivity.
func NormalizeSignals(signals []contracts.Signal) ([]NormalizedSignal, error) {
	out := make([]NormalizedSignal, 0, len(signals))
	for i := range signals {
		payload, err := NormalizePayload(signals[i].Payload)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", signals[i].ID, err)
		}
		out = append(out, NormalizedSignal{
			ID:         signals[i].ID,
			SignalType: signals[i].SignalType,
			Payload:    payload,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalType != out[j].SignalType {
			return out[i].SignalType < out[j].SignalType
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InputHash computes the evaluation idempotency key over the policy
// version and the normalized signal set.
func InputHash(policyVersionID string, signals []contracts.Signal) (string, error) {
	normalized, err := NormalizeSignals(signals)
	if err != nil {
		return "", err
	}
	return CanonicalHash(struct {
		PolicyVersionID string             `json:"policy_version_id"`
		Signals         []NormalizedSignal `json:"signals"`
	}{policyVersionID, normalized})
}
