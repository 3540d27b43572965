package exception

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/pack"
)

// Pipeline instantiates the resolution option set for a breach. The
// sequence is fixed: collect the relevant versions' licensed action
// types, union in the mandatory no-action entry and the pack's safety
// actions, filter by capability snapshot feasibility, instantiate from
// the pack's static template table, and validate the invariants. Any
// violation aborts the raise with a ContractViolationError before
// anything is persisted.
type Pipeline struct {
	registry *pack.Registry
}

// NewPipeline creates an option pipeline over the given registry.
func NewPipeline(registry *pack.Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// Instantiate builds the option list for an exception in packName, given
// the policy versions relevant at the breach instant and the capability
// snapshot attached to the contributing signals. A nil snapshot means
// feasibility is unknown and every action stays on the table.
//
// The result is ordered lexicographically by action type and is a pure
// function of its inputs, so replaying the same breach yields a
// byte-identical option list.
func (p *Pipeline) Instantiate(packName string, versions []*contracts.PolicyVersion, snapshot *contracts.CapabilitySnapshot) ([]contracts.ResolutionOption, error) {
	def, err := p.registry.Get(packName)
	if err != nil {
		return nil, err
	}

	actionTypes := map[string]bool{pack.NoAction: true}
	for _, v := range versions {
		for _, at := range v.AllowedActionTypes {
			actionTypes[at] = true
		}
	}
	for _, at := range def.SafetyActionTypes {
		actionTypes[at] = true
	}

	ordered := make([]string, 0, len(actionTypes))
	for at := range actionTypes {
		ordered = append(ordered, at)
	}
	sort.Strings(ordered)

	options := make([]contracts.ResolutionOption, 0, len(ordered))
	for _, at := range ordered {
		// The no-action entry survives every filter; an option set the
		// decider cannot decline is a contract violation.
		if at != pack.NoAction && snapshot != nil && !snapshot.Feasible(at) {
			continue
		}
		tmpl, err := p.registry.Template(packName, at)
		if err != nil {
			return nil, &contracts.ContractViolationError{
				Invariant: "option_template",
				Detail:    fmt.Sprintf("pack %s licenses action %q but carries no template for it", packName, at),
			}
		}
		options = append(options, contracts.ResolutionOption{
			ID:               optionID(packName, at),
			ActionType:       at,
			Label:            tmpl.Label,
			Description:      tmpl.Description,
			Reversibility:    tmpl.Reversibility,
			RiskAnnotations:  tmpl.RiskAnnotations,
			Implications:     tmpl.Implications,
			PolicyReferences: tmpl.PolicyReferences,
			HardOverride:     tmpl.HardOverride,
		})
	}

	if err := validateOptions(packName, def, options); err != nil {
		return nil, err
	}
	return options, nil
}

// optionID derives a stable identifier from (pack, action_type). Option
// identity must survive replay byte-for-byte, so no randomness here.
func optionID(packName, actionType string) string {
	sum := sha256.Sum256([]byte(packName + "/" + actionType))
	return "opt_" + hex.EncodeToString(sum[:8])
}

// validateOptions enforces the option-set invariants. Violations surface
// as ContractViolationError; the caller persists nothing on failure.
func validateOptions(packName string, def *pack.Definition, options []contracts.ResolutionOption) error {
	violation := func(invariant, format string, args ...any) error {
		return &contracts.ContractViolationError{
			Invariant: invariant,
			Detail:    fmt.Sprintf(format, args...),
		}
	}

	allowed := make(map[string]bool, len(def.AllowedActionTypes))
	for _, at := range def.AllowedActionTypes {
		allowed[at] = true
	}

	hasNoAction := false
	seen := make(map[string]bool, len(options))
	for i := range options {
		o := &options[i]
		if !allowed[o.ActionType] {
			return violation("enumerated_actions",
				"option %q uses action %q outside pack %s's enumerated set", o.ID, o.ActionType, packName)
		}
		if seen[o.ActionType] {
			return violation("distinct_actions",
				"action %q appears twice in the option set", o.ActionType)
		}
		seen[o.ActionType] = true
		if !o.Reversibility.Valid() {
			return violation("reversibility",
				"option %q has invalid reversibility %q", o.ID, o.Reversibility)
		}
		if len(o.PolicyReferences) == 0 {
			return violation("policy_references",
				"option %q carries no policy references", o.ID)
		}
		if i > 0 && options[i-1].ActionType >= o.ActionType {
			return violation("option_order",
				"option set is not in lexicographic action order at %q", o.ActionType)
		}
		if o.ActionType == pack.NoAction {
			hasNoAction = true
		}
	}
	if !hasNoAction {
		return violation("no_action_present",
			"option set for pack %s lacks the mandatory %q entry", packName, pack.NoAction)
	}
	return nil
}
