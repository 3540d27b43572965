package pack_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/pack"
)

func TestNewRegistry_BuiltinsLoad(t *testing.T) {
	r, err := pack.NewRegistry()
	require.NoError(t, err)

	for _, name := range []string{"treasury", "wealth"} {
		def, err := r.Get(name)
		require.NoError(t, err)
		assert.Contains(t, def.AllowedActionTypes, pack.NoAction)

		tmpl, err := r.Template(name, pack.NoAction)
		require.NoError(t, err)
		assert.Equal(t, contracts.Reversible, tmpl.Reversibility)
		assert.NotEmpty(t, tmpl.PolicyReferences)
	}
}

func TestRegister_RequiresNoAction(t *testing.T) {
	r, err := pack.NewRegistry()
	require.NoError(t, err)

	err = r.Register(pack.Definition{
		Name:               "custody",
		AllowedActionTypes: []string{"freeze"},
		Templates: []pack.OptionTemplate{{
			ActionType: "freeze", Label: "Freeze", Reversibility: contracts.Reversible,
			PolicyReferences: []string{"pol-1"},
		}},
	})
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestRegister_SafetyActionsMustBeEnumerated(t *testing.T) {
	r, err := pack.NewRegistry()
	require.NoError(t, err)

	err = r.Register(pack.Definition{
		Name:               "custody",
		AllowedActionTypes: []string{"no_action"},
		SafetyActionTypes:  []string{"halt_everything"},
		Templates: []pack.OptionTemplate{{
			ActionType: "no_action", Label: "No action", Reversibility: contracts.Reversible,
			PolicyReferences: []string{"pol-1"},
		}},
	})
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestRegister_TemplateNeedsPolicyReferences(t *testing.T) {
	r, err := pack.NewRegistry()
	require.NoError(t, err)

	err = r.Register(pack.Definition{
		Name:               "custody",
		AllowedActionTypes: []string{"no_action"},
		Templates: []pack.OptionTemplate{{
			ActionType: "no_action", Label: "No action", Reversibility: contracts.Reversible,
		}},
	})
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestLoadYAML_RegistersPack(t *testing.T) {
	r, err := pack.NewRegistry()
	require.NoError(t, err)

	doc := `
packs:
  - name: custody
    allowed_action_types: [no_action, revoke_access]
    safety_action_types: [revoke_access]
    templates:
      - action_type: no_action
        label: "Take no action"
        description: "Acknowledge and keep the current posture."
        reversibility: reversible
        policy_references: ["custody-handbook-1"]
      - action_type: revoke_access
        label: "Revoke access"
        description: "Revoke the implicated credential set."
        reversibility: costly_to_reverse
        risk_annotations: ["interrupts downstream settlement jobs"]
        policy_references: ["custody-handbook-4"]
`
	require.NoError(t, r.LoadYAML([]byte(doc)))

	def, err := r.Get("custody")
	require.NoError(t, err)
	assert.Equal(t, []string{"revoke_access"}, def.SafetyActionTypes)

	tmpl, err := r.Template("custody", "revoke_access")
	require.NoError(t, err)
	assert.Equal(t, contracts.CostlyToReverse, tmpl.Reversibility)
}

func TestValidateSnapshot(t *testing.T) {
	r, err := pack.NewRegistry()
	require.NoError(t, err)

	valid := json.RawMessage(`{"captured_at": "2026-05-10T09:00:00Z", "feasible_actions": ["no_action"]}`)
	assert.NoError(t, r.ValidateSnapshot("treasury", valid))

	missing := json.RawMessage(`{"feasible_actions": ["no_action"]}`)
	assert.ErrorIs(t, r.ValidateSnapshot("treasury", missing), contracts.ErrValidation)
}
