package pack

import "github.com/tracelight-io/tracelight/pkg/contracts"

// builtinPacks returns the two packs shipped with the kernel. Additional
// packs load from YAML (see LoadFile).
func builtinPacks() []Definition {
	return []Definition{treasuryPack(), wealthPack()}
}

func treasuryPack() Definition {
	return Definition{
		Name: "treasury",
		AllowedActionTypes: []string{
			"adjust_limit",
			"escalate",
			NoAction,
			"pause_automation",
			"reduce_position",
		},
		SafetyActionTypes: []string{"pause_automation"},
		SnapshotSchema: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "captured_at": {"type": "string"},
    "feasible_actions": {"type": "array", "items": {"type": "string"}},
    "state": {"type": "object"}
  },
  "required": ["captured_at", "feasible_actions"]
}`,
		Templates: []OptionTemplate{
			{
				ActionType:       NoAction,
				Label:            "Take no action",
				Description:      "Acknowledge the breach and keep current positions unchanged.",
				Reversibility:    contracts.Reversible,
				Implications:     []string{"Exposure remains above the configured limit."},
				PolicyReferences: []string{"treasury/limits"},
			},
			{
				ActionType:       "escalate",
				Label:            "Escalate to risk committee",
				Description:      "Hand the breach to the risk committee for out-of-band review.",
				Reversibility:    contracts.Reversible,
				RiskAnnotations:  []string{"adds review latency"},
				Implications:     []string{"Breach stays open until the committee responds."},
				PolicyReferences: []string{"treasury/limits", "treasury/escalation"},
			},
			{
				ActionType:       "pause_automation",
				Label:            "Pause automated trading",
				Description:      "Suspend automated order flow for the affected desk.",
				Reversibility:    contracts.CostlyToReverse,
				RiskAnnotations:  []string{"halts hedging", "manual restart required"},
				Implications:     []string{"Open orders are left unmanaged while paused."},
				PolicyReferences: []string{"treasury/automation"},
			},
			{
				ActionType:       "reduce_position",
				Label:            "Reduce position to limit",
				Description:      "Unwind exposure until the position is back inside the limit.",
				Reversibility:    contracts.CostlyToReverse,
				RiskAnnotations:  []string{"realizes market impact", "crystallizes P&L"},
				Implications:     []string{"Re-entering the position incurs transaction costs."},
				PolicyReferences: []string{"treasury/limits"},
			},
			{
				ActionType:       "adjust_limit",
				Label:            "Raise the position limit",
				Description:      "Override the configured limit to legitimize the current exposure.",
				Reversibility:    contracts.Irreversible,
				RiskAnnotations:  []string{"weakens the control", "precedent-setting"},
				Implications:     []string{"All future evaluations run against the raised limit."},
				PolicyReferences: []string{"treasury/limits", "treasury/overrides"},
				HardOverride:     true,
			},
		},
	}
}

func wealthPack() Definition {
	return Definition{
		Name: "wealth",
		AllowedActionTypes: []string{
			"escalate",
			"freeze_account",
			NoAction,
			"notify_client",
			"rebalance",
		},
		SafetyActionTypes: []string{"freeze_account"},
		SnapshotSchema: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "captured_at": {"type": "string"},
    "feasible_actions": {"type": "array", "items": {"type": "string"}},
    "state": {"type": "object"}
  },
  "required": ["captured_at", "feasible_actions"]
}`,
		Templates: []OptionTemplate{
			{
				ActionType:       NoAction,
				Label:            "Take no action",
				Description:      "Acknowledge the drift and leave the portfolio unchanged.",
				Reversibility:    contracts.Reversible,
				Implications:     []string{"Allocation remains outside the mandate band."},
				PolicyReferences: []string{"wealth/mandate"},
			},
			{
				ActionType:       "escalate",
				Label:            "Escalate to advisor",
				Description:      "Route the breach to the client's advisor for review.",
				Reversibility:    contracts.Reversible,
				Implications:     []string{"Breach stays open pending advisor response."},
				PolicyReferences: []string{"wealth/mandate", "wealth/escalation"},
			},
			{
				ActionType:       "rebalance",
				Label:            "Rebalance to mandate",
				Description:      "Trade the portfolio back inside the mandate band.",
				Reversibility:    contracts.CostlyToReverse,
				RiskAnnotations:  []string{"realizes gains/losses", "may trigger tax events"},
				Implications:     []string{"Transaction costs are borne by the client."},
				PolicyReferences: []string{"wealth/mandate"},
			},
			{
				ActionType:       "notify_client",
				Label:            "Notify the client",
				Description:      "Inform the client of the drift without trading.",
				Reversibility:    contracts.Reversible,
				Implications:     []string{"Disclosure obligations are met; drift persists."},
				PolicyReferences: []string{"wealth/disclosure"},
			},
			{
				ActionType:       "freeze_account",
				Label:            "Freeze the account",
				Description:      "Block all trading on the account pending review.",
				Reversibility:    contracts.CostlyToReverse,
				RiskAnnotations:  []string{"blocks client instructions", "regulatory notification may apply"},
				Implications:     []string{"Client cannot trade until the freeze is lifted."},
				PolicyReferences: []string{"wealth/safeguards"},
				HardOverride:     true,
			},
		},
	}
}
