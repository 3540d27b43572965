// Command tracelight runs a self-contained demonstration of the
// governance kernel: seed a treasury policy, ingest a breaching signal,
// evaluate, raise the exception, record a decision and emit the
// evidence pack.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/config"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/kernel"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("tracelight: %v", err)
	}
}

func run() error {
	cfg := config.Load()
	k, err := kernel.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = k.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()

	policy := &contracts.Policy{
		ID:          uuid.New().String(),
		Name:        "treasury-exposure",
		Pack:        "treasury",
		Description: "Counterparty exposure limits",
	}
	if err := k.Store().CreatePolicy(ctx, policy); err != nil {
		return err
	}

	version := &contracts.PolicyVersion{
		ID:            uuid.New().String(),
		PolicyID:      policy.ID,
		VersionNumber: 1,
		Status:        contracts.VersionActive,
		Rules: contracts.RuleDefinition{
			Predicates: []contracts.Predicate{{
				Name:       "exposure_over_limit",
				SignalType: "exposure_report",
				Field:      "exposure_usd",
				Op:         contracts.OpGT,
				Threshold:  "1000000",
				Severity:   contracts.SeverityHigh,
			}},
			DimensionFields: []string{"counterparty"},
		},
		AllowedActionTypes: []string{"adjust_limit", "escalate", "no_action", "reduce_position"},
		ValidFrom:          now.Add(-time.Hour),
	}
	if err := k.Store().CreatePolicyVersion(ctx, version); err != nil {
		return err
	}

	signal := &contracts.Signal{
		Pack:        "treasury",
		SignalType:  "exposure_report",
		Payload:     json.RawMessage(`{"counterparty": "acme-capital", "exposure_usd": 1250000}`),
		Source:      "risk-feed",
		Reliability: contracts.ReliabilityHigh,
		ObservedAt:  now,
		IngestedAt:  now,
		CapabilitySnapshot: &contracts.CapabilitySnapshot{
			CapturedAt:      now,
			FeasibleActions: []string{"adjust_limit", "escalate", "no_action", "reduce_position", "pause_automation"},
		},
	}
	if _, err := k.IngestSignal(ctx, signal); err != nil {
		return err
	}

	ev, err := k.Evaluate(ctx, version.ID, []string{signal.ID}, now)
	if err != nil {
		return err
	}
	fmt.Printf("evaluation %s: %s (input hash %s)\n", ev.ID, ev.Result, ev.InputHash)

	ex, err := k.RaiseException(ctx, ev.ID)
	if err != nil {
		return err
	}
	if ex == nil {
		fmt.Println("no exception raised")
		return nil
	}
	fmt.Printf("exception %s: %s\n", ex.ID, ex.Title)
	for _, opt := range ex.Options {
		fmt.Printf("  option %-18s %s (%s)\n", opt.ActionType, opt.Label, opt.Reversibility)
	}

	chosen := optionByAction(ex, "reduce_position")
	if chosen == nil {
		return fmt.Errorf("reduce_position option missing from exception %s", ex.ID)
	}
	d, err := k.RecordDecision(ctx, contracts.DecisionInput{
		ExceptionID:    ex.ID,
		ChosenOptionID: chosen.ID,
		Rationale:      "Exposure breach confirmed against settlement data; trimming position is the lowest-risk correction.",
		Assumptions:    []string{"risk feed figures reconcile with custodian records"},
		DecidedBy:      "treasury-officer",
		DecidedAt:      now.Add(time.Minute),
	})
	if err != nil {
		return err
	}
	fmt.Printf("decision %s: %s by %s\n", d.ID, chosen.ActionType, d.DecidedBy)

	packRecord, err := k.GenerateEvidence(ctx, d.ID, now.Add(2*time.Minute))
	if err != nil {
		return err
	}
	fmt.Printf("evidence pack %s: content hash %s\n", packRecord.ID, packRecord.ContentHash)

	rendered, err := k.ExportEvidence(ctx, d.ID, contracts.ExportJSON)
	if err != nil {
		return err
	}
	return os.WriteFile("evidence-"+d.ID+".json", rendered, 0o644)
}

func optionByAction(ex *contracts.Exception, actionType string) *contracts.ResolutionOption {
	for i := range ex.Options {
		if ex.Options[i].ActionType == actionType {
			return &ex.Options[i]
		}
	}
	return nil
}
