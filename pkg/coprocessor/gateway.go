// Package coprocessor is the boundary for advisory machine participants.
// A coprocessor reads kernel state through a rate-limited gateway and
// proposes policy changes through an approval queue; it never touches
// the kernel's write path, and nothing it produces becomes an input,
// decision or policy change without explicit human approval.
package coprocessor

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Gateway exposes the read-only query surface. Every call passes the
// rate limiter first, so a runaway coprocessor degrades to waiting
// instead of starving human traffic.
type Gateway struct {
	store   *store.Store
	limiter *rate.Limiter
}

// NewGateway creates a gateway allowing qps sustained queries with the
// given burst.
func NewGateway(st *store.Store, qps float64, burst int) *Gateway {
	return &Gateway{store: st, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (g *Gateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("coprocessor gateway: %w", err)
	}
	return nil
}

// OpenExceptions lists currently open exceptions.
func (g *Gateway) OpenExceptions(ctx context.Context) ([]*contracts.Exception, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.store.OpenExceptions(ctx)
}

// Evaluation fetches one evaluation.
func (g *Gateway) Evaluation(ctx context.Context, id string) (*contracts.Evaluation, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.store.Evaluation(ctx, id)
}

// DecisionForException fetches the decision that resolved an exception.
func (g *Gateway) DecisionForException(ctx context.Context, exceptionID string) (*contracts.Decision, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.store.DecisionForException(ctx, exceptionID)
}

// EvidenceForDecision fetches a decision's evidence pack.
func (g *Gateway) EvidenceForDecision(ctx context.Context, decisionID string) (*contracts.EvidencePack, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.store.EvidencePackForDecision(ctx, decisionID)
}

// SignalsInWindow lists a pack's signals inside the window.
func (g *Gateway) SignalsInWindow(ctx context.Context, pack string, window contracts.SignalWindow) ([]contracts.Signal, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.store.SignalsInWindow(ctx, pack, window)
}
