// Package kernel wires the governance components into one facade: signal
// intake, evaluation, exception raising, decision recording, evidence
// generation, replay and the coprocessor boundary.
//
// Every operation takes its reference time as an explicit parameter.
// The kernel never reads a clock, generates randomness inside
// evaluation, or fetches external state; that discipline is what makes
// replay exact.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight-io/tracelight/pkg/audit"
	"github.com/tracelight-io/tracelight/pkg/config"
	"github.com/tracelight-io/tracelight/pkg/contracts"
	"github.com/tracelight-io/tracelight/pkg/coprocessor"
	"github.com/tracelight-io/tracelight/pkg/decision"
	"github.com/tracelight-io/tracelight/pkg/evaluator"
	"github.com/tracelight-io/tracelight/pkg/evidence"
	"github.com/tracelight-io/tracelight/pkg/exception"
	"github.com/tracelight-io/tracelight/pkg/observability"
	"github.com/tracelight-io/tracelight/pkg/pack"
	"github.com/tracelight-io/tracelight/pkg/replay"
	"github.com/tracelight-io/tracelight/pkg/store"
)

// Kernel is the assembled governance kernel.
type Kernel struct {
	store      *store.Store
	registry   *pack.Registry
	audit      *audit.Recorder
	metrics    *observability.Metrics
	evaluator  *evaluator.Engine
	exceptions *exception.Engine
	decisions  *decision.Recorder
	evidence   *evidence.Generator
	replay     *replay.Harness
	gateway    *coprocessor.Gateway
	queue      *coprocessor.Queue
	archiver   *evidence.Archiver
}

// Option customizes kernel construction.
type Option func(*options)

type options struct {
	auditWriter io.Writer
	metrics     bool
	archiver    *evidence.Archiver
}

// WithAuditWriter redirects the audit mirror from stdout.
func WithAuditWriter(w io.Writer) Option {
	return func(o *options) { o.auditWriter = w }
}

// WithoutMetrics disables OpenTelemetry instrument registration, for
// tests.
func WithoutMetrics() Option {
	return func(o *options) { o.metrics = false }
}

// WithArchiver supplies a pre-built evidence archiver, overriding the
// one the kernel would construct from cfg.EvidenceBucket.
func WithArchiver(a *evidence.Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// New opens the store at cfg.DatabasePath and assembles the kernel.
func New(cfg *config.Config, opts ...Option) (*Kernel, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return build(st, cfg, opts...)
}

// NewWithStore assembles the kernel over an already-open store.
func NewWithStore(st *store.Store, cfg *config.Config, opts ...Option) (*Kernel, error) {
	return build(st, cfg, opts...)
}

func build(st *store.Store, cfg *config.Config, opts ...Option) (*Kernel, error) {
	o := &options{metrics: true}
	for _, opt := range opts {
		opt(o)
	}

	registry, err := pack.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.PackFile != "" {
		if err := registry.LoadFile(cfg.PackFile); err != nil {
			return nil, err
		}
	}

	var metrics *observability.Metrics
	if o.metrics {
		if metrics, err = observability.New(); err != nil {
			return nil, err
		}
	}

	var rec *audit.Recorder
	if o.auditWriter != nil {
		rec = audit.NewRecorderWithWriter(st, o.auditWriter)
	} else {
		rec = audit.NewRecorder(st)
	}

	eval, err := evaluator.NewEngine(st, rec, metrics)
	if err != nil {
		return nil, err
	}
	exc := exception.NewEngine(st, exception.NewPipeline(registry), rec, metrics)

	archiver := o.archiver
	if archiver == nil && cfg.EvidenceBucket != "" {
		if archiver, err = evidence.NewArchiverFromEnv(context.Background(), cfg.EvidenceBucket, cfg.EvidencePrefix); err != nil {
			return nil, err
		}
	}

	return &Kernel{
		store:      st,
		registry:   registry,
		audit:      rec,
		metrics:    metrics,
		evaluator:  eval,
		exceptions: exc,
		decisions:  decision.NewRecorder(st, rec, metrics),
		evidence:   evidence.NewGenerator(st, rec, metrics),
		replay:     replay.NewHarness(st, eval, exc, rec, metrics),
		gateway:    coprocessor.NewGateway(st, cfg.CoprocessorQPS, cfg.CoprocessorBurst),
		queue:      coprocessor.NewQueue(st, rec),
		archiver:   archiver,
	}, nil
}

// Close releases the underlying store.
func (k *Kernel) Close() error { return k.store.Close() }

// Store exposes the underlying store for administrative access.
func (k *Kernel) Store() *store.Store { return k.store }

// Registry exposes the pack registry.
func (k *Kernel) Registry() *pack.Registry { return k.registry }

// Gateway exposes the coprocessor's read-only query surface.
func (k *Kernel) Gateway() *coprocessor.Gateway { return k.gateway }

// Queue exposes the coprocessor approval queue.
func (k *Kernel) Queue() *coprocessor.Queue { return k.queue }

// IngestSignal validates and persists one signal. The capability
// snapshot, when present, is checked against the pack's schema here;
// evaluation never validates or fetches state.
func (k *Kernel) IngestSignal(ctx context.Context, s *contracts.Signal) (*contracts.Signal, error) {
	if s.Pack == "" || s.SignalType == "" {
		return nil, fmt.Errorf("%w: signal pack and signal_type are required", contracts.ErrValidation)
	}
	if !s.Reliability.Valid() {
		return nil, fmt.Errorf("%w: unknown reliability %q", contracts.ErrValidation, s.Reliability)
	}
	if s.ObservedAt.IsZero() {
		return nil, fmt.Errorf("%w: observed_at is required", contracts.ErrValidation)
	}
	if _, err := k.registry.Get(s.Pack); err != nil {
		return nil, err
	}
	if s.CapabilitySnapshot != nil {
		raw, err := json.Marshal(s.CapabilitySnapshot)
		if err != nil {
			return nil, fmt.Errorf("%w: capability snapshot: %v", contracts.ErrValidation, err)
		}
		if err := k.registry.ValidateSnapshot(s.Pack, raw); err != nil {
			return nil, err
		}
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if err := k.store.InsertSignal(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Evaluate runs a policy version against stored signals at the given
// reference time.
func (k *Kernel) Evaluate(ctx context.Context, policyVersionID string, signalIDs []string, referenceTime time.Time) (*contracts.Evaluation, error) {
	return k.evaluator.Evaluate(ctx, policyVersionID, signalIDs, referenceTime)
}

// RaiseException raises (or suppresses into) an exception for a failing
// evaluation. Returns nil for pass and inconclusive results.
func (k *Kernel) RaiseException(ctx context.Context, evaluationID string) (*contracts.Exception, error) {
	return k.exceptions.Raise(ctx, evaluationID)
}

// RecordDecision resolves an open exception with an immutable decision.
func (k *Kernel) RecordDecision(ctx context.Context, in contracts.DecisionInput) (*contracts.Decision, error) {
	return k.decisions.Record(ctx, in)
}

// GenerateEvidence builds (or returns) the evidence pack for a decision.
func (k *Kernel) GenerateEvidence(ctx context.Context, decisionID string, generatedAt time.Time) (*contracts.EvidencePack, error) {
	return k.evidence.Generate(ctx, decisionID, generatedAt)
}

// ExportEvidence renders a decision's pack in the requested format.
func (k *Kernel) ExportEvidence(ctx context.Context, decisionID string, format contracts.ExportFormat) ([]byte, error) {
	p, err := k.evidence.PackForDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return evidence.Export(p, format)
}

// ArchiveEvidence verifies and uploads a decision's evidence pack to
// the configured object store bucket, returning the object key. Fails
// with ErrState when no archiver is configured.
func (k *Kernel) ArchiveEvidence(ctx context.Context, decisionID string) (string, error) {
	if k.archiver == nil {
		return "", fmt.Errorf("%w: no evidence archive bucket configured", contracts.ErrState)
	}
	p, err := k.evidence.PackForDecision(ctx, decisionID)
	if err != nil {
		return "", err
	}
	return k.archiver.Archive(ctx, p)
}

// Replay re-runs a window of stored signals against a policy version in
// the isolated replay namespace.
func (k *Kernel) Replay(ctx context.Context, packName, policyVersionID string, window contracts.SignalWindow, startedAt time.Time) (*contracts.ReplayResult, error) {
	return k.replay.Run(ctx, packName, policyVersionID, window, startedAt)
}

// CompareReplays diffs two replay runs.
func (k *Kernel) CompareReplays(ctx context.Context, baselineID, comparisonID string) (*contracts.ComparisonResult, error) {
	return k.replay.Compare(ctx, baselineID, comparisonID)
}
