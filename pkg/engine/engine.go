// Package engine orchestrates one evaluation pass: resolve thresholds,
// run the rules, classify, derive trend from the ledger, compose the
// judgment, and append it. Passes for the same entity are serialized so
// the chain never forks; passes for different entities run concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/careops/spine/pkg/classify"
	"github.com/careops/spine/pkg/compose"
	"github.com/careops/spine/pkg/contracts"
	"github.com/careops/spine/pkg/ledger"
	"github.com/careops/spine/pkg/rules"
	"github.com/careops/spine/pkg/thresholds"
)

// Provider is the observability surface the engine reports through.
// pkg/observability satisfies it; tests use fakes or leave it nil.
type Provider interface {
	StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	RecordEvaluation(ctx context.Context, entityType contracts.EntityType, class contracts.Classification, duration time.Duration, ruleFailures int)
	RecordAppendFailure(ctx context.Context, entityType contracts.EntityType)
}

// Engine is the deterministic classification core. It holds no mutable
// entity state of its own; everything derived lives in the ledger.
type Engine struct {
	registry  *thresholds.Registry
	evaluator *rules.Evaluator
	store     ledger.Store
	archiver  ledger.Archiver
	obs       Provider
	logger    *slog.Logger
	clock     func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithEvaluator replaces the default rule evaluator.
func WithEvaluator(ev *rules.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithArchiver attaches a best-effort cold-storage archiver.
func WithArchiver(a ledger.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithObservability attaches tracing and metrics.
func WithObservability(p Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// New creates an Engine over a threshold registry and a ledger store.
func New(registry *thresholds.Registry, store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		evaluator: rules.NewEvaluator(),
		store:     store,
		logger:    slog.Default().With("component", "engine"),
		clock:     time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateRequest is one evaluation pass for one entity. Observations
// must already be normalized; Rejections carries the normalizer's
// refusals so they surface in the judgment's unknowns.
type EvaluateRequest struct {
	EntityID   string
	EntityType contracts.EntityType

	// ConfigVersion pins the threshold pack; empty means latest.
	ConfigVersion string

	Observations []contracts.Observation
	Rejections   []string
}

// Evaluate runs one full pass and appends the resulting judgment to the
// ledger. The append is the only hard failure: threshold gaps, rule
// failures, and missing signals all degrade into the judgment itself.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) (contracts.Judgment, error) {
	if req.EntityID == "" {
		return contracts.Judgment{}, fmt.Errorf("engine: entity id is required")
	}
	if !contracts.KnownEntityType(req.EntityType) {
		return contracts.Judgment{}, fmt.Errorf("engine: unknown entity type %q", req.EntityType)
	}

	start := e.clock()
	if e.obs != nil {
		var span trace.Span
		ctx, span = e.obs.StartSpan(ctx, "spine.evaluate",
			trace.WithAttributes(
				attribute.String("entity.id", req.EntityID),
				attribute.String("entity.type", string(req.EntityType)),
			),
		)
		defer span.End()
	}

	unlock := e.lockEntity(req.EntityID)
	defer unlock()

	set, configGap, err := e.resolveSet(req)
	if err != nil {
		return contracts.Judgment{}, err
	}

	report := e.evaluator.Evaluate(req.Observations, set)
	if configGap != "" {
		report.Unknowns = append(report.Unknowns, configGap)
	}
	verdict := compose.CoverageFloor(classify.Classify(report.Findings), report)

	history, err := e.store.History(ctx, req.EntityID, 0)
	if err != nil {
		return contracts.Judgment{}, fmt.Errorf("engine: read history for %s: %w", req.EntityID, err)
	}

	now := e.clock()
	judgment := compose.Compose(compose.Input{
		EntityID:       req.EntityID,
		EntityType:     req.EntityType,
		EvaluatedAt:    now,
		ConfigVersion:  set.Version,
		Observations:   req.Observations,
		Report:         report,
		Rejections:     req.Rejections,
		Classification: verdict,
		Trend:          classify.TrendOf(verdict, history),
		DaysInState:    classify.DaysInState(now, verdict, history),
		Set:            set,
	})

	entry, err := e.store.Append(ctx, judgment)
	if err != nil {
		if e.obs != nil {
			e.obs.RecordAppendFailure(ctx, req.EntityType)
		}
		return contracts.Judgment{}, fmt.Errorf("engine: %w", err)
	}

	e.logger.InfoContext(ctx, "judgment appended",
		"entity_id", req.EntityID,
		"entity_type", req.EntityType,
		"classification", judgment.Classification,
		"trend", judgment.Trend,
		"state_streak", classify.StateStreak(judgment.Classification, history),
		"sequence", entry.Sequence,
		"config_version", judgment.ConfigVersion,
		"rule_failures", report.RuleFailures,
	)

	if e.archiver != nil {
		if err := e.archiver.ArchiveEntry(ctx, entry); err != nil {
			e.logger.WarnContext(ctx, "ledger archive failed",
				"entity_id", req.EntityID, "sequence", entry.Sequence, "error", err)
		}
	}
	if e.obs != nil {
		e.obs.RecordEvaluation(ctx, req.EntityType, judgment.Classification, e.clock().Sub(start), report.RuleFailures)
	}

	return judgment, nil
}

// resolveSet resolves the entity's thresholds. A pack that has no
// section for the entity type is a configuration gap, not a crash: the
// pass continues with an empty set and the gap joins the judgment's
// unknowns, which also floors the verdict at CONCERNING. A pinned
// version that was never published is still a hard error, since the
// caller asked for configuration that does not exist.
func (e *Engine) resolveSet(req EvaluateRequest) (contracts.ThresholdSet, string, error) {
	set, err := e.registry.Resolve(req.EntityID, req.EntityType, req.ConfigVersion)
	if err == nil {
		return set, "", nil
	}

	var resErr *thresholds.ResolutionError
	if errors.As(err, &resErr) && resErr.Code == thresholds.CodeNoEntityConfiguration {
		gap := fmt.Sprintf("%v; judged without thresholds pending a configuration fix", resErr)
		return contracts.ThresholdSet{
			Version:    resErr.Version,
			EntityType: req.EntityType,
		}, gap, nil
	}
	return contracts.ThresholdSet{}, "", fmt.Errorf("engine: resolve thresholds for %s: %w", req.EntityID, err)
}

// GetHistory returns the entity's ledger entries, newest first.
func (e *Engine) GetHistory(ctx context.Context, entityID string, limit int) ([]contracts.LedgerEntry, error) {
	return e.store.History(ctx, entityID, limit)
}

// lockEntity serializes evaluations per entity.
func (e *Engine) lockEntity(entityID string) func() {
	e.lockMu.Lock()
	mu, ok := e.locks[entityID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[entityID] = mu
	}
	e.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
