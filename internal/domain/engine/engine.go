// Package engine runs registry rules in isolated, bounded batches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/insights/internal/adapters/mq/worker"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/types"
	"github.com/okian/insights/pkg/logger"
	"github.com/okian/insights/pkg/metrics"
	"github.com/okian/insights/pkg/tracing"
)

// Default engine configuration.
const (
	DefaultRuleTimeout = 10 * time.Second
	defaultWorkerMult  = 2 // multiplier for runtime.NumCPU()
)

// Outcome labels.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomePanic   = "panic"
)

// Engine evaluates rules from an injected registry against a store.
type Engine struct {
	registry *rules.Registry
	store    rules.Querier

	workers     int
	ruleTimeout time.Duration
	lookback    time.Duration
	now         func() time.Time

	pool   *worker.Pool[[]types.InsightItem]
	logger logger.Logger
	tracer trace.Tracer
}

// New creates an engine over registry and store.
func New(registry *rules.Registry, store rules.Querier, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		store:       store,
		workers:     runtime.NumCPU() * defaultWorkerMult,
		ruleTimeout: DefaultRuleTimeout,
		lookback:    rules.DefaultLookback,
		now:         time.Now,
		tracer:      tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	e.pool = worker.NewPool[[]types.InsightItem](
		worker.WithSize(e.workers),
		worker.WithTaskTimeout(e.ruleTimeout),
		worker.WithName("rules"),
		worker.WithLogger(e.logger),
	)
	metrics.UpdateRegisteredRules(registry.Len())
	return e
}

// RunByTrigger runs every rule tagged with trigger. Rule failures are
// isolated into the result.
func (e *Engine) RunByTrigger(ctx context.Context, trigger rules.Trigger, opts types.Options) BatchResult {
	return e.runBatch(ctx, ModeTrigger, string(trigger), e.registry.ByTrigger(trigger), opts)
}

// RunAll runs the whole registry regardless of trigger.
func (e *Engine) RunAll(ctx context.Context, opts types.Options) BatchResult {
	return e.runBatch(ctx, ModeAll, "", e.registry.All(), opts)
}

// RunDomain runs every rule of domain, or the whole registry when domain is empty.
func (e *Engine) RunDomain(ctx context.Context, domain string, opts types.Options) BatchResult {
	if domain == "" {
		return e.RunAll(ctx, opts)
	}
	return e.runBatch(ctx, ModeDomain, domain, e.registry.ByDomain(domain), opts)
}

// RunRule runs one rule and returns its error to the caller.
func (e *Engine) RunRule(ctx context.Context, id string, opts types.Options) ([]types.InsightItem, error) {
	d, ok := e.registry.Lookup(id)
	if !ok {
		metrics.RecordErrorByComponent("engine", "rule_not_found")
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	ec := e.newContext(e.now())
	res := e.pool.Do(ctx, e.task(ec, d, opts))
	e.record(ctx, d, res.Value, res.Err, res.Duration)
	if res.Err != nil {
		return nil, classify(d.ID, res.Err)
	}
	if res.Value == nil {
		return []types.InsightItem{}, nil
	}
	return res.Value, nil
}

// newContext starts a pass whose shared loads share the rule deadline.
func (e *Engine) newContext(now time.Time) *rules.Context {
	ec := rules.NewContext(e.store, now, e.lookback)
	ec.LoadTimeout = e.ruleTimeout
	return ec
}

// Rules lists registry metadata in order.
func (e *Engine) Rules() []rules.Info {
	return rules.Infos(e.registry.All())
}

// RulesByTrigger lists metadata of the rules tagged with trigger.
func (e *Engine) RulesByTrigger(trigger rules.Trigger) []rules.Info {
	return rules.Infos(e.registry.ByTrigger(trigger))
}

func (e *Engine) runBatch(ctx context.Context, mode Mode, scope string, descs []rules.Descriptor, opts types.Options) BatchResult {
	started := e.now()
	batch := BatchResult{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Scope:     scope,
		StartedAt: started,
		Outcomes:  make([]RuleOutcome, len(descs)),
	}

	ctx, span := e.tracer.Start(ctx, "engine.batch", trace.WithAttributes(
		attribute.String("insights.run_id", batch.RunID),
		attribute.String("insights.mode", string(mode)),
		attribute.String("insights.scope", scope),
		attribute.Int("insights.rules", len(descs)),
	))
	defer span.End()

	ec := e.newContext(started)
	tasks := make([]worker.Task[[]types.InsightItem], len(descs))
	for i, d := range descs {
		tasks[i] = e.task(ec, d, opts)
	}

	clock := time.Now()
	results := e.pool.Run(ctx, tasks)
	for i, res := range results {
		d := descs[i]
		batch.Outcomes[i] = RuleOutcome{Rule: d.Info(), Items: res.Value, Err: res.Err, Duration: res.Duration}
		e.record(ctx, d, res.Value, res.Err, res.Duration)
		if res.Err != nil {
			batch.Outcomes[i].Items = nil
			metrics.RecordBatchFailure(d.ID, outcomeOf(res.Err))
			e.logger.Warn(ctx, "rule failed; batch continues",
				logger.String("run_id", batch.RunID),
				logger.String("rule", d.ID),
				logger.String("outcome", outcomeOf(res.Err)),
				logger.Error(res.Err),
			)
		}
	}
	batch.Duration = time.Since(clock)
	metrics.RecordBatch(string(mode), float64(batch.Duration.Microseconds())/1000)

	span.SetAttributes(attribute.Int("insights.failed", batch.Failed()))
	if batch.Failed() > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d rule(s) failed", batch.Failed()))
	}
	e.logger.Debug(ctx, "batch finished",
		logger.String("run_id", batch.RunID),
		logger.String("mode", string(mode)),
		logger.String("scope", scope),
		logger.Int("rules", len(descs)),
		logger.Int("failed", batch.Failed()),
		logger.Duration("duration", batch.Duration),
	)
	return batch
}

// task wraps a rule evaluation in its own span.
func (e *Engine) task(ec *rules.Context, d rules.Descriptor, opts types.Options) worker.Task[[]types.InsightItem] {
	return worker.Task[[]types.InsightItem]{
		Name: d.ID,
		Run: func(ctx context.Context) ([]types.InsightItem, error) {
			ctx, span := e.tracer.Start(ctx, "rule.evaluate", trace.WithAttributes(
				attribute.String("insights.rule_id", d.ID),
				attribute.String("insights.domain", d.Domain),
				attribute.String("insights.trigger", string(d.Trigger)),
			))
			defer span.End()

			items, err := d.Evaluator(ctx, ec, opts)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			span.SetAttributes(attribute.Int("insights.items", len(items)))
			return items, nil
		},
	}
}

func (e *Engine) record(_ context.Context, d rules.Descriptor, items []types.InsightItem, err error, took time.Duration) {
	metrics.RecordRuleEvaluation(d.ID, outcomeOf(err), float64(took.Microseconds())/1000)
	if err != nil {
		return
	}
	for _, it := range items {
		metrics.RecordInsightEmitted(string(it.Type), it.Domain)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, worker.ErrTimeout):
		return outcomeTimeout
	case errors.Is(err, worker.ErrPanic), errors.Is(err, rules.ErrQueryPanic):
		return outcomePanic
	default:
		return outcomeError
	}
}

// classify maps pool failures to engine sentinels and keeps evaluator errors intact.
func classify(id string, err error) error {
	switch {
	case errors.Is(err, worker.ErrTimeout):
		return fmt.Errorf("%w: %s: %w", ErrRuleTimeout, id, err)
	case errors.Is(err, worker.ErrPanic), errors.Is(err, rules.ErrQueryPanic):
		return fmt.Errorf("%w: %s: %w", ErrRulePanic, id, err)
	default:
		return fmt.Errorf("rule %s: %w", id, err)
	}
}
