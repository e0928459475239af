// Package service provides the insight service the HTTP API depends on:
// it owns the entity store and the rule engine and shapes engine output
// for callers.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/adapters/repository/sqlite"
	"github.com/okian/insights/internal/config"
	"github.com/okian/insights/internal/domain/catalog"
	"github.com/okian/insights/internal/domain/engine"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/types"
	"github.com/okian/insights/internal/seed"
	"github.com/okian/insights/pkg/logger"
	"github.com/okian/insights/pkg/metrics"
)

// ErrNotStarted is returned by queries issued before Start or after Stop.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the insight engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	registry  *rules.Registry
	store     repository.Store
	engine    *engine.Engine
	ownsStore bool

	// Configuration
	storeKind      string
	sqlitePath     string
	seedDemo       bool
	seedConfig     seed.Config
	workerCount    int
	ruleTimeout    time.Duration
	lookback       time.Duration
	allowAnonymous bool
	now            func() time.Time

	// State
	started   bool
	startedAt time.Time
	seeded    seed.Stats

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets how many rules evaluate concurrently.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithRuleTimeout caps a single rule evaluation.
func WithRuleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ruleTimeout = d
		}
	}
}

// WithLookback sets the rolling window rules read.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithAllowAnonymous controls what callers without roles see: everything
// when true, nothing when false.
func WithAllowAnonymous(allow bool) Option {
	return func(s *Service) {
		s.allowAnonymous = allow
	}
}

// WithStore injects an already opened store. The service does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSQLite makes Start open a SQLite store at path.
func WithSQLite(path string) Option {
	return func(s *Service) {
		s.storeKind = config.StoreSQLite
		s.sqlitePath = path
	}
}

// WithSeedDemo fills a freshly created memory store with a demo region.
func WithSeedDemo(enabled bool) Option {
	return func(s *Service) {
		s.seedDemo = enabled
	}
}

// WithSeedConfig overrides the demo region shape.
func WithSeedConfig(cfg seed.Config) Option {
	return func(s *Service) {
		s.seedConfig = cfg
	}
}

// WithRegistry replaces the default rule catalog.
func WithRegistry(r *rules.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeKind:      config.StoreMemory,
		seedConfig:     seed.Defaults(),
		workerCount:    runtime.NumCPU() * 2,
		ruleTimeout:    engine.DefaultRuleTimeout,
		lookback:       rules.DefaultLookback,
		allowAnonymous: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and builds the engine.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.registry == nil {
		s.registry = catalog.Default()
	}

	s.logger.Info(ctx, "starting insight service...")

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}

	s.engine = engine.New(s.registry, s.store,
		engine.WithWorkers(s.workerCount),
		engine.WithRuleTimeout(s.ruleTimeout),
		engine.WithLookback(s.lookback),
		engine.WithClock(s.now),
		engine.WithLogger(s.logger.Named("engine")),
	)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "insight service started",
		logger.String("store", s.storeKind),
		logger.Int("rules", s.registry.Len()),
		logger.Int("workers", s.workerCount),
		logger.Duration("ruleTimeout", s.ruleTimeout),
		logger.Bool("allowAnonymous", s.allowAnonymous),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	if s.storeKind == config.StoreSQLite {
		store, err := sqlite.Open(s.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.sqlitePath))
		return store, nil
	}

	store := repository.NewMemoryStore()
	s.logger.Info(ctx, "using memory store")
	if s.seedDemo {
		cfg := s.seedConfig
		if cfg.Now.IsZero() {
			cfg.Now = s.now()
		}
		stats, err := seed.Generate(ctx, store, cfg)
		if err != nil {
			return nil, fmt.Errorf("seed demo region: %w", err)
		}
		s.seeded = stats
	}
	return store, nil
}

// Stop releases the store if the service opened it.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping insight service...")

	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(context.Background(), "store close failed", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}
	s.engine = nil
	s.started = false
	s.logger.Info(context.Background(), "insight service stopped")
}

// GetAlerts returns the visible alerts for opts.
func (s *Service) GetAlerts(ctx context.Context, opts types.Options) ([]types.InsightItem, error) {
	return s.byType(ctx, types.TypeAlert, opts)
}

// GetRecommendations returns the visible recommendations for opts.
func (s *Service) GetRecommendations(ctx context.Context, opts types.Options) ([]types.InsightItem, error) {
	return s.byType(ctx, types.TypeRecommendation, opts)
}

// GetForecasts returns the visible forecasts for opts.
func (s *Service) GetForecasts(ctx context.Context, opts types.Options) ([]types.InsightItem, error) {
	return s.byType(ctx, types.TypeForecast, opts)
}

// GetOpportunities returns the visible opportunities for opts.
func (s *Service) GetOpportunities(ctx context.Context, opts types.Options) ([]types.InsightItem, error) {
	return s.byType(ctx, types.TypeOpportunity, opts)
}

// GetInsights returns every visible item grouped by type.
func (s *Service) GetInsights(ctx context.Context, opts types.Options) (types.GroupedInsights, error) {
	items, err := s.visible(ctx, opts)
	if err != nil {
		return types.Group(nil), err
	}
	g := types.Group(items)
	metrics.RecordInsightsServed(string(types.TypeAlert), len(g.Alerts))
	metrics.RecordInsightsServed(string(types.TypeRecommendation), len(g.Recommendations))
	metrics.RecordInsightsServed(string(types.TypeForecast), len(g.Forecasts))
	metrics.RecordInsightsServed(string(types.TypeOpportunity), len(g.Opportunities))
	return g, nil
}

func (s *Service) byType(ctx context.Context, t types.InsightType, opts types.Options) ([]types.InsightItem, error) {
	items, err := s.visible(ctx, opts)
	if err != nil {
		return []types.InsightItem{}, err
	}
	out := types.FilterType(items, t)
	metrics.RecordInsightsServed(string(t), len(out))
	return out, nil
}

// visible runs the domain's rules and keeps what the caller may see.
// Failed rules contribute nothing.
func (s *Service) visible(ctx context.Context, opts types.Options) ([]types.InsightItem, error) {
	eng, err := s.currentEngine()
	if err != nil {
		return nil, err
	}
	batch := eng.RunDomain(ctx, opts.Domain, opts)
	stamp(&batch)
	return s.filterAudience(batch.Items(), opts.Roles), nil
}

// filterAudience keeps items whose audience meets the caller's roles.
// Callers without roles see everything or nothing depending on allowAnonymous.
func (s *Service) filterAudience(items []types.InsightItem, roles []string) []types.InsightItem {
	if len(roles) == 0 {
		if s.allowAnonymous {
			return items
		}
		return []types.InsightItem{}
	}
	set := types.AudienceForRoles(roles)
	out := make([]types.InsightItem, 0, len(items))
	for _, it := range items {
		if set.Intersects(it.Audience) {
			out = append(out, it)
		}
	}
	return out
}

// stamp fills in the owning rule id and the evaluation time where a rule left them empty.
func stamp(batch *engine.BatchResult) {
	for i := range batch.Outcomes {
		o := &batch.Outcomes[i]
		for j := range o.Items {
			backfill(&o.Items[j], o.Rule.ID, batch.StartedAt)
		}
	}
}

func backfill(it *types.InsightItem, ruleID string, at time.Time) {
	if it.RuleID == "" {
		it.RuleID = ruleID
	}
	if it.Timestamp.IsZero() {
		it.Timestamp = at
	}
}

// ListRules returns rule metadata, optionally restricted to one trigger.
func (s *Service) ListRules(trigger string) ([]rules.Info, error) {
	eng, err := s.currentEngine()
	if err != nil {
		return nil, err
	}
	if trigger == "" {
		return eng.Rules(), nil
	}
	t, err := rules.ParseTrigger(trigger)
	if err != nil {
		return nil, err
	}
	return eng.RulesByTrigger(t), nil
}

// RunRule evaluates one rule directly. Its failure is returned, not isolated.
func (s *Service) RunRule(ctx context.Context, id string, opts types.Options) ([]types.InsightItem, error) {
	eng, err := s.currentEngine()
	if err != nil {
		return nil, err
	}
	at := s.now()
	items, err := eng.RunRule(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	for i := range items {
		backfill(&items[i], id, at)
	}
	return items, nil
}

// RunBatch evaluates every rule tagged with trigger. This is the hook an
// external scheduler calls.
func (s *Service) RunBatch(ctx context.Context, trigger string, opts types.Options) (engine.BatchResult, error) {
	eng, err := s.currentEngine()
	if err != nil {
		return engine.BatchResult{}, err
	}
	t, err := rules.ParseTrigger(trigger)
	if err != nil {
		return engine.BatchResult{}, err
	}
	batch := eng.RunByTrigger(ctx, t, opts)
	stamp(&batch)
	s.logger.Info(ctx, "batch run",
		logger.String("run_id", batch.RunID),
		logger.String("trigger", string(t)),
		logger.Int("succeeded", batch.Succeeded()),
		logger.Int("failed", batch.Failed()),
		logger.Duration("duration", batch.Duration),
	)
	return batch, nil
}

func (s *Service) currentEngine() (*engine.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.engine == nil {
		return nil, ErrNotStarted
	}
	return s.engine, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"store":          s.storeKind,
		"workerCount":    s.workerCount,
		"ruleTimeoutMs":  s.ruleTimeout.Milliseconds(),
		"lookbackDays":   int(s.lookback / (24 * time.Hour)),
		"allowAnonymous": s.allowAnonymous,
	}
	if !s.started {
		return stats
	}

	stats["rules"] = s.registry.Len()
	stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	if counter, ok := s.store.(interface {
		Count() (circles, users, missions, submissions int)
	}); ok {
		circles, users, missions, submissions := counter.Count()
		stats["circles"] = circles
		stats["users"] = users
		stats["missions"] = missions
		stats["submissions"] = submissions
	}
	if s.seeded.Circles > 0 {
		stats["seededCircles"] = s.seeded.Circles
	}

	metrics.UpdateRegisteredRules(s.registry.Len())
	return stats
}
