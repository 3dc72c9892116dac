// Package risk is the engine boundary: it runs the scoring pipeline against
// the fact and history collaborators and keeps results in the risk cache.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rival420/donwatcher/internal/cache"
	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/scoring"
)

const (
	snapshotView = "snapshot"

	DefaultHistoryDays = 30
	MaxHistoryDays     = 3650
)

var tracer = otel.Tracer("donwatcher-risk")

// Store is everything the service reads and writes.
type Store interface {
	domain.GroupFactProvider
	domain.InfrastructureScoreProvider
	domain.RiskHistoryStore
	SetMemberAcceptance(ctx context.Context, domain, group, member string, accepted bool) error
}

// ScoreSink receives every appended global score. Failures are logged only.
type ScoreSink interface {
	WriteGlobalScore(ctx context.Context, score *domain.GlobalRiskScore) error
}

// CacheStats reports both caches owned by the service.
type CacheStats struct {
	Snapshots cache.Stats `json:"snapshots"`
	History   cache.Stats `json:"history"`
}

// Service exposes the risk operations to the API, worker, scheduler and CLI.
// It is safe for concurrent use.
type Service struct {
	store     Store
	pipeline  atomic.Pointer[Pipeline]
	snapshots *cache.RiskCache[*domain.RiskSnapshot]
	history   *cache.RiskCache[[]*domain.GlobalRiskScore]

	bus  domain.EventBus
	sink ScoreSink
	now  func() time.Time

	callTimeout time.Duration
	maxRetries  uint64
	retryBase   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithEventBus publishes recalculation and fact change events.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithScoreSink exports appended global scores.
func WithScoreSink(sink ScoreSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithClock injects the time source for assessment dates and history windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHistoryPolicy bounds each collaborator call and its retries.
func WithHistoryPolicy(cfg domain.HistoryConfig) Option {
	return func(s *Service) {
		if cfg.Timeout > 0 {
			s.callTimeout = cfg.Timeout
		}
		if cfg.RetryBase > 0 {
			s.retryBase = cfg.RetryBase
		}
		s.maxRetries = cfg.MaxRetries
	}
}

// WithSnapshotCache replaces the default snapshot cache.
func WithSnapshotCache(c *cache.RiskCache[*domain.RiskSnapshot]) Option {
	return func(s *Service) {
		if c != nil {
			s.snapshots = c
		}
	}
}

// WithHistoryCache replaces the default history cache.
func WithHistoryCache(c *cache.RiskCache[[]*domain.GlobalRiskScore]) Option {
	return func(s *Service) {
		if c != nil {
			s.history = c
		}
	}
}

// NewService creates the engine service.
func NewService(store Store, pipeline *Pipeline, opts ...Option) *Service {
	s := &Service{
		store:       store,
		snapshots:   cache.New[*domain.RiskSnapshot](cache.WithName("risk")),
		history:     cache.New[[]*domain.GlobalRiskScore](cache.WithName("history")),
		now:         time.Now,
		callTimeout: 5 * time.Second,
		maxRetries:  3,
		retryBase:   100 * time.Millisecond,
	}
	s.pipeline.Store(pipeline)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetGlobalRisk returns the current global score, computing it on a cache miss.
// A cached value is served even when the history store is down.
func (s *Service) GetGlobalRisk(ctx context.Context, domainName string) (*domain.GlobalRiskScore, error) {
	snap, err := s.snapshot(ctx, domainName)
	if err != nil {
		return nil, err
	}
	return snap.Global.Clone(), nil
}

// GetRiskBreakdown returns the category and group detail behind the current global score.
func (s *Service) GetRiskBreakdown(ctx context.Context, domainName string) (*domain.DomainRiskAssessment, error) {
	snap, err := s.snapshot(ctx, domainName)
	if err != nil {
		return nil, err
	}
	return snap.Breakdown.Clone(), nil
}

// GetRiskHistory returns the global scores of the last days, oldest first.
func (s *Service) GetRiskHistory(ctx context.Context, domainName string, days int) ([]*domain.GlobalRiskScore, error) {
	if err := validateDomain(domainName); err != nil {
		return nil, err
	}
	if days < 1 || days > MaxHistoryDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d, got %d", domain.ErrInvalidInput, MaxHistoryDays, days)
	}

	key := cache.Key{Domain: domainName, View: fmt.Sprintf("history:%d", days)}
	scores, err := s.history.GetOrCompute(ctx, key, func(ctx context.Context) ([]*domain.GlobalRiskScore, error) {
		since := s.now().UTC().AddDate(0, 0, -days)

		var out []*domain.GlobalRiskScore
		err := s.call(ctx, "list_since", func(ctx context.Context) error {
			var err error
			out, err = s.store.ListSince(ctx, domainName, since)
			return err
		})
		if out == nil {
			out = []*domain.GlobalRiskScore{}
		}
		return out, err
	})
	if err != nil {
		return nil, err
	}

	result := make([]*domain.GlobalRiskScore, len(scores))
	for i, sc := range scores {
		result[i] = sc.Clone()
	}
	return result, nil
}

// LatestAssessment returns the newest breakdown recorded in history without
// computing. It answers ErrNotFound for a domain that was never assessed.
func (s *Service) LatestAssessment(ctx context.Context, domainName string) (*domain.DomainRiskAssessment, error) {
	if err := validateDomain(domainName); err != nil {
		return nil, err
	}

	var a *domain.DomainRiskAssessment
	err := s.call(ctx, "latest_assessment", func(ctx context.Context) error {
		var err error
		a, err = s.store.LatestAssessment(ctx, domainName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Recalculate bypasses the cache read, recomputes, appends to history and
// stores the fresh snapshot.
func (s *Service) Recalculate(ctx context.Context, domainName string) (*domain.GlobalRiskScore, error) {
	if err := validateDomain(domainName); err != nil {
		return nil, err
	}

	snap, err := s.snapshots.Refresh(ctx, cache.Key{Domain: domainName, View: snapshotView}, func(ctx context.Context) (*domain.RiskSnapshot, error) {
		return s.compute(ctx, domainName)
	})
	if err != nil {
		return nil, err
	}
	return snap.Global.Clone(), nil
}

// Invalidate drops every cached view for a domain. When it returns, no later
// read observes a value computed before the call.
func (s *Service) Invalidate(ctx context.Context, domainName string) error {
	if err := validateDomain(domainName); err != nil {
		return err
	}
	s.snapshots.InvalidateDomain(ctx, domainName)
	s.history.InvalidateDomain(ctx, domainName)
	return nil
}

// AcceptMember records an acceptance decision, invalidates the domain before
// returning and announces the change to other nodes.
func (s *Service) AcceptMember(ctx context.Context, domainName, group, member string, accepted bool) error {
	if err := validateDomain(domainName); err != nil {
		return err
	}
	if group == "" || member == "" {
		return fmt.Errorf("%w: group and member are required", domain.ErrInvalidInput)
	}

	if err := s.store.SetMemberAcceptance(ctx, domainName, group, member, accepted); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: set member acceptance: %w", domain.ErrUnavailable, err)
	}

	if err := s.Invalidate(ctx, domainName); err != nil {
		return err
	}

	s.publish(ctx, domain.TopicFactsChanged, domain.FactsChangedEvent{
		Domain: domainName,
		Reason: "member_acceptance",
	})

	slog.Info("member acceptance updated",
		"domain", domainName,
		"group", group,
		"member", member,
		"accepted", accepted,
	)
	return nil
}

// UpdateScoring swaps in new scoring constants and drops every cached value.
func (s *Service) UpdateScoring(ctx context.Context, cfg scoring.Config) error {
	p, err := NewPipeline(cfg)
	if err != nil {
		return err
	}
	s.pipeline.Store(p)
	s.snapshots.InvalidateAll(ctx)
	s.history.InvalidateAll(ctx)

	slog.Info("scoring configuration updated", "criticality_rules", len(cfg.CriticalityRules))
	return nil
}

// ScoringConfig returns the constants currently in use.
func (s *Service) ScoringConfig() scoring.Config {
	return s.pipeline.Load().Config()
}

// CacheStats returns statistics of both caches.
func (s *Service) CacheStats() CacheStats {
	return CacheStats{
		Snapshots: s.snapshots.Stats(),
		History:   s.history.Stats(),
	}
}

func (s *Service) snapshot(ctx context.Context, domainName string) (*domain.RiskSnapshot, error) {
	if err := validateDomain(domainName); err != nil {
		return nil, err
	}
	return s.snapshots.GetOrCompute(ctx, cache.Key{Domain: domainName, View: snapshotView}, func(ctx context.Context) (*domain.RiskSnapshot, error) {
		return s.compute(ctx, domainName)
	})
}

// compute gathers the collaborator inputs concurrently, runs the pipeline
// and appends the result to history. Any collaborator failure fails the
// computation so nothing is cached.
func (s *Service) compute(ctx context.Context, domainName string) (*domain.RiskSnapshot, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "risk.compute",
		trace.WithAttributes(attribute.String("domain", domainName)),
	)
	defer span.End()

	at := s.now().UTC()
	pipeline := s.pipeline.Load()

	var (
		facts []domain.GroupFact
		infra domain.InfrastructureScore
		prior *domain.GlobalRiskScore
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.call(gctx, "list_group_facts", func(ctx context.Context) error {
			var err error
			facts, err = s.store.ListGroupFacts(ctx, domainName)
			return err
		})
	})
	g.Go(func() error {
		return s.call(gctx, "latest_infrastructure_score", func(ctx context.Context) error {
			var err error
			infra, err = s.store.LatestInfrastructureScore(ctx, domainName)
			return err
		})
	})
	g.Go(func() error {
		return s.call(gctx, "latest_before", func(ctx context.Context) error {
			var err error
			prior, err = s.store.LatestBefore(ctx, domainName, at)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, s.failed(span, domainName, err)
	}

	snap := pipeline.Assess(domainName, facts, infra, prior, at)
	for _, gr := range snap.Breakdown.GroupRisks {
		for _, w := range gr.Warnings {
			slog.Warn("group facts normalized",
				"domain", domainName,
				"group", gr.GroupName,
				"warning", w,
			)
		}
	}

	// The snapshot IDs are fixed before the first attempt, so a retry after a
	// write that committed but timed out is a no-op in the store.
	if err := s.call(ctx, "append_snapshot", func(ctx context.Context) error {
		return s.store.AppendSnapshot(ctx, snap)
	}); err != nil {
		return nil, s.failed(span, domainName, err)
	}

	// The history views of the domain no longer include every row.
	s.history.InvalidateDomain(ctx, domainName)

	s.appended(ctx, snap.Global)

	computations.WithLabelValues("success").Inc()
	computeDuration.Observe(time.Since(start).Seconds())
	globalScore.WithLabelValues(domainName).Set(snap.Global.GlobalScore)

	span.SetAttributes(
		attribute.Float64("risk.global_score", snap.Global.GlobalScore),
		attribute.String("risk.trend", string(snap.Global.TrendDirection)),
		attribute.Int("risk.groups", len(snap.Breakdown.GroupRisks)),
	)

	slog.Info("risk computed",
		"domain", domainName,
		"global_score", snap.Global.GlobalScore,
		"domain_group_score", snap.Global.DomainGroupScore,
		"infrastructure_present", infra.Present,
		"trend", snap.Global.TrendDirection,
		"groups", len(facts),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return snap, nil
}

func (s *Service) failed(span trace.Span, domainName string, err error) error {
	computations.WithLabelValues("failure").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("risk computation failed",
		"domain", domainName,
		"error", err,
	)
	return err
}

// call runs one collaborator operation with a per-attempt timeout and
// exponential backoff. Exhausted retries surface as ErrUnavailable.
// ErrInvalidInput and ErrNotFound are returned as is without retrying.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		err := fn(cctx)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if permanent(err) {
		return err
	}

	collaboratorFailures.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound)
}

// appended publishes and exports a score that was written to history.
func (s *Service) appended(ctx context.Context, score *domain.GlobalRiskScore) {
	s.publish(ctx, domain.TopicRiskRecalculated, score)
	if score.TrendDirection == domain.TrendDegrading {
		s.publish(ctx, domain.TopicRiskDegrading, score)
	}

	if s.sink != nil {
		if err := s.sink.WriteGlobalScore(ctx, score); err != nil {
			slog.Warn("failed to export global score",
				"domain", score.Domain,
				"error", err,
			)
		}
	}
}

func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"error", err,
		)
	}
}

func validateDomain(domainName string) error {
	if domainName == "" {
		return fmt.Errorf("%w: domain is required", domain.ErrInvalidInput)
	}
	return nil
}
