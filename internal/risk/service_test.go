package risk

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/scoring"
)

const corp = "corp.example.com"

// fakeStore is an in-memory Store with switchable history failures.
type fakeStore struct {
	mu          sync.Mutex
	facts       map[string][]domain.GroupFact
	infra       map[string]domain.InfrastructureScore
	scores      []*domain.GlobalRiskScore
	assessments []*domain.DomainRiskAssessment

	historyDown atomic.Bool
	lostAcks    atomic.Int64
	factCalls   atomic.Int64
	listCalls   atomic.Int64
	appendCalls atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		facts: make(map[string][]domain.GroupFact),
		infra: make(map[string]domain.InfrastructureScore),
	}
}

var (
	errDown    = errors.New("connection refused")
	errTimeout = errors.New("i/o timeout")
)

func (f *fakeStore) ListGroupFacts(ctx context.Context, d string) ([]domain.GroupFact, error) {
	f.factCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.GroupFact(nil), f.facts[d]...), nil
}

func (f *fakeStore) LatestInfrastructureScore(ctx context.Context, d string) (domain.InfrastructureScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infra[d], nil
}

// AppendSnapshot stores both rows at once and skips IDs it already holds.
// With lostAcks set, a write is kept but reported as failed.
func (f *fakeStore) AppendSnapshot(ctx context.Context, snap *domain.RiskSnapshot) error {
	if f.historyDown.Load() {
		return errDown
	}
	f.appendCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.scores {
		if s.ID == snap.Global.ID {
			return nil
		}
	}
	f.scores = append(f.scores, snap.Global.Clone())
	f.assessments = append(f.assessments, snap.Breakdown.Clone())

	if f.lostAcks.Load() > 0 {
		f.lostAcks.Add(-1)
		return errTimeout
	}
	return nil
}

func (f *fakeStore) LatestAssessment(ctx context.Context, d string) (*domain.DomainRiskAssessment, error) {
	if f.historyDown.Load() {
		return nil, errDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *domain.DomainRiskAssessment
	for _, a := range f.assessments {
		if a.Domain != d {
			continue
		}
		if latest == nil || !a.AssessmentDate.Before(latest.AssessmentDate) {
			latest = a
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest.Clone(), nil
}

func (f *fakeStore) LatestBefore(ctx context.Context, d string, ts time.Time) (*domain.GlobalRiskScore, error) {
	if f.historyDown.Load() {
		return nil, errDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *domain.GlobalRiskScore
	for _, s := range f.scores {
		if s.Domain != d || !s.AssessmentDate.Before(ts) {
			continue
		}
		if latest == nil || s.AssessmentDate.After(latest.AssessmentDate) {
			latest = s
		}
	}
	return latest.Clone(), nil
}

func (f *fakeStore) ListSince(ctx context.Context, d string, since time.Time) ([]*domain.GlobalRiskScore, error) {
	f.listCalls.Add(1)
	if f.historyDown.Load() {
		return nil, errDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.GlobalRiskScore
	for _, s := range f.scores {
		if s.Domain == d && !s.AssessmentDate.Before(since) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssessmentDate.Before(out[j].AssessmentDate) })
	return out, nil
}

func (f *fakeStore) SetMemberAcceptance(ctx context.Context, d, group, member string, accepted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	facts := f.facts[d]
	for i := range facts {
		if facts[i].GroupName != group {
			continue
		}
		if accepted {
			facts[i].AcceptedMembers++
			facts[i].UnacceptedMembers--
		} else {
			facts[i].AcceptedMembers--
			facts[i].UnacceptedMembers++
		}
		return nil
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ListDomains(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for d := range f.facts {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) setFacts(d string, facts ...domain.GroupFact) {
	f.mu.Lock()
	f.facts[d] = facts
	f.mu.Unlock()
}

func (f *fakeStore) setInfra(d string, v float64) {
	f.mu.Lock()
	f.infra[d] = domain.InfrastructureScore{Present: true, Value: v, Source: "pingcastle"}
	f.mu.Unlock()
}

// recordingBus captures published topics.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, h domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}
func (b *recordingBus) QueueSubscribe(ctx context.Context, topic, queue string, h domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}
func (b *recordingBus) Ping(ctx context.Context) error { return nil }
func (b *recordingBus) Close() error                   { return nil }

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func domainAdmins(total, accepted int) domain.GroupFact {
	return domain.GroupFact{
		Domain:            corp,
		GroupName:         "Domain Admins",
		TotalMembers:      total,
		AcceptedMembers:   accepted,
		UnacceptedMembers: total - accepted,
		Criticality:       domain.CriticalityCritical,
	}
}

func newTestService(t *testing.T, store *fakeStore, opts ...Option) (*Service, *testClock) {
	t.Helper()

	pipeline, err := NewPipeline(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{
		WithClock(clock.Now),
		WithHistoryPolicy(domain.HistoryConfig{Timeout: time.Second, MaxRetries: 1, RetryBase: time.Millisecond}),
	}
	return NewService(store, pipeline, append(base, opts...)...), clock
}

func TestEndToEndScenario(t *testing.T) {
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	store.setInfra(corp, 80)
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	global, err := svc.GetGlobalRisk(ctx, corp)
	if err != nil {
		t.Fatalf("GetGlobalRisk failed: %v", err)
	}

	breakdown, err := svc.GetRiskBreakdown(ctx, corp)
	if err != nil {
		t.Fatalf("GetRiskBreakdown failed: %v", err)
	}

	dg := breakdown.DomainGroupScore
	if dg != 42 {
		t.Errorf("expected domain group score 42, got %v", dg)
	}
	want := float64(80*0.70) + float64(dg*0.30)
	if global.GlobalScore != want {
		t.Errorf("expected global score %v, got %v", want, global.GlobalScore)
	}
	if global.DomainGroupScore != dg {
		t.Errorf("global and breakdown disagree: %v vs %v", global.DomainGroupScore, dg)
	}
	if math.Abs(global.PingCastleContribution+global.DomainGroupContribution-100) > 1e-9 {
		t.Errorf("contributions must sum to 100, got %v + %v", global.PingCastleContribution, global.DomainGroupContribution)
	}

	if len(breakdown.GroupRisks) != 1 {
		t.Fatalf("expected 1 group risk, got %d", len(breakdown.GroupRisks))
	}
	if breakdown.GroupRisks[0].RiskLevel != domain.RiskLevelCritical {
		t.Errorf("expected critical level, got %s", breakdown.GroupRisks[0].RiskLevel)
	}

	if store.factCalls.Load() != 1 {
		t.Errorf("expected both views to share one computation, got %d", store.factCalls.Load())
	}
	if len(store.scores) != 1 || len(store.assessments) != 1 {
		t.Errorf("expected one appended score and assessment, got %d and %d", len(store.scores), len(store.assessments))
	}
}

func TestGetGlobalRisk(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownDomainIsNeutral", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeStore())

		global, err := svc.GetGlobalRisk(ctx, "unknown.local")
		if err != nil {
			t.Fatalf("GetGlobalRisk failed: %v", err)
		}
		if global.GlobalScore != 0 || global.TrendDirection != domain.TrendStable {
			t.Errorf("expected neutral score, got %+v", global)
		}
		if global.PingCastleScore != nil || global.DomainGroupContribution != 100 {
			t.Errorf("expected degraded combination, got %+v", global)
		}
	})

	t.Run("EmptyDomainRejected", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeStore())
		if _, err := svc.GetGlobalRisk(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ServedFromCacheWhileHistoryDown", func(t *testing.T) {
		store := newFakeStore()
		store.setFacts(corp, domainAdmins(5, 2))
		svc, _ := newTestService(t, store)

		first, err := svc.GetGlobalRisk(ctx, corp)
		if err != nil {
			t.Fatalf("GetGlobalRisk failed: %v", err)
		}

		store.historyDown.Store(true)
		second, err := svc.GetGlobalRisk(ctx, corp)
		if err != nil {
			t.Fatalf("expected cached value despite history outage, got %v", err)
		}
		if second.GlobalScore != first.GlobalScore {
			t.Errorf("expected cached %v, got %v", first.GlobalScore, second.GlobalScore)
		}
	})

	t.Run("HistoryDownOnMissIsUnavailable", func(t *testing.T) {
		store := newFakeStore()
		store.setFacts(corp, domainAdmins(5, 2))
		store.historyDown.Store(true)
		svc, _ := newTestService(t, store)

		if _, err := svc.GetGlobalRisk(ctx, corp); !errors.Is(err, domain.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if svc.CacheStats().Snapshots.Size != 0 {
			t.Error("failed computation was cached")
		}

		store.historyDown.Store(false)
		if _, err := svc.GetGlobalRisk(ctx, corp); err != nil {
			t.Errorf("expected recovery once history is back, got %v", err)
		}
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		store := newFakeStore()
		store.setFacts(corp, domainAdmins(5, 2))
		svc, _ := newTestService(t, store)

		first, _ := svc.GetGlobalRisk(ctx, corp)
		first.GlobalScore = -1

		second, _ := svc.GetGlobalRisk(ctx, corp)
		if second.GlobalScore == -1 {
			t.Error("caller mutation leaked into the cache")
		}
	})

	t.Run("NormalizesInconsistentFacts", func(t *testing.T) {
		store := newFakeStore()
		store.setFacts(corp, domain.GroupFact{
			Domain: corp, GroupName: "Domain Admins",
			TotalMembers: 3, AcceptedMembers: 5, UnacceptedMembers: 0,
			Criticality: domain.CriticalityCritical,
		})
		svc, _ := newTestService(t, store)

		b, err := svc.GetRiskBreakdown(ctx, corp)
		if err != nil {
			t.Fatalf("GetRiskBreakdown failed: %v", err)
		}
		g := b.GroupRisks[0]
		if len(g.Warnings) == 0 {
			t.Error("expected a normalization warning")
		}
		if g.RiskScore < 0 || g.RiskScore > 100 {
			t.Errorf("score out of range: %v", g.RiskScore)
		}
	})
}

func TestRecalculate(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 5))
	store.setInfra(corp, 70)
	svc, clock := newTestService(t, store, WithEventBus(bus))

	first, err := svc.GetGlobalRisk(ctx, corp)
	if err != nil {
		t.Fatalf("GetGlobalRisk failed: %v", err)
	}

	// Facts change without an invalidation: only a recalculation sees it.
	store.setFacts(corp, domainAdmins(5, 0))
	clock.Advance(time.Hour)

	cached, _ := svc.GetGlobalRisk(ctx, corp)
	if cached.GlobalScore != first.GlobalScore {
		t.Fatalf("expected cached score before recalculation")
	}

	fresh, err := svc.Recalculate(ctx, corp)
	if err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
	if fresh.GlobalScore <= first.GlobalScore {
		t.Errorf("expected higher score after acceptance loss, got %v <= %v", fresh.GlobalScore, first.GlobalScore)
	}
	if fresh.TrendDirection != domain.TrendDegrading {
		t.Errorf("expected degrading trend, got %s", fresh.TrendDirection)
	}
	if fresh.TrendPercentage != fresh.GlobalScore-first.GlobalScore {
		t.Errorf("unexpected trend percentage %v", fresh.TrendPercentage)
	}

	after, _ := svc.GetGlobalRisk(ctx, corp)
	if after.GlobalScore != fresh.GlobalScore {
		t.Errorf("expected recalculated value to be cached, got %v", after.GlobalScore)
	}

	if got := bus.count(domain.TopicRiskRecalculated); got != 2 {
		t.Errorf("expected 2 recalculated events, got %d", got)
	}
	if got := bus.count(domain.TopicRiskDegrading); got != 1 {
		t.Errorf("expected 1 degrading event, got %d", got)
	}

	t.Run("HistoryDownIsUnavailable", func(t *testing.T) {
		store.historyDown.Store(true)
		defer store.historyDown.Store(false)

		if _, err := svc.Recalculate(ctx, corp); !errors.Is(err, domain.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestRecalculateRetriesCommittedAppend(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	svc, _ := newTestService(t, store)

	// The first write lands but its acknowledgement is lost.
	store.lostAcks.Store(1)

	score, err := svc.Recalculate(ctx, corp)
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if store.appendCalls.Load() != 2 {
		t.Errorf("expected 2 append attempts, got %d", store.appendCalls.Load())
	}
	if len(store.scores) != 1 || len(store.assessments) != 1 {
		t.Fatalf("expected one stored snapshot, got %d scores and %d assessments", len(store.scores), len(store.assessments))
	}
	if store.scores[0].ID != score.ID {
		t.Errorf("retry used a different score ID: stored %s, returned %s", store.scores[0].ID, score.ID)
	}
}

func TestLatestAssessment(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	svc, _ := newTestService(t, store)

	t.Run("NeverAssessed", func(t *testing.T) {
		if _, err := svc.LatestAssessment(ctx, corp); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MatchesLastComputation", func(t *testing.T) {
		breakdown, err := svc.GetRiskBreakdown(ctx, corp)
		if err != nil {
			t.Fatalf("GetRiskBreakdown failed: %v", err)
		}
		calls := store.factCalls.Load()

		stored, err := svc.LatestAssessment(ctx, corp)
		if err != nil {
			t.Fatalf("LatestAssessment failed: %v", err)
		}
		if stored.ID != breakdown.ID || stored.DomainGroupScore != breakdown.DomainGroupScore {
			t.Errorf("expected stored breakdown %s, got %+v", breakdown.ID, stored)
		}
		if store.factCalls.Load() != calls {
			t.Error("LatestAssessment must not compute")
		}
	})

	t.Run("HistoryDownIsUnavailable", func(t *testing.T) {
		store.historyDown.Store(true)
		defer store.historyDown.Store(false)

		if _, err := svc.LatestAssessment(ctx, corp); !errors.Is(err, domain.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("EmptyDomainRejected", func(t *testing.T) {
		if _, err := svc.LatestAssessment(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestGetRiskHistory(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	svc, clock := newTestService(t, store)

	for i := 0; i < 3; i++ {
		if _, err := svc.Recalculate(ctx, corp); err != nil {
			t.Fatalf("Recalculate failed: %v", err)
		}
		clock.Advance(24 * time.Hour)
	}

	t.Run("OldestFirst", func(t *testing.T) {
		history, err := svc.GetRiskHistory(ctx, corp, 30)
		if err != nil {
			t.Fatalf("GetRiskHistory failed: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 scores, got %d", len(history))
		}
		for i := 1; i < len(history); i++ {
			if history[i].AssessmentDate.Before(history[i-1].AssessmentDate) {
				t.Error("history not ordered oldest first")
			}
		}
	})

	t.Run("WindowBounded", func(t *testing.T) {
		history, err := svc.GetRiskHistory(ctx, corp, 2)
		if err != nil {
			t.Fatalf("GetRiskHistory failed: %v", err)
		}
		if len(history) != 2 {
			t.Errorf("expected 2 scores within 2 days, got %d", len(history))
		}
	})

	t.Run("Cached", func(t *testing.T) {
		before := store.listCalls.Load()
		_, _ = svc.GetRiskHistory(ctx, corp, 30)
		if store.listCalls.Load() != before {
			t.Error("expected cached history")
		}
	})

	t.Run("AppendInvalidatesHistory", func(t *testing.T) {
		if _, err := svc.Recalculate(ctx, corp); err != nil {
			t.Fatalf("Recalculate failed: %v", err)
		}
		history, _ := svc.GetRiskHistory(ctx, corp, 30)
		if len(history) != 4 {
			t.Errorf("expected 4 scores after append, got %d", len(history))
		}
	})

	t.Run("InvalidDays", func(t *testing.T) {
		for _, days := range []int{0, -1, MaxHistoryDays + 1} {
			if _, err := svc.GetRiskHistory(ctx, corp, days); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("days=%d: expected ErrInvalidInput, got %v", days, err)
			}
		}
	})

	t.Run("HistoryDownIsUnavailable", func(t *testing.T) {
		store.historyDown.Store(true)
		defer store.historyDown.Store(false)

		if _, err := svc.GetRiskHistory(ctx, corp, 7); !errors.Is(err, domain.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestAcceptMember(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	svc, _ := newTestService(t, store, WithEventBus(bus))

	before, _ := svc.GetGlobalRisk(ctx, corp)

	if err := svc.AcceptMember(ctx, corp, "Domain Admins", "carol", true); err != nil {
		t.Fatalf("AcceptMember failed: %v", err)
	}

	after, err := svc.GetGlobalRisk(ctx, corp)
	if err != nil {
		t.Fatalf("GetGlobalRisk failed: %v", err)
	}
	if after.GlobalScore >= before.GlobalScore {
		t.Errorf("expected lower score after acceptance, got %v >= %v", after.GlobalScore, before.GlobalScore)
	}
	if bus.count(domain.TopicFactsChanged) != 1 {
		t.Errorf("expected a facts changed event")
	}

	if err := svc.AcceptMember(ctx, corp, "No Such Group", "x", true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.AcceptMember(ctx, corp, "", "x", true); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// Writers change facts and invalidate; a read that starts after Invalidate
// returned must reflect at least that write.
func TestNoStaleReadAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(40, 0))
	svc, _ := newTestService(t, store)

	var published atomic.Int64
	published.Store(0)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for accepted := 1; accepted <= 40; accepted++ {
			store.setFacts(corp, domainAdmins(40, accepted))
			if err := svc.Invalidate(ctx, corp); err != nil {
				t.Errorf("Invalidate failed: %v", err)
				return
			}
			published.Store(int64(accepted))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				floor := published.Load()
				b, err := svc.GetRiskBreakdown(ctx, corp)
				if err != nil {
					t.Errorf("GetRiskBreakdown failed: %v", err)
					return
				}
				if got := int64(b.GroupRisks[0].AcceptedMembers); got < floor {
					t.Errorf("stale read: %d accepted, invalidation already published %d", got, floor)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestUpdateScoring(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	store.setInfra(corp, 80)
	svc, _ := newTestService(t, store)

	before, _ := svc.GetGlobalRisk(ctx, corp)

	cfg := scoring.DefaultConfig()
	cfg.Combination = scoring.CombinationWeights{Infrastructure: 0.5, DomainGroup: 0.5}
	if err := svc.UpdateScoring(ctx, cfg); err != nil {
		t.Fatalf("UpdateScoring failed: %v", err)
	}

	after, _ := svc.GetGlobalRisk(ctx, corp)
	if after.GlobalScore == before.GlobalScore {
		t.Error("expected the new weights to take effect immediately")
	}
	if svc.ScoringConfig().Combination.Infrastructure != 0.5 {
		t.Error("expected the new config to be active")
	}

	bad := scoring.DefaultConfig()
	bad.Combination.Infrastructure = 0.9
	if err := svc.UpdateScoring(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for invalid config, got %v", err)
	}
	if svc.ScoringConfig().Combination.Infrastructure != 0.5 {
		t.Error("invalid config replaced the active one")
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.setFacts(corp, domainAdmins(5, 2))
	store.setFacts("lab.example.com", domain.GroupFact{Domain: "lab.example.com", GroupName: "Backup Operators", TotalMembers: 2, Criticality: domain.CriticalityHigh})
	svc, _ := newTestService(t, store)

	sched := NewScheduler(svc, store, 2)
	failed, err := sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if failed != 0 {
		t.Errorf("expected no failures, got %d", failed)
	}
	if len(store.scores) != 2 {
		t.Errorf("expected one score per domain, got %d", len(store.scores))
	}

	store.historyDown.Store(true)
	failed, _ = sched.RunOnce(ctx)
	if failed != 2 {
		t.Errorf("expected 2 failures with history down, got %d", failed)
	}

	if err := sched.Start("not a schedule"); err == nil {
		t.Error("expected an invalid schedule to be rejected")
	}
}
