package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// DomainLister returns every domain the scheduler should recalculate.
type DomainLister interface {
	ListDomains(ctx context.Context) ([]string, error)
}

// Scheduler periodically recalculates every known domain.
type Scheduler struct {
	cron        *cron.Cron
	svc         *Service
	domains     DomainLister
	concurrency int
}

// NewScheduler creates a scheduler. Concurrency below 1 means one domain at a time.
func NewScheduler(svc *Service, domains DomainLister, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		cron:        cron.New(),
		svc:         svc,
		domains:     domains,
		concurrency: concurrency,
	}
}

// Start registers the schedule and starts the cron runner.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			slog.Warn("scheduled recalculation failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid recalculation schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	slog.Info("recalculation scheduler started",
		"schedule", schedule,
		"concurrency", s.concurrency,
	)
	return nil
}

// Stop stops the cron runner and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("recalculation scheduler stopped")
}

// RunOnce recalculates all domains with bounded concurrency. A failing domain
// is logged and does not stop the others; the count of failures is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	domains, err := s.domains.ListDomains(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list domains: %w", err)
	}

	failures := make([]bool, len(domains))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, d := range domains {
		g.Go(func() error {
			if _, err := s.svc.Recalculate(ctx, d); err != nil {
				failures[i] = true
				slog.Warn("domain recalculation failed",
					"domain", d,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, f := range failures {
		if f {
			failed++
		}
	}

	slog.Info("scheduled recalculation finished",
		"domains", len(domains),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return failed, nil
}
