package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rival420/donwatcher/internal/cache"
	"github.com/rival420/donwatcher/internal/config"
	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/repository"
	"github.com/rival420/donwatcher/internal/risk"
)

// engine is the repository and risk service shared by every command.
type engine struct {
	cfg     *domain.Config
	repo    *repository.SQLRepository
	backend domain.CacheBackend
	svc     *risk.Service
}

// openEngine loads the scoring file, opens the repository and the cache
// tiers, and builds the service.
func openEngine(cfg *domain.Config, opts ...risk.Option) (*engine, error) {
	scoringCfg, err := config.LoadScoring(cfg.Scoring.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring config: %w", err)
	}
	pipeline, err := risk.NewPipeline(scoringCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring pipeline: %w", err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	backend, err := cache.NewBackend(cfg.Cache)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize cache backend: %w", err)
	}

	snapshotOpts := append(cache.Options(cfg.Cache, backend), cache.WithName("risk"))
	historyOpts := append(cache.Options(cfg.Cache, backend), cache.WithName("history"))

	base := []risk.Option{
		risk.WithHistoryPolicy(cfg.History),
		risk.WithSnapshotCache(cache.New[*domain.RiskSnapshot](snapshotOpts...)),
		risk.WithHistoryCache(cache.New[[]*domain.GlobalRiskScore](historyOpts...)),
	}

	slog.Debug("engine initialized",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"criticality_rules", len(scoringCfg.CriticalityRules),
	)

	return &engine{
		cfg:     cfg,
		repo:    repo,
		backend: backend,
		svc:     risk.NewService(repo, pipeline, append(base, opts...)...),
	}, nil
}

// Close releases the cache backend and the repository.
func (e *engine) Close() error {
	var errs []error
	if e.backend != nil {
		errs = append(errs, e.backend.Close())
	}
	errs = append(errs, e.repo.Close())
	return errors.Join(errs...)
}
