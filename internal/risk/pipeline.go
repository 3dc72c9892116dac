package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/rules"
	"github.com/rival420/donwatcher/internal/scoring"
)

// Pipeline is one immutable set of scoring components built from a scoring config.
// The service swaps the whole pipeline when the config changes.
type Pipeline struct {
	cfg        scoring.Config
	classifier *rules.Classifier
	calculator *scoring.Calculator
	aggregator *scoring.Aggregator
	combiner   *scoring.Combiner
}

// NewPipeline validates cfg and compiles its criticality rules.
func NewPipeline(cfg scoring.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	classifier, err := rules.NewClassifier(cfg.CriticalityRules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		calculator: scoring.NewCalculator(cfg),
		aggregator: scoring.NewAggregator(cfg),
		combiner:   scoring.NewCombiner(cfg),
	}, nil
}

// Config returns the constants the pipeline was built from.
func (p *Pipeline) Config() scoring.Config {
	return p.cfg
}

// Assess runs classification, group scoring, aggregation and combination.
// It does no I/O; prior may be nil.
func (p *Pipeline) Assess(domainName string, facts []domain.GroupFact, infra domain.InfrastructureScore, prior *domain.GlobalRiskScore, at time.Time) *domain.RiskSnapshot {
	groups := make([]domain.GroupRiskAssessment, 0, len(facts))
	for _, fact := range facts {
		class, warning := p.classifier.Classify(fact)
		fact.Criticality = class

		assessment := p.calculator.Evaluate(fact)
		if warning != "" {
			assessment.Warnings = append(assessment.Warnings, warning)
		}
		groups = append(groups, assessment)
	}

	categories, dgScore := p.aggregator.Aggregate(groups)

	var pingcastle *float64
	if infra.Present {
		v := infra.Value
		pingcastle = &v
	}

	var history []*domain.GlobalRiskScore
	if prior != nil {
		history = []*domain.GlobalRiskScore{prior}
	}

	global := p.combiner.Combine(domainName, dgScore, pingcastle, history, at)
	global.ID = uuid.New().String()

	return &domain.RiskSnapshot{
		Global: global,
		Breakdown: &domain.DomainRiskAssessment{
			ID:               uuid.New().String(),
			Domain:           domainName,
			AssessmentDate:   at,
			CategoryScores:   categories,
			DomainGroupScore: dgScore,
			GroupRisks:       groups,
		},
	}
}
