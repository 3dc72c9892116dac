package scoring

import (
	"time"

	"github.com/rival420/donwatcher/internal/domain"
)

// Combiner merges the domain group score with the infrastructure score and
// classifies the trend against the prior assessment.
type Combiner struct {
	weights CombinationWeights
	trend   TrendConfig
}

// NewCombiner creates a combiner with the given constants.
func NewCombiner(cfg Config) *Combiner {
	return &Combiner{weights: cfg.Combination, trend: cfg.Trend}
}

// Combine builds a new GlobalRiskScore assessed at the given time.
//
// With an infrastructure score:    global = infra*0.70 + domainGroup*0.30
// Without one:                     global = domainGroup, contributions 0/100
//
// history may hold any prior scores for the domain; only the newest one
// before at and within the lookback window is used for the trend. Combine
// does not modify history and leaves ID empty.
func (c *Combiner) Combine(domainName string, domainGroupScore float64, pingcastle *float64, history []*domain.GlobalRiskScore, at time.Time) *domain.GlobalRiskScore {
	dg := clamp(domainGroupScore, 0, 100)

	result := &domain.GlobalRiskScore{
		Domain:           domainName,
		AssessmentDate:   at,
		DomainGroupScore: dg,
	}

	if pingcastle == nil {
		result.GlobalScore = dg
		result.PingCastleContribution = 0
		result.DomainGroupContribution = 100
	} else {
		pc := clamp(*pingcastle, 0, 100)
		result.PingCastleScore = &pc

		// Products are rounded separately so results do not depend on FMA fusion.
		pcPart := float64(pc * c.weights.Infrastructure)
		dgPart := float64(dg * c.weights.DomainGroup)
		result.GlobalScore = clamp(pcPart+dgPart, 0, 100)

		if result.GlobalScore > 0 {
			result.PingCastleContribution = pcPart / result.GlobalScore * 100
			result.DomainGroupContribution = 100 - result.PingCastleContribution
		} else {
			// Both inputs are zero: attribute by nominal weight.
			result.PingCastleContribution = c.weights.Infrastructure * 100
			result.DomainGroupContribution = c.weights.DomainGroup * 100
		}
	}

	result.TrendDirection = domain.TrendStable
	if prior := c.priorScore(history, at); prior != nil {
		result.TrendPercentage = result.GlobalScore - prior.GlobalScore
		result.TrendDirection = c.classify(result.TrendPercentage)
	}

	return result
}

// priorScore returns the newest score strictly before at and inside the lookback window.
func (c *Combiner) priorScore(history []*domain.GlobalRiskScore, at time.Time) *domain.GlobalRiskScore {
	oldest := at.AddDate(0, 0, -c.trend.LookbackDays)

	var prior *domain.GlobalRiskScore
	for _, h := range history {
		if h == nil || !h.AssessmentDate.Before(at) || h.AssessmentDate.Before(oldest) {
			continue
		}
		if prior == nil || h.AssessmentDate.After(prior.AssessmentDate) {
			prior = h
		}
	}
	return prior
}

func (c *Combiner) classify(delta float64) domain.TrendDirection {
	switch {
	case delta > c.trend.Threshold:
		return domain.TrendDegrading
	case delta < -c.trend.Threshold:
		return domain.TrendImproving
	default:
		return domain.TrendStable
	}
}
