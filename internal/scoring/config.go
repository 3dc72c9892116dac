// Package scoring implements the risk scoring pipeline: per-group scores,
// category roll-up and the global score with its trend.
package scoring

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/rival420/donwatcher/internal/domain"
)

var validate = validator.New()

// TierConstants are the scoring constants for one criticality class.
type TierConstants struct {
	Multiplier             float64 `yaml:"multiplier" json:"multiplier" validate:"gt=0"`
	ExpectedMaxMembers     int     `yaml:"expected_max_members" json:"expectedMaxMembers" validate:"gte=0"`
	ExcessPenaltyPerMember float64 `yaml:"excess_penalty_per_member" json:"excessPenaltyPerMember" validate:"gte=0"`
	MaxExcessPenalty       float64 `yaml:"max_excess_penalty" json:"maxExcessPenalty" validate:"gte=0,lte=100"`
}

// TierTable holds one entry per criticality class. A tier missing from a
// config file decodes to a zero Multiplier and fails validation.
type TierTable struct {
	Critical TierConstants `yaml:"critical" json:"critical"`
	High     TierConstants `yaml:"high" json:"high"`
	Standard TierConstants `yaml:"standard" json:"standard"`
}

// For returns the constants of a class. Unknown classes get the standard tier.
func (t TierTable) For(class domain.CriticalityClass) TierConstants {
	switch class {
	case domain.CriticalityCritical:
		return t.Critical
	case domain.CriticalityHigh:
		return t.High
	default:
		return t.Standard
	}
}

// LevelThresholds are the lower bounds of the medium, high and critical levels.
type LevelThresholds struct {
	Medium   float64 `yaml:"medium" json:"medium" validate:"gt=0,lte=100"`
	High     float64 `yaml:"high" json:"high" validate:"gt=0,lte=100"`
	Critical float64 `yaml:"critical" json:"critical" validate:"gt=0,lte=100"`
}

// Level buckets a score.
func (l LevelThresholds) Level(score float64) domain.RiskLevel {
	switch {
	case score < l.Medium:
		return domain.RiskLevelLow
	case score < l.High:
		return domain.RiskLevelMedium
	case score < l.Critical:
		return domain.RiskLevelHigh
	default:
		return domain.RiskLevelCritical
	}
}

// CategoryWeights weight each category in the domain group score. They sum to 1.
type CategoryWeights struct {
	AccessGovernance    float64 `yaml:"access_governance" json:"access_governance" validate:"gte=0,lte=1"`
	PrivilegeEscalation float64 `yaml:"privilege_escalation" json:"privilege_escalation" validate:"gte=0,lte=1"`
	CompliancePosture   float64 `yaml:"compliance_posture" json:"compliance_posture" validate:"gte=0,lte=1"`
	OperationalRisk     float64 `yaml:"operational_risk" json:"operational_risk" validate:"gte=0,lte=1"`
}

func (w CategoryWeights) sum() float64 {
	return w.AccessGovernance + w.PrivilegeEscalation + w.CompliancePosture + w.OperationalRisk
}

// CombinationWeights weight the infrastructure and domain group scores. They sum to 1.
type CombinationWeights struct {
	Infrastructure float64 `yaml:"infrastructure" json:"infrastructure" validate:"gte=0,lte=1"`
	DomainGroup    float64 `yaml:"domain_group" json:"domainGroup" validate:"gte=0,lte=1"`
}

// TrendConfig controls trend classification.
type TrendConfig struct {
	// Threshold is the score delta beyond which the trend is not stable.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gte=0"`

	// LookbackDays bounds how old the prior assessment may be.
	LookbackDays int `yaml:"lookback_days" json:"lookbackDays" validate:"gt=0"`
}

// Config is the full set of scoring constants.
type Config struct {
	Tiers                 TierTable                `yaml:"tiers" json:"tiers"`
	ZeroAcceptancePenalty float64                  `yaml:"zero_acceptance_penalty" json:"zeroAcceptancePenalty" validate:"gte=0,lte=100"`
	Levels                LevelThresholds          `yaml:"levels" json:"levels"`
	CategoryWeights       CategoryWeights          `yaml:"category_weights" json:"categoryWeights"`
	Combination           CombinationWeights       `yaml:"combination" json:"combination"`
	Trend                 TrendConfig              `yaml:"trend" json:"trend"`
	CriticalityRules      []domain.CriticalityRule `yaml:"criticality_rules" json:"criticalityRules" validate:"dive"`
}

// DefaultConfig returns the shipped scoring constants. configs/scoring.yaml
// carries the same values.
func DefaultConfig() Config {
	return Config{
		Tiers: TierTable{
			Critical: TierConstants{Multiplier: 2.0, ExpectedMaxMembers: 5, ExcessPenaltyPerMember: 5, MaxExcessPenalty: 25},
			High:     TierConstants{Multiplier: 1.5, ExpectedMaxMembers: 10, ExcessPenaltyPerMember: 2, MaxExcessPenalty: 15},
			Standard: TierConstants{Multiplier: 1.0, ExpectedMaxMembers: 25, ExcessPenaltyPerMember: 1, MaxExcessPenalty: 10},
		},
		ZeroAcceptancePenalty: 15,
		Levels:                LevelThresholds{Medium: 25, High: 50, Critical: 75},
		CategoryWeights: CategoryWeights{
			AccessGovernance:    0.30,
			PrivilegeEscalation: 0.40,
			CompliancePosture:   0.20,
			OperationalRisk:     0.10,
		},
		Combination: CombinationWeights{Infrastructure: 0.70, DomainGroup: 0.30},
		Trend:       TrendConfig{Threshold: 5, LookbackDays: 30},
		CriticalityRules: []domain.CriticalityRule{
			{
				Name:       "tier-zero-groups",
				Expression: `group_name in ["Domain Admins", "Enterprise Admins", "Schema Admins", "Administrators"]`,
				Class:      domain.CriticalityCritical,
			},
			{
				Name: "operator-groups",
				Expression: `group_name in ["Account Operators", "Backup Operators", "Server Operators", "Print Operators", ` +
					`"DnsAdmins", "Group Policy Creator Owners", "Key Admins", "Enterprise Key Admins"]`,
				Class: domain.CriticalityHigh,
			},
		},
	}
}

const weightTolerance = 1e-9

// Validate checks field ranges and the cross-field invariants.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if !(c.Levels.Medium < c.Levels.High && c.Levels.High < c.Levels.Critical) {
		return fmt.Errorf("%w: level thresholds must be increasing (medium %.2f, high %.2f, critical %.2f)",
			domain.ErrInvalidInput, c.Levels.Medium, c.Levels.High, c.Levels.Critical)
	}
	if s := c.CategoryWeights.sum(); math.Abs(s-1) > weightTolerance {
		return fmt.Errorf("%w: category weights must sum to 1, got %v", domain.ErrInvalidInput, s)
	}
	if s := c.Combination.Infrastructure + c.Combination.DomainGroup; math.Abs(s-1) > weightTolerance {
		return fmt.Errorf("%w: combination weights must sum to 1, got %v", domain.ErrInvalidInput, s)
	}
	for _, r := range c.CriticalityRules {
		if !r.Class.Valid() {
			return fmt.Errorf("%w: criticality rule %q has unknown class %q", domain.ErrInvalidInput, r.Name, r.Class)
		}
	}
	return nil
}
