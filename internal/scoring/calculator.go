package scoring

import (
	"fmt"

	"github.com/rival420/donwatcher/internal/domain"
)

// Calculator scores a single monitored group from its acceptance facts.
// It is stateless apart from its constants and safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given constants.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Evaluate scores one group.
//
// Algorithm:
// 1. Normalize inconsistent member counts (recorded in Warnings)
// 2. base = unaccepted/total * 100 * tier multiplier
// 3. excess = members over the tier ceiling * per-member penalty, capped
// 4. zero acceptance penalty when nobody in a non-empty group is accepted
// 5. score = clamp(base + excess + zero, 0, 100); the clamp delta is a factor too
func (c *Calculator) Evaluate(fact domain.GroupFact) domain.GroupRiskAssessment {
	total, accepted, unaccepted, warnings := normalizeCounts(fact)

	class := fact.Criticality
	if !class.Valid() {
		warnings = append(warnings, fmt.Sprintf("unknown criticality class %q, scored as %s", class, domain.CriticalityStandard))
		class = domain.CriticalityStandard
	}

	result := domain.GroupRiskAssessment{
		GroupName:         fact.GroupName,
		Criticality:       class,
		TotalMembers:      total,
		AcceptedMembers:   accepted,
		UnacceptedMembers: unaccepted,
		RiskLevel:         domain.RiskLevelLow,
		Warnings:          warnings,
	}

	// Empty groups carry no risk.
	if total == 0 {
		return result
	}

	tier := c.cfg.Tiers.For(class)

	ratio := float64(unaccepted) / float64(total)
	base := ratio * 100 * tier.Multiplier

	excessMembers := total - tier.ExpectedMaxMembers
	if excessMembers < 0 {
		excessMembers = 0
	}
	excess := float64(excessMembers) * tier.ExcessPenaltyPerMember
	if excess > tier.MaxExcessPenalty {
		excess = tier.MaxExcessPenalty
	}

	var zero float64
	if accepted == 0 {
		zero = c.cfg.ZeroAcceptancePenalty
	}

	raw := base + excess + zero
	score := clamp(raw, 0, 100)

	result.ExcessMembers = excessMembers
	result.RiskScore = score
	result.RiskLevel = c.cfg.Levels.Level(score)
	result.ContributingFactors = domain.ContributingFactors{
		UnacceptedRatioPoints: base,
		ExcessMemberPenalty:   excess,
		ZeroAcceptancePenalty: zero,
		ClampAdjustment:       score - raw,
		UnacceptedRatio:       ratio,
		CriticalityMultiplier: tier.Multiplier,
	}
	return result
}

// normalizeCounts makes total == accepted + unaccepted hold.
// A positive total is trusted over the split; a zero total is derived from the split.
func normalizeCounts(fact domain.GroupFact) (total, accepted, unaccepted int, warnings []string) {
	total, accepted, unaccepted = fact.TotalMembers, fact.AcceptedMembers, fact.UnacceptedMembers

	if total < 0 {
		warnings = append(warnings, fmt.Sprintf("negative total_members %d treated as 0", total))
		total = 0
	}
	if accepted < 0 {
		warnings = append(warnings, fmt.Sprintf("negative accepted_members %d treated as 0", accepted))
		accepted = 0
	}
	if unaccepted < 0 {
		warnings = append(warnings, fmt.Sprintf("negative unaccepted_members %d treated as 0", unaccepted))
		unaccepted = 0
	}

	if accepted+unaccepted == total {
		return total, accepted, unaccepted, warnings
	}

	if total == 0 {
		total = accepted + unaccepted
		warnings = append(warnings, fmt.Sprintf("total_members missing, derived as %d from accepted+unaccepted", total))
		return total, accepted, unaccepted, warnings
	}

	if accepted > total {
		warnings = append(warnings, fmt.Sprintf("accepted_members %d exceeds total_members %d, clamped", accepted, total))
		accepted = total
	}
	warnings = append(warnings, fmt.Sprintf("unaccepted_members %d inconsistent with total %d, recomputed as %d",
		unaccepted, total, total-accepted))
	unaccepted = total - accepted
	return total, accepted, unaccepted, warnings
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
