package scoring

import "github.com/rival420/donwatcher/internal/domain"

// Aggregator rolls group assessments up into the four risk categories.
type Aggregator struct {
	weights CategoryWeights
}

// NewAggregator creates an aggregator with the given category weights.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{weights: cfg.CategoryWeights}
}

// Aggregate computes category scores and the weighted domain group score.
// The criticality tag used for privilege escalation is the one carried on
// each assessment. No groups yields all zeros.
//
//   - access_governance: unaccepted share of all members
//   - privilege_escalation: unaccepted share of members in critical/high groups
//   - compliance_posture: share of monitored groups with no accepted member;
//     an empty group has no reviewed member and counts as uncovered
//   - operational_risk: mean process-gap indicator over non-empty groups
//     (zero acceptance, membership above the tier ceiling)
func (a *Aggregator) Aggregate(groups []domain.GroupRiskAssessment) (domain.CategoryScores, float64) {
	var (
		total, unaccepted         int
		privTotal, privUnaccepted int
		monitored, nonEmpty       int
		reviewed                  int
		gaps                      float64
	)

	for _, g := range groups {
		monitored++
		if g.TotalMembers == 0 {
			continue
		}
		nonEmpty++
		total += g.TotalMembers
		unaccepted += g.UnacceptedMembers

		if g.Criticality.Privileged() {
			privTotal += g.TotalMembers
			privUnaccepted += g.UnacceptedMembers
		}

		if g.AcceptedMembers > 0 {
			reviewed++
		}

		var indicators float64
		if g.AcceptedMembers == 0 {
			indicators++
		}
		if g.ExcessMembers > 0 {
			indicators++
		}
		gaps += indicators / 2
	}

	var scores domain.CategoryScores
	scores.AccessGovernance = percent(unaccepted, total)
	scores.PrivilegeEscalation = percent(privUnaccepted, privTotal)
	scores.CompliancePosture = percent(monitored-reviewed, monitored)
	if nonEmpty > 0 {
		scores.OperationalRisk = gaps / float64(nonEmpty) * 100
	}

	return scores, a.DomainGroupScore(scores)
}

// DomainGroupScore is the weighted sum of category scores, clamped to [0, 100].
// Each product is rounded separately so results do not depend on FMA fusion.
func (a *Aggregator) DomainGroupScore(s domain.CategoryScores) float64 {
	sum := float64(s.AccessGovernance*a.weights.AccessGovernance) +
		float64(s.PrivilegeEscalation*a.weights.PrivilegeEscalation) +
		float64(s.CompliancePosture*a.weights.CompliancePosture) +
		float64(s.OperationalRisk*a.weights.OperationalRisk)
	return clamp(sum, 0, 100)
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
