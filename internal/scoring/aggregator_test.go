package scoring

import (
	"math"
	"testing"

	"github.com/rival420/donwatcher/internal/domain"
)

func TestAggregateEmpty(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	t.Run("NoGroups", func(t *testing.T) {
		scores, dg := agg.Aggregate(nil)
		if scores != (domain.CategoryScores{}) || dg != 0 {
			t.Errorf("expected zero scores, got %+v / %v", scores, dg)
		}
	})

	t.Run("OnlyEmptyGroups", func(t *testing.T) {
		groups := []domain.GroupRiskAssessment{
			{GroupName: "Schema Admins", Criticality: domain.CriticalityCritical},
			{GroupName: "Print Operators", Criticality: domain.CriticalityHigh},
		}
		scores, dg := agg.Aggregate(groups)

		// Nobody reviewed either group; no member carries risk.
		want := domain.CategoryScores{CompliancePosture: 100}
		if scores != want {
			t.Errorf("expected %+v, got %+v", want, scores)
		}
		if math.Abs(dg-20) > tolerance {
			t.Errorf("expected domain group score 20, got %v", dg)
		}
	})
}

func TestCompliancePostureCountsEmptyGroups(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	groups := []domain.GroupRiskAssessment{
		{GroupName: "Empty Ops", Criticality: domain.CriticalityStandard},
		{GroupName: "Reviewed", Criticality: domain.CriticalityStandard, TotalMembers: 2, AcceptedMembers: 2},
	}
	scores, _ := agg.Aggregate(groups)

	if math.Abs(scores.CompliancePosture-50) > tolerance {
		t.Errorf("expected compliance_posture 50, got %v", scores.CompliancePosture)
	}
	if scores.OperationalRisk != 0 {
		t.Errorf("expected empty groups to be left out of operational_risk, got %v", scores.OperationalRisk)
	}
}

func TestAggregateCategories(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	agg := NewAggregator(DefaultConfig())

	facts := []domain.GroupFact{
		{GroupName: "Domain Admins", TotalMembers: 4, AcceptedMembers: 3, UnacceptedMembers: 1, Criticality: domain.CriticalityCritical},
		{GroupName: "Backup Operators", TotalMembers: 2, AcceptedMembers: 0, UnacceptedMembers: 2, Criticality: domain.CriticalityHigh},
		{GroupName: "Helpdesk", TotalMembers: 30, AcceptedMembers: 30, Criticality: domain.CriticalityStandard},
		{GroupName: "Schema Admins", Criticality: domain.CriticalityCritical},
	}

	groups := make([]domain.GroupRiskAssessment, 0, len(facts))
	for _, f := range facts {
		groups = append(groups, calc.Evaluate(f))
	}

	scores, dg := agg.Aggregate(groups)

	// 3 unaccepted of 36 members
	if want := 3.0 / 36.0 * 100; math.Abs(scores.AccessGovernance-want) > tolerance {
		t.Errorf("access_governance: expected %v, got %v", want, scores.AccessGovernance)
	}
	// 3 unaccepted of 6 privileged members
	if want := 50.0; math.Abs(scores.PrivilegeEscalation-want) > tolerance {
		t.Errorf("privilege_escalation: expected %v, got %v", want, scores.PrivilegeEscalation)
	}
	// Backup Operators and the empty Schema Admins have no reviewed member
	if want := 2.0 / 4.0 * 100; math.Abs(scores.CompliancePosture-want) > tolerance {
		t.Errorf("compliance_posture: expected %v, got %v", want, scores.CompliancePosture)
	}
	// Backup Operators: zero acceptance; Helpdesk: 5 over its ceiling
	if want := (0.5 + 0.5) / 3.0 * 100; math.Abs(scores.OperationalRisk-want) > tolerance {
		t.Errorf("operational_risk: expected %v, got %v", want, scores.OperationalRisk)
	}

	want := scores.AccessGovernance*0.3 + scores.PrivilegeEscalation*0.4 + scores.CompliancePosture*0.2 + scores.OperationalRisk*0.1
	if math.Abs(dg-want) > tolerance {
		t.Errorf("domain group score: expected %v, got %v", want, dg)
	}
	for _, c := range domain.Categories {
		if v := scores.Get(c); v < 0 || v > 100 {
			t.Errorf("%s out of range: %v", c, v)
		}
	}
}

func TestDomainGroupScoreClamped(t *testing.T) {
	cfg := DefaultConfig()
	agg := NewAggregator(cfg)

	full := domain.CategoryScores{AccessGovernance: 100, PrivilegeEscalation: 100, CompliancePosture: 100, OperationalRisk: 100}
	if got := agg.DomainGroupScore(full); got > 100 {
		t.Errorf("expected at most 100, got %v", got)
	}
}
