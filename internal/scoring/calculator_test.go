package scoring

import (
	"math"
	"testing"

	"github.com/rival420/donwatcher/internal/domain"
)

const tolerance = 1e-9

func TestEvaluateEmptyGroup(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	for _, class := range []domain.CriticalityClass{domain.CriticalityCritical, domain.CriticalityHigh, domain.CriticalityStandard} {
		t.Run(string(class), func(t *testing.T) {
			got := calc.Evaluate(domain.GroupFact{GroupName: "Empty", Criticality: class})

			if got.RiskScore != 0 {
				t.Errorf("expected score 0, got %v", got.RiskScore)
			}
			if got.RiskLevel != domain.RiskLevelLow {
				t.Errorf("expected level low, got %s", got.RiskLevel)
			}
			if got.ContributingFactors != (domain.ContributingFactors{}) {
				t.Errorf("expected zero factors, got %+v", got.ContributingFactors)
			}
		})
	}
}

func TestEvaluateFactors(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	tests := []struct {
		name      string
		fact      domain.GroupFact
		wantScore float64
		wantLevel domain.RiskLevel
		wantBase  float64
		wantExc   float64
		wantZero  float64
	}{
		{
			name:      "StandardPartiallyAccepted",
			fact:      domain.GroupFact{GroupName: "Helpdesk", TotalMembers: 10, AcceptedMembers: 8, UnacceptedMembers: 2, Criticality: domain.CriticalityStandard},
			wantScore: 20,
			wantLevel: domain.RiskLevelLow,
			wantBase:  20,
		},
		{
			name:      "HighFullyAccepted",
			fact:      domain.GroupFact{GroupName: "Backup Operators", TotalMembers: 4, AcceptedMembers: 4, Criticality: domain.CriticalityHigh},
			wantScore: 0,
			wantLevel: domain.RiskLevelLow,
		},
		{
			name:      "HighWithExcessMembers",
			fact:      domain.GroupFact{GroupName: "Server Operators", TotalMembers: 12, AcceptedMembers: 10, UnacceptedMembers: 2, Criticality: domain.CriticalityHigh},
			wantScore: 25 + 4,
			wantLevel: domain.RiskLevelMedium,
			wantBase:  2.0 / 12.0 * 100 * 1.5,
			wantExc:   4,
		},
		{
			name:      "StandardNeverReviewed",
			fact:      domain.GroupFact{GroupName: "Remote Desktop Users", TotalMembers: 4, UnacceptedMembers: 4, Criticality: domain.CriticalityStandard},
			wantScore: 100,
			wantLevel: domain.RiskLevelCritical,
			wantBase:  100,
			wantZero:  15,
		},
		{
			name:      "ExcessPenaltyCapped",
			fact:      domain.GroupFact{GroupName: "Domain Users Admins", TotalMembers: 100, AcceptedMembers: 100, Criticality: domain.CriticalityStandard},
			wantScore: 10,
			wantLevel: domain.RiskLevelLow,
			wantExc:   10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Evaluate(tt.fact)
			f := got.ContributingFactors

			if math.Abs(got.RiskScore-tt.wantScore) > tolerance {
				t.Errorf("expected score %v, got %v", tt.wantScore, got.RiskScore)
			}
			if got.RiskLevel != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, got.RiskLevel)
			}
			if math.Abs(f.UnacceptedRatioPoints-tt.wantBase) > tolerance {
				t.Errorf("expected base %v, got %v", tt.wantBase, f.UnacceptedRatioPoints)
			}
			if math.Abs(f.ExcessMemberPenalty-tt.wantExc) > tolerance {
				t.Errorf("expected excess penalty %v, got %v", tt.wantExc, f.ExcessMemberPenalty)
			}
			if f.ZeroAcceptancePenalty != tt.wantZero {
				t.Errorf("expected zero acceptance penalty %v, got %v", tt.wantZero, f.ZeroAcceptancePenalty)
			}
			if len(got.Warnings) != 0 {
				t.Errorf("expected no warnings, got %v", got.Warnings)
			}
		})
	}
}

func TestEvaluateClampIsAFactor(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	got := calc.Evaluate(domain.GroupFact{
		GroupName:         "Domain Admins",
		TotalMembers:      5,
		AcceptedMembers:   2,
		UnacceptedMembers: 3,
		Criticality:       domain.CriticalityCritical,
	})

	if got.RiskScore != 100 {
		t.Fatalf("expected clamped score 100, got %v", got.RiskScore)
	}
	if math.Abs(got.ContributingFactors.UnacceptedRatioPoints-120) > tolerance {
		t.Errorf("expected base 120, got %v", got.ContributingFactors.UnacceptedRatioPoints)
	}
	if math.Abs(got.ContributingFactors.ClampAdjustment+20) > tolerance {
		t.Errorf("expected clamp adjustment -20, got %v", got.ContributingFactors.ClampAdjustment)
	}
}

func TestEvaluateNormalizesInconsistentFacts(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	tests := []struct {
		name           string
		fact           domain.GroupFact
		wantTotal      int
		wantAccepted   int
		wantUnaccepted int
	}{
		{
			name:           "AcceptedExceedsTotal",
			fact:           domain.GroupFact{TotalMembers: 3, AcceptedMembers: 5, UnacceptedMembers: 0},
			wantTotal:      3,
			wantAccepted:   3,
			wantUnaccepted: 0,
		},
		{
			name:           "SplitDisagreesWithTotal",
			fact:           domain.GroupFact{TotalMembers: 10, AcceptedMembers: 4, UnacceptedMembers: 2},
			wantTotal:      10,
			wantAccepted:   4,
			wantUnaccepted: 6,
		},
		{
			name:           "MissingTotal",
			fact:           domain.GroupFact{AcceptedMembers: 1, UnacceptedMembers: 2},
			wantTotal:      3,
			wantAccepted:   1,
			wantUnaccepted: 2,
		},
		{
			name:           "NegativeCounts",
			fact:           domain.GroupFact{TotalMembers: -1, AcceptedMembers: -2, UnacceptedMembers: 4},
			wantTotal:      4,
			wantAccepted:   0,
			wantUnaccepted: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fact.GroupName = "Account Operators"
			tt.fact.Criticality = domain.CriticalityHigh

			got := calc.Evaluate(tt.fact)

			if got.TotalMembers != tt.wantTotal || got.AcceptedMembers != tt.wantAccepted || got.UnacceptedMembers != tt.wantUnaccepted {
				t.Errorf("expected %d/%d/%d, got %d/%d/%d",
					tt.wantTotal, tt.wantAccepted, tt.wantUnaccepted,
					got.TotalMembers, got.AcceptedMembers, got.UnacceptedMembers)
			}
			if got.TotalMembers != got.AcceptedMembers+got.UnacceptedMembers {
				t.Error("normalized counts do not add up")
			}
			if len(got.Warnings) == 0 {
				t.Error("expected a normalization warning")
			}
			if got.RiskScore < 0 || got.RiskScore > 100 {
				t.Errorf("score out of range: %v", got.RiskScore)
			}
		})
	}
}

func TestEvaluateUnknownClass(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	got := calc.Evaluate(domain.GroupFact{GroupName: "Custom", TotalMembers: 2, AcceptedMembers: 1, UnacceptedMembers: 1, Criticality: "tier-7"})

	if got.Criticality != domain.CriticalityStandard {
		t.Errorf("expected standard class, got %s", got.Criticality)
	}
	if got.ContributingFactors.CriticalityMultiplier != 1.0 {
		t.Errorf("expected standard multiplier, got %v", got.ContributingFactors.CriticalityMultiplier)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", got.Warnings)
	}
}

// Every fact in a grid keeps the score in range, explains it exactly and
// never scores lower when an accepted member becomes unaccepted.
func TestEvaluateProperties(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	classes := []domain.CriticalityClass{domain.CriticalityCritical, domain.CriticalityHigh, domain.CriticalityStandard}

	for _, class := range classes {
		for total := 0; total <= 40; total++ {
			prev := -1.0
			for unaccepted := 0; unaccepted <= total; unaccepted++ {
				fact := domain.GroupFact{
					GroupName:         "G",
					TotalMembers:      total,
					AcceptedMembers:   total - unaccepted,
					UnacceptedMembers: unaccepted,
					Criticality:       class,
				}
				got := calc.Evaluate(fact)

				if got.RiskScore < 0 || got.RiskScore > 100 {
					t.Fatalf("%s %d/%d: score out of range: %v", class, unaccepted, total, got.RiskScore)
				}
				if math.Abs(got.ContributingFactors.Sum()-got.RiskScore) > tolerance {
					t.Fatalf("%s %d/%d: factors sum %v != score %v", class, unaccepted, total, got.ContributingFactors.Sum(), got.RiskScore)
				}
				if got.RiskScore < prev {
					t.Fatalf("%s %d/%d: score decreased from %v to %v", class, unaccepted, total, prev, got.RiskScore)
				}
				if again := calc.Evaluate(fact); again.RiskScore != got.RiskScore || again.ContributingFactors != got.ContributingFactors {
					t.Fatalf("%s %d/%d: evaluation not deterministic", class, unaccepted, total)
				}
				prev = got.RiskScore
			}
		}
	}
}

func TestLevelThresholds(t *testing.T) {
	levels := DefaultConfig().Levels

	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLevelLow},
		{24.999, domain.RiskLevelLow},
		{25, domain.RiskLevelMedium},
		{49.9, domain.RiskLevelMedium},
		{50, domain.RiskLevelHigh},
		{74.9, domain.RiskLevelHigh},
		{75, domain.RiskLevelCritical},
		{100, domain.RiskLevelCritical},
	}

	for _, tt := range tests {
		if got := levels.Level(tt.score); got != tt.want {
			t.Errorf("Level(%v) = %s, expected %s", tt.score, got, tt.want)
		}
	}
}
