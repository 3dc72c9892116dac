package domain

import "time"

// CriticalityClass is the tier of a monitored group. It selects the
// multiplier and membership ceiling used when scoring the group.
type CriticalityClass string

const (
	CriticalityCritical CriticalityClass = "critical"
	CriticalityHigh     CriticalityClass = "high"
	CriticalityStandard CriticalityClass = "standard"
)

// Valid reports whether c is one of the known tiers.
func (c CriticalityClass) Valid() bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityStandard:
		return true
	}
	return false
}

// Privileged reports whether c counts toward privilege escalation risk.
func (c CriticalityClass) Privileged() bool {
	return c == CriticalityCritical || c == CriticalityHigh
}

// RiskLevel is the bucketed form of a 0-100 risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// TrendDirection classifies the change of a global score against the prior assessment.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// GroupFact is the membership acceptance state of one monitored group,
// as reported by the latest domain group scan.
type GroupFact struct {
	Domain            string           `json:"domain"`
	GroupName         string           `json:"groupName"`
	TotalMembers      int              `json:"totalMembers"`
	AcceptedMembers   int              `json:"acceptedMembers"`
	UnacceptedMembers int              `json:"unacceptedMembers"`
	Criticality       CriticalityClass `json:"criticality"`
}

// ContributingFactors explains a group risk score.
//
// The four addends always sum to the group's RiskScore. UnacceptedRatio and
// CriticalityMultiplier are the inputs that produced UnacceptedRatioPoints.
type ContributingFactors struct {
	UnacceptedRatioPoints float64 `json:"unacceptedRatioPoints"`
	ExcessMemberPenalty   float64 `json:"excessMemberPenalty"`
	ZeroAcceptancePenalty float64 `json:"zeroAcceptancePenalty"`
	ClampAdjustment       float64 `json:"clampAdjustment"`

	UnacceptedRatio       float64 `json:"unacceptedRatio"`
	CriticalityMultiplier float64 `json:"criticalityMultiplier"`
}

// Sum returns the total of the additive factors.
func (f ContributingFactors) Sum() float64 {
	return f.UnacceptedRatioPoints + f.ExcessMemberPenalty + f.ZeroAcceptancePenalty + f.ClampAdjustment
}

// GroupRiskAssessment is the scored result for one group.
// Member counts are the normalized values the score was computed from.
type GroupRiskAssessment struct {
	GroupName           string              `json:"groupName"`
	Criticality         CriticalityClass    `json:"criticality"`
	TotalMembers        int                 `json:"totalMembers"`
	AcceptedMembers     int                 `json:"acceptedMembers"`
	UnacceptedMembers   int                 `json:"unacceptedMembers"`
	ExcessMembers       int                 `json:"excessMembers"`
	RiskScore           float64             `json:"riskScore"`
	RiskLevel           RiskLevel           `json:"riskLevel"`
	ContributingFactors ContributingFactors `json:"contributingFactors"`
	Warnings            []string            `json:"warnings,omitempty"`
}

// Category is one of the four fixed domain group risk categories.
type Category string

const (
	CategoryAccessGovernance    Category = "access_governance"
	CategoryPrivilegeEscalation Category = "privilege_escalation"
	CategoryCompliancePosture   Category = "compliance_posture"
	CategoryOperationalRisk     Category = "operational_risk"
)

// Categories lists the categories in their canonical order.
var Categories = []Category{
	CategoryAccessGovernance,
	CategoryPrivilegeEscalation,
	CategoryCompliancePosture,
	CategoryOperationalRisk,
}

// CategoryScores holds the 0-100 score of each category.
type CategoryScores struct {
	AccessGovernance    float64 `json:"access_governance"`
	PrivilegeEscalation float64 `json:"privilege_escalation"`
	CompliancePosture   float64 `json:"compliance_posture"`
	OperationalRisk     float64 `json:"operational_risk"`
}

// Get returns the score for a category.
func (s CategoryScores) Get(c Category) float64 {
	switch c {
	case CategoryAccessGovernance:
		return s.AccessGovernance
	case CategoryPrivilegeEscalation:
		return s.PrivilegeEscalation
	case CategoryCompliancePosture:
		return s.CompliancePosture
	case CategoryOperationalRisk:
		return s.OperationalRisk
	}
	return 0
}

// DomainRiskAssessment is the persisted snapshot of all group scores for a domain.
type DomainRiskAssessment struct {
	ID               string                `json:"id"`
	Domain           string                `json:"domain"`
	AssessmentDate   time.Time             `json:"assessmentDate"`
	CategoryScores   CategoryScores        `json:"categoryScores"`
	DomainGroupScore float64               `json:"domainGroupScore"`
	GroupRisks       []GroupRiskAssessment `json:"groupRisks"`
}

// Clone returns a deep copy.
func (a *DomainRiskAssessment) Clone() *DomainRiskAssessment {
	if a == nil {
		return nil
	}
	out := *a
	out.GroupRisks = make([]GroupRiskAssessment, len(a.GroupRisks))
	for i, g := range a.GroupRisks {
		if g.Warnings != nil {
			g.Warnings = append([]string(nil), g.Warnings...)
		}
		out.GroupRisks[i] = g
	}
	return &out
}

// GlobalRiskScore is the combined score for a domain at one point in time.
type GlobalRiskScore struct {
	ID                      string         `json:"id"`
	Domain                  string         `json:"domain"`
	AssessmentDate          time.Time      `json:"assessmentDate"`
	GlobalScore             float64        `json:"globalScore"`
	PingCastleScore         *float64       `json:"pingcastleScore"`
	DomainGroupScore        float64        `json:"domainGroupScore"`
	PingCastleContribution  float64        `json:"pingcastleContribution"`
	DomainGroupContribution float64        `json:"domainGroupContribution"`
	TrendDirection          TrendDirection `json:"trendDirection"`
	TrendPercentage         float64        `json:"trendPercentage"`
}

// Clone returns a deep copy.
func (g *GlobalRiskScore) Clone() *GlobalRiskScore {
	if g == nil {
		return nil
	}
	out := *g
	if g.PingCastleScore != nil {
		v := *g.PingCastleScore
		out.PingCastleScore = &v
	}
	return &out
}

// InfrastructureScore is the latest external score for a domain.
// Present is false when no infrastructure report exists.
type InfrastructureScore struct {
	Present    bool      `json:"present"`
	Value      float64   `json:"value"`
	Source     string    `json:"source,omitempty"`
	ReportedAt time.Time `json:"reportedAt,omitempty"`
}

// RiskSnapshot is one pipeline run: the global score and the breakdown it came from.
type RiskSnapshot struct {
	Global    *GlobalRiskScore      `json:"global"`
	Breakdown *DomainRiskAssessment `json:"breakdown"`
}
