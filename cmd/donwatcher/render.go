package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/risk"
	"github.com/rival420/donwatcher/internal/scoring"
)

var (
	colorAccent   = lipgloss.Color("#4EA8DE")
	colorBorder   = lipgloss.Color("#3A4A5A")
	colorMuted    = lipgloss.Color("#7A8A99")
	colorLow      = lipgloss.Color("#2ECC71")
	colorMedium   = lipgloss.Color("#F4D03F")
	colorHigh     = lipgloss.Color("#E67E22")
	colorCritical = lipgloss.Color("#E74C3C")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(colorLow)
	errorStyle  = lipgloss.NewStyle().Foreground(colorCritical)
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 3).
			Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func trendArrow(t domain.TrendDirection) string {
	switch t {
	case domain.TrendDegrading:
		return lipgloss.NewStyle().Foreground(colorCritical).Render("▲ degrading")
	case domain.TrendImproving:
		return lipgloss.NewStyle().Foreground(colorLow).Render("▼ improving")
	default:
		return mutedStyle.Render("● stable")
	}
}

func signed(v float64) string {
	if v > 0 {
		return "+" + formatScore(v)
	}
	return formatScore(v)
}

func renderScore(w io.Writer, svc *risk.Service, global *domain.GlobalRiskScore, breakdown *domain.DomainRiskAssessment) {
	cfg := svc.ScoringConfig()
	level := cfg.Levels.Level(global.GlobalScore)

	fmt.Fprintln(w, titleStyle.Render(global.Domain)+"  "+mutedStyle.Render(global.AssessmentDate.Format("2006-01-02 15:04 MST")))
	fmt.Fprintf(w, "Global risk  %s  %s  %s %s\n\n",
		levelStyle(level).Render(formatScore(global.GlobalScore)),
		levelStyle(level).Render(string(level)),
		trendArrow(global.TrendDirection),
		mutedStyle.Render(signed(global.TrendPercentage)),
	)

	infra := mutedStyle.Render("no report")
	if global.PingCastleScore != nil {
		infra = formatScore(*global.PingCastleScore)
	}
	sources := newTable("SOURCE", "SCORE", "CONTRIBUTION").
		Row("Infrastructure", infra, formatScore(global.PingCastleContribution)+"%").
		Row("Domain groups", formatScore(global.DomainGroupScore), formatScore(global.DomainGroupContribution)+"%")
	fmt.Fprintln(w, sources)

	weights := map[domain.Category]float64{
		domain.CategoryAccessGovernance:    cfg.CategoryWeights.AccessGovernance,
		domain.CategoryPrivilegeEscalation: cfg.CategoryWeights.PrivilegeEscalation,
		domain.CategoryCompliancePosture:   cfg.CategoryWeights.CompliancePosture,
		domain.CategoryOperationalRisk:     cfg.CategoryWeights.OperationalRisk,
	}
	categories := newTable("CATEGORY", "SCORE", "WEIGHT")
	for _, c := range domain.Categories {
		categories.Row(string(c), formatScore(breakdown.CategoryScores.Get(c)), strconv.FormatFloat(weights[c], 'f', 2, 64))
	}
	fmt.Fprintln(w, categories)

	if len(breakdown.GroupRisks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No monitored groups."))
		return
	}

	groups := newTable("GROUP", "CLASS", "MEMBERS", "ACCEPTED", "UNACCEPTED", "SCORE", "LEVEL")
	var warnings []string
	for _, g := range breakdown.GroupRisks {
		groups.Row(
			g.GroupName,
			string(g.Criticality),
			strconv.Itoa(g.TotalMembers),
			strconv.Itoa(g.AcceptedMembers),
			strconv.Itoa(g.UnacceptedMembers),
			formatScore(g.RiskScore),
			levelStyle(g.RiskLevel).Render(string(g.RiskLevel)),
		)
		for _, warn := range g.Warnings {
			warnings = append(warnings, g.GroupName+": "+warn)
		}
	}
	fmt.Fprintln(w, groups)

	for _, warn := range warnings {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(colorMedium).Render("! "+warn))
	}
}

func renderHistory(w io.Writer, domainName string, days int, scores []*domain.GlobalRiskScore) {
	fmt.Fprintln(w, titleStyle.Render(domainName)+"  "+mutedStyle.Render(fmt.Sprintf("last %d days", days)))

	if len(scores) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No assessments in this window."))
		return
	}

	t := newTable("ASSESSED", "GLOBAL", "INFRASTRUCTURE", "DOMAIN GROUPS", "TREND", "CHANGE")
	for _, s := range scores {
		infra := "-"
		if s.PingCastleScore != nil {
			infra = formatScore(*s.PingCastleScore)
		}
		t.Row(
			s.AssessmentDate.Format("2006-01-02 15:04"),
			formatScore(s.GlobalScore),
			infra,
			formatScore(s.DomainGroupScore),
			trendArrow(s.TrendDirection),
			signed(s.TrendPercentage),
		)
	}
	fmt.Fprintln(w, t)
}

func renderScoringConfig(w io.Writer, path string, cfg scoring.Config) {
	fmt.Fprintln(w, okStyle.Render("✓ "+path+" is valid"))

	tiers := newTable("TIER", "MULTIPLIER", "EXPECTED MAX", "PENALTY/MEMBER", "MAX PENALTY")
	for _, row := range []struct {
		name string
		t    scoring.TierConstants
	}{
		{"critical", cfg.Tiers.Critical},
		{"high", cfg.Tiers.High},
		{"standard", cfg.Tiers.Standard},
	} {
		tiers.Row(row.name,
			formatScore(row.t.Multiplier),
			strconv.Itoa(row.t.ExpectedMaxMembers),
			formatScore(row.t.ExcessPenaltyPerMember),
			formatScore(row.t.MaxExcessPenalty),
		)
	}
	fmt.Fprintln(w, tiers)

	fmt.Fprintf(w, "Levels      medium %s, high %s, critical %s\n",
		formatScore(cfg.Levels.Medium), formatScore(cfg.Levels.High), formatScore(cfg.Levels.Critical))
	fmt.Fprintf(w, "Combination infrastructure %.2f, domain groups %.2f\n",
		cfg.Combination.Infrastructure, cfg.Combination.DomainGroup)
	fmt.Fprintf(w, "Trend       threshold %s points over %d days\n",
		formatScore(cfg.Trend.Threshold), cfg.Trend.LookbackDays)

	names := make([]string, len(cfg.CriticalityRules))
	for i, r := range cfg.CriticalityRules {
		names[i] = r.Name + " → " + string(r.Class)
	}
	fmt.Fprintf(w, "Rules       %s\n", strings.Join(names, ", "))
}
