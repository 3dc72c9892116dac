// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rival420/donwatcher/internal/domain"
)

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := runMigrations(db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLRepository{db: db, driver: cfg.Driver}, nil
}

// ListGroupFacts aggregates member acceptance per monitored group.
// An unknown domain yields an empty slice.
func (r *SQLRepository) ListGroupFacts(ctx context.Context, domainName string) ([]domain.GroupFact, error) {
	query := `
		SELECT g.group_name, g.criticality,
			   COUNT(m.member_name),
			   COALESCE(SUM(CASE WHEN m.accepted THEN 1 ELSE 0 END), 0)
		FROM monitored_groups g
		LEFT JOIN group_members m ON m.domain = g.domain AND m.group_name = g.group_name
		WHERE g.domain = ?
		GROUP BY g.group_name, g.criticality
		ORDER BY g.group_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domainName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts := []domain.GroupFact{}
	for rows.Next() {
		f := domain.GroupFact{Domain: domainName}
		var class string
		if err := rows.Scan(&f.GroupName, &class, &f.TotalMembers, &f.AcceptedMembers); err != nil {
			return nil, err
		}
		f.Criticality = domain.CriticalityClass(class)
		f.UnacceptedMembers = f.TotalMembers - f.AcceptedMembers
		facts = append(facts, f)
	}

	return facts, rows.Err()
}

// LatestInfrastructureScore returns the most recently reported score.
func (r *SQLRepository) LatestInfrastructureScore(ctx context.Context, domainName string) (domain.InfrastructureScore, error) {
	query := `
		SELECT score, source, reported_at
		FROM infrastructure_scores
		WHERE domain = ?
		ORDER BY reported_at DESC
		LIMIT 1
	`

	score := domain.InfrastructureScore{Present: true}
	err := r.db.QueryRowContext(ctx, r.rebind(query), domainName).Scan(
		&score.Value, &score.Source, &score.ReportedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InfrastructureScore{}, nil
	}
	if err != nil {
		return domain.InfrastructureScore{}, err
	}

	score.ReportedAt = score.ReportedAt.UTC()
	return score, nil
}

// AppendSnapshot records the global score and its breakdown in one
// transaction. IDs are assigned when empty; an ID that is already stored is
// skipped, so retrying a write that did commit succeeds.
func (r *SQLRepository) AppendSnapshot(ctx context.Context, snap *domain.RiskSnapshot) error {
	if snap == nil || snap.Global == nil || snap.Breakdown == nil {
		return fmt.Errorf("%w: snapshot needs a global score and a breakdown", domain.ErrInvalidInput)
	}
	if snap.Global.Domain == "" || snap.Breakdown.Domain != snap.Global.Domain {
		return fmt.Errorf("%w: snapshot rows must share one domain", domain.ErrInvalidInput)
	}
	if snap.Global.ID == "" {
		snap.Global.ID = uuid.New().String()
	}
	if snap.Breakdown.ID == "" {
		snap.Breakdown.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertAssessment(ctx, tx, snap.Breakdown); err != nil {
		return fmt.Errorf("failed to insert assessment %s: %w", snap.Breakdown.ID, err)
	}
	if err := r.insertGlobalScore(ctx, tx, snap.Global); err != nil {
		return fmt.Errorf("failed to insert global score %s: %w", snap.Global.ID, err)
	}

	return tx.Commit()
}

func (r *SQLRepository) insertGlobalScore(ctx context.Context, tx *sql.Tx, s *domain.GlobalRiskScore) error {
	var pingcastle sql.NullFloat64
	if s.PingCastleScore != nil {
		pingcastle = sql.NullFloat64{Float64: *s.PingCastleScore, Valid: true}
	}

	query := `
		INSERT INTO global_risk_scores (
			id, domain, assessment_date, global_score, pingcastle_score,
			domain_group_score, pingcastle_contribution, domain_group_contribution,
			trend_direction, trend_percentage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		s.ID, s.Domain, s.AssessmentDate.UTC(), s.GlobalScore, pingcastle,
		s.DomainGroupScore, s.PingCastleContribution, s.DomainGroupContribution,
		string(s.TrendDirection), s.TrendPercentage,
	)
	return err
}

func (r *SQLRepository) insertAssessment(ctx context.Context, tx *sql.Tx, a *domain.DomainRiskAssessment) error {
	categories, err := json.Marshal(a.CategoryScores)
	if err != nil {
		return fmt.Errorf("failed to encode category scores: %w", err)
	}
	groups, err := json.Marshal(a.GroupRisks)
	if err != nil {
		return fmt.Errorf("failed to encode group risks: %w", err)
	}

	query := `
		INSERT INTO domain_risk_assessments (
			id, domain, assessment_date, category_scores, domain_group_score, group_risks
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		a.ID, a.Domain, a.AssessmentDate.UTC(), string(categories), a.DomainGroupScore, string(groups),
	)
	return err
}

const globalScoreColumns = `
	id, domain, assessment_date, global_score, pingcastle_score,
	domain_group_score, pingcastle_contribution, domain_group_contribution,
	trend_direction, trend_percentage
`

// LatestBefore returns the newest score strictly before ts, or nil.
func (r *SQLRepository) LatestBefore(ctx context.Context, domainName string, ts time.Time) (*domain.GlobalRiskScore, error) {
	query := `SELECT ` + globalScoreColumns + `
		FROM global_risk_scores
		WHERE domain = ? AND assessment_date < ?
		ORDER BY assessment_date DESC
		LIMIT 1
	`

	s, err := scanGlobalScore(r.db.QueryRowContext(ctx, r.rebind(query), domainName, ts.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListSince returns scores at or after since, oldest first.
func (r *SQLRepository) ListSince(ctx context.Context, domainName string, since time.Time) ([]*domain.GlobalRiskScore, error) {
	query := `SELECT ` + globalScoreColumns + `
		FROM global_risk_scores
		WHERE domain = ? AND assessment_date >= ?
		ORDER BY assessment_date ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domainName, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := []*domain.GlobalRiskScore{}
	for rows.Next() {
		s, err := scanGlobalScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}

	return scores, rows.Err()
}

// LatestAssessment returns the newest breakdown snapshot for a domain.
func (r *SQLRepository) LatestAssessment(ctx context.Context, domainName string) (*domain.DomainRiskAssessment, error) {
	query := `
		SELECT id, domain, assessment_date, category_scores, domain_group_score, group_risks
		FROM domain_risk_assessments
		WHERE domain = ?
		ORDER BY assessment_date DESC
		LIMIT 1
	`

	var a domain.DomainRiskAssessment
	var categories, groups string

	err := r.db.QueryRowContext(ctx, r.rebind(query), domainName).Scan(
		&a.ID, &a.Domain, &a.AssessmentDate, &categories, &a.DomainGroupScore, &groups,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(categories), &a.CategoryScores); err != nil {
		return nil, fmt.Errorf("failed to parse category scores for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(groups), &a.GroupRisks); err != nil {
		return nil, fmt.Errorf("failed to parse group risks for %s: %w", a.ID, err)
	}
	a.AssessmentDate = a.AssessmentDate.UTC()

	return &a, nil
}

// UpsertMonitoredGroup registers a group or updates its criticality.
func (r *SQLRepository) UpsertMonitoredGroup(ctx context.Context, domainName, group string, class domain.CriticalityClass) error {
	if domainName == "" || group == "" {
		return fmt.Errorf("%w: domain and group are required", domain.ErrInvalidInput)
	}
	if !class.Valid() {
		return fmt.Errorf("%w: unknown criticality %q", domain.ErrInvalidInput, class)
	}

	query := `
		INSERT INTO monitored_groups (domain, group_name, criticality, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain, group_name) DO UPDATE SET
			criticality = excluded.criticality,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), domainName, group, string(class), time.Now().UTC())
	return err
}

// UpsertGroupMember records a member of a monitored group.
func (r *SQLRepository) UpsertGroupMember(ctx context.Context, domainName, group, member string, accepted bool) error {
	if domainName == "" || group == "" || member == "" {
		return fmt.Errorf("%w: domain, group and member are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO group_members (domain, group_name, member_name, accepted, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain, group_name, member_name) DO UPDATE SET
			accepted = excluded.accepted,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), domainName, group, member, accepted, time.Now().UTC())
	return err
}

// SetMemberAcceptance changes the acceptance of an existing member.
func (r *SQLRepository) SetMemberAcceptance(ctx context.Context, domainName, group, member string, accepted bool) error {
	query := `
		UPDATE group_members
		SET accepted = ?, updated_at = ?
		WHERE domain = ? AND group_name = ? AND member_name = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), accepted, time.Now().UTC(), domainName, group, member)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveInfrastructureScore records an externally produced infrastructure score.
func (r *SQLRepository) SaveInfrastructureScore(ctx context.Context, domainName, source string, score float64, reportedAt time.Time) error {
	if domainName == "" {
		return fmt.Errorf("%w: domain is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO infrastructure_scores (id, domain, source, score, reported_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), uuid.New().String(), domainName, source, score, reportedAt.UTC())
	return err
}

// ListDomains returns every domain with monitored groups or infrastructure scores.
func (r *SQLRepository) ListDomains(ctx context.Context) ([]string, error) {
	query := `
		SELECT domain FROM monitored_groups
		UNION
		SELECT domain FROM infrastructure_scores
		ORDER BY 1
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}

	return domains, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGlobalScore(row rowScanner) (*domain.GlobalRiskScore, error) {
	var s domain.GlobalRiskScore
	var pingcastle sql.NullFloat64
	var trend string

	if err := row.Scan(
		&s.ID, &s.Domain, &s.AssessmentDate, &s.GlobalScore, &pingcastle,
		&s.DomainGroupScore, &s.PingCastleContribution, &s.DomainGroupContribution,
		&trend, &s.TrendPercentage,
	); err != nil {
		return nil, err
	}

	if pingcastle.Valid {
		v := pingcastle.Float64
		s.PingCastleScore = &v
	}
	s.TrendDirection = domain.TrendDirection(trend)
	s.AssessmentDate = s.AssessmentDate.UTC()

	return &s, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
