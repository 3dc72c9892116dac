// Package domain defines the core interfaces and types for DonWatcher.
package domain

import (
	"context"
	"time"
)

// GroupFactProvider returns current membership facts for a domain's monitored groups.
// An unknown domain yields an empty slice, not an error.
type GroupFactProvider interface {
	ListGroupFacts(ctx context.Context, domain string) ([]GroupFact, error)
}

// InfrastructureScoreProvider returns the latest external infrastructure score.
// A domain without a report yields InfrastructureScore{Present: false}.
type InfrastructureScoreProvider interface {
	LatestInfrastructureScore(ctx context.Context, domain string) (InfrastructureScore, error)
}

// RiskHistoryStore is the append-only record of past assessments.
type RiskHistoryStore interface {
	// AppendSnapshot records a global score together with the breakdown it
	// was derived from: both rows or neither. Rows are never updated, and
	// appending a snapshot whose IDs are already stored is a no-op.
	AppendSnapshot(ctx context.Context, snapshot *RiskSnapshot) error

	// LatestAssessment returns the newest persisted breakdown or ErrNotFound.
	LatestAssessment(ctx context.Context, domain string) (*DomainRiskAssessment, error)

	// LatestBefore returns the newest score strictly before ts, or nil if none exists.
	LatestBefore(ctx context.Context, domain string, ts time.Time) (*GlobalRiskScore, error)

	// ListSince returns scores at or after since, oldest first.
	ListSince(ctx context.Context, domain string, since time.Time) ([]*GlobalRiskScore, error)
}

// Repository is the full persistence surface used by the service.
type Repository interface {
	GroupFactProvider
	InfrastructureScoreProvider
	RiskHistoryStore

	// Fact maintenance. Ingestion normally owns these writes.
	UpsertMonitoredGroup(ctx context.Context, domain, group string, class CriticalityClass) error
	UpsertGroupMember(ctx context.Context, domain, group, member string, accepted bool) error
	SetMemberAcceptance(ctx context.Context, domain, group, member string, accepted bool) error
	SaveInfrastructureScore(ctx context.Context, domain, source string, score float64, reportedAt time.Time) error
	ListDomains(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
