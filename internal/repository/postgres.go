package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/rival420/donwatcher/internal/domain"
)

const postgresConnectTimeout = 10 * time.Second

// openPostgres opens a PostgreSQL connection pool and checks it answers.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database %s:%d: %w", postgresHost(cfg), postgresPort(cfg), err)
	}

	return db, nil
}

// postgresDSN builds a key/value connection string. Sessions run in UTC so
// TIMESTAMP columns read back as the instant that was written.
func postgresDSN(cfg domain.RepositoryConfig) string {
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "donwatcher"
	}

	params := [][2]string{
		{"host", postgresHost(cfg)},
		{"port", strconv.Itoa(postgresPort(cfg))},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", dbname},
		{"sslmode", sslmode},
		{"timezone", "UTC"},
		{"application_name", "donwatcher"},
		{"connect_timeout", strconv.Itoa(int(postgresConnectTimeout.Seconds()))},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+quoteDSNValue(p[1]))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes values holding spaces, quotes or backslashes the way
// libpq expects.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func postgresHost(cfg domain.RepositoryConfig) string {
	if cfg.PostgresHost == "" {
		return "localhost"
	}
	return cfg.PostgresHost
}

func postgresPort(cfg domain.RepositoryConfig) int {
	if cfg.PostgresPort == 0 {
		return 5432
	}
	return cfg.PostgresPort
}
