package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/repository"
)

const shippedScoring = "../../configs/scoring.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	t.Run("ShippedFileIsValid", func(t *testing.T) {
		out, err := execute(t, "config", "check", shippedScoring)
		if err != nil {
			t.Fatalf("config check failed: %v\n%s", err, out)
		}
		if !strings.Contains(out, "is valid") {
			t.Errorf("expected validity message, got %s", out)
		}
	})

	t.Run("InvalidFileFails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scoring.yaml")
		os.WriteFile(path, []byte("tiers: {}\n"), 0o644)

		if _, err := execute(t, "config", "check", path); err == nil {
			t.Error("expected an error for an incomplete file")
		}
	})
}

func TestScoreAndHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	ctx := context.Background()
	repo.UpsertMonitoredGroup(ctx, "corp.example.com", "Domain Admins", domain.CriticalityCritical)
	for i, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		repo.UpsertGroupMember(ctx, "corp.example.com", "Domain Admins", name, i < 2)
	}
	repo.Close()

	t.Setenv("DONWATCHER_SCORING_CONFIG", "")
	common := []string{"--sqlite-path", dbPath, "--scoring-config", shippedScoring}

	t.Run("ScoreJSON", func(t *testing.T) {
		out, err := execute(t, append([]string{"score", "corp.example.com", "-o", "json"}, common...)...)
		if err != nil {
			t.Fatalf("score failed: %v\n%s", err, out)
		}
		var snap domain.RiskSnapshot
		if err := json.Unmarshal([]byte(out), &snap); err != nil {
			t.Fatalf("failed to decode output: %v\n%s", err, out)
		}
		if snap.Global == nil || snap.Breakdown == nil {
			t.Fatal("expected global score and breakdown")
		}
		if snap.Global.DomainGroupScore != snap.Breakdown.DomainGroupScore {
			t.Error("global and breakdown come from different computations")
		}
	})

	t.Run("ScoreText", func(t *testing.T) {
		out, err := execute(t, append([]string{"score", "corp.example.com", "--recalculate"}, common...)...)
		if err != nil {
			t.Fatalf("score failed: %v\n%s", err, out)
		}
		if !strings.Contains(out, "Domain Admins") {
			t.Errorf("expected group table, got\n%s", out)
		}
	})

	t.Run("History", func(t *testing.T) {
		out, err := execute(t, append([]string{"history", "corp.example.com", "--days", "7", "-o", "json"}, common...)...)
		if err != nil {
			t.Fatalf("history failed: %v\n%s", err, out)
		}
		var scores []*domain.GlobalRiskScore
		if err := json.Unmarshal([]byte(out), &scores); err != nil {
			t.Fatalf("failed to decode output: %v\n%s", err, out)
		}
		if len(scores) != 2 {
			t.Errorf("expected 2 recorded assessments, got %d", len(scores))
		}
	})

	t.Run("BadOutputFormat", func(t *testing.T) {
		if _, err := execute(t, append([]string{"history", "corp.example.com", "-o", "yaml"}, common...)...); err == nil {
			t.Error("expected flag error")
		}
	})
}
