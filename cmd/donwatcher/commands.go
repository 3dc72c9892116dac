package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rival420/donwatcher/internal/config"
	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/risk"
)

// outputFormat is the --output flag value.
type outputFormat string

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (o *outputFormat) String() string { return string(*o) }
func (o *outputFormat) Type() string   { return "format" }

func (o *outputFormat) Set(v string) error {
	switch outputFormat(v) {
	case outputText, outputJSON:
		*o = outputFormat(v)
		return nil
	}
	return fmt.Errorf("must be %q or %q", outputText, outputJSON)
}

// storeOptions override the environment for one-shot commands.
type storeOptions struct {
	driver      string
	sqlitePath  string
	scoringPath string
	output      outputFormat
}

func (o *storeOptions) flagSet() *pflag.FlagSet {
	o.output = outputText

	fs := pflag.NewFlagSet("store", pflag.ContinueOnError)
	fs.StringVar(&o.driver, "db-driver", "", "database driver, sqlite or postgres (default $DONWATCHER_DB_DRIVER)")
	fs.StringVar(&o.sqlitePath, "sqlite-path", "", "SQLite database file (default $DONWATCHER_SQLITE_PATH)")
	fs.StringVar(&o.scoringPath, "scoring-config", "", "scoring constants file (default $DONWATCHER_SCORING_CONFIG)")
	fs.VarP(&o.output, "output", "o", "output format: text or json")
	return fs
}

// open builds an engine with an in-process cache only. One-shot commands
// log warnings to stderr so stdout stays parseable.
func (o *storeOptions) open() (*engine, error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if o.driver != "" {
		cfg.Repository.Driver = o.driver
	}
	if o.sqlitePath != "" {
		cfg.Repository.SQLitePath = o.sqlitePath
	}
	if o.scoringPath != "" {
		cfg.Scoring.ConfigPath = o.scoringPath
	}
	cfg.Cache.Type = "memory"

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return openEngine(cfg)
}

func newScoreCmd() *cobra.Command {
	var opts storeOptions
	var recalculate bool

	cmd := &cobra.Command{
		Use:   "score <domain>",
		Short: "Compute and print the global risk score and its breakdown",
		Long: "Compute the risk of a domain against the configured database. The\n" +
			"computation is appended to the domain's history like any other.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmd.Context()
			domainName := args[0]

			var global *domain.GlobalRiskScore
			if recalculate {
				global, err = eng.svc.Recalculate(ctx, domainName)
			} else {
				global, err = eng.svc.GetGlobalRisk(ctx, domainName)
			}
			if err != nil {
				return err
			}
			breakdown, err := eng.svc.GetRiskBreakdown(ctx, domainName)
			if err != nil {
				return err
			}

			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), domain.RiskSnapshot{Global: global, Breakdown: breakdown})
			}
			renderScore(cmd.OutOrStdout(), eng.svc, global, breakdown)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recalculate, "recalculate", false, "bypass the cache and force a new assessment")
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var opts storeOptions
	var days int

	cmd := &cobra.Command{
		Use:   "history <domain>",
		Short: "Print the global score trend of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			scores, err := eng.svc.GetRiskHistory(cmd.Context(), args[0], days)
			if err != nil {
				return err
			}

			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), scores)
			}
			renderHistory(cmd.OutOrStdout(), args[0], days, scores)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", risk.DefaultHistoryDays, "window in days, 1 to 3650")
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a scoring constants file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadScoring(args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("✗ "+args[0]))
				return err
			}
			renderScoringConfig(cmd.OutOrStdout(), args[0], cfg)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "donwatcher %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// levelStyle colors a risk level.
func levelStyle(level domain.RiskLevel) lipgloss.Style {
	switch level {
	case domain.RiskLevelCritical:
		return lipgloss.NewStyle().Bold(true).Foreground(colorCritical)
	case domain.RiskLevelHigh:
		return lipgloss.NewStyle().Foreground(colorHigh)
	case domain.RiskLevelMedium:
		return lipgloss.NewStyle().Foreground(colorMedium)
	default:
		return lipgloss.NewStyle().Foreground(colorLow)
	}
}
