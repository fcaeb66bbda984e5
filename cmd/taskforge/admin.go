package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/Strob0t/TaskForge/internal/adapter/postgres"
	"github.com/Strob0t/TaskForge/internal/config"
)

// runAdmin dispatches admin subcommands (hash-token, list-runs, migrate-version).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-token":
		return runAdminHashToken(args[1:])
	case "list-runs":
		return runAdminListRuns(args[1:])
	case "migrate-version":
		return runAdminMigrateVersion(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: taskforge admin <command> [options]

Commands:
  hash-token       Print a bcrypt hash of an API token for auth.token_hash
  list-runs        List recent task runs from the history database
  migrate-version  Print the applied schema version
  help             Show this help message

Examples:
  taskforge admin hash-token
  taskforge admin list-runs --limit 20
  taskforge admin migrate-version
`)
}

func runAdminHashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := promptSecret("Token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	confirm, err := promptSecret("Confirm token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token != confirm {
		return fmt.Errorf("tokens do not match")
	}
	if len(token) < 16 {
		return fmt.Errorf("token must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), *cost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

// loadDSN returns the configured Postgres DSN or an error when none is set.
func loadDSN() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn (or DATABASE_URL) is not set; the in-memory history is not readable from here")
	}
	return cfg, nil
}

func runAdminListRuns(args []string) error {
	fs := flag.NewFlagSet("list-runs", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadDSN()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	runs, err := postgres.NewStore(pool).ListRuns(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSTARTED\tDURATION\tLABEL")
	for i := range runs {
		r := &runs[i]
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, r.Status, r.StartedAt.Local().Format(time.DateTime), duration, truncate(r.Label, 60))
	}
	return tw.Flush()
}

func runAdminMigrateVersion(_ []string) error {
	cfg, err := loadDSN()
	if err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Println(v)
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after secret input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
