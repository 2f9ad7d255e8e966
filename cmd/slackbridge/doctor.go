package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"slackbridge/internal/config"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your slackbridge installation",
		Long: `Verifies that slackbridge's configuration, tokens, database, and
directories are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("slackbridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'slackbridge init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Token shapes
			if strings.HasPrefix(cfg.Slack.BotToken, "xoxb-") {
				printPass("Bot token", "xoxb- prefix")
				passed++
			} else {
				printFail("Bot token", "expected xoxb- prefix")
				failed++
			}
			if strings.HasPrefix(cfg.Slack.AppToken, "xapp-") {
				printPass("App token", "xapp- prefix")
				passed++
			} else {
				printFail("App token", "expected xapp- prefix (Socket Mode app-level token)")
				failed++
			}

			// 4. Live auth check
			if failed == 0 {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				client := slack.New(cfg.Slack.BotToken, slack.OptionAppLevelToken(cfg.Slack.AppToken))
				auth, err := client.AuthTestContext(ctx)
				cancel()
				if err != nil {
					printFail("Slack auth", err.Error())
					failed++
				} else {
					printPass("Slack auth", fmt.Sprintf("%s in %s", auth.User, auth.Team))
					passed++
				}
			} else {
				printWarn("Slack auth", "skipped (fix token checks first)")
				warned++
			}

			// 5. Database writable
			if err := checkDatabase(cfg.Store.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Store.DBPath)
				passed++
			}

			// 6. Directories
			if err := os.MkdirAll(cfg.Attachments.Dir, 0o755); err != nil {
				printFail("Attachment dir", err.Error())
				failed++
			} else {
				printPass("Attachment dir", cfg.Attachments.Dir)
				passed++
			}
			if info, err := os.Stat(cfg.Registry.Dir); err != nil {
				printWarn("Registry dir", fmt.Sprintf("not found: %s (bridge starts with an empty registry)", cfg.Registry.Dir))
				warned++
			} else if !info.IsDir() {
				printFail("Registry dir", fmt.Sprintf("not a directory: %s", cfg.Registry.Dir))
				failed++
			} else {
				printPass("Registry dir", cfg.Registry.Dir)
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running slackbridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nslackbridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! slackbridge is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	dir := dbPath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' || dir[i] == '\\' {
			dir = dir[:i]
			break
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-16s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-16s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-16s %s\n", check, detail)
}
