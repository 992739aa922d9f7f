package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/you/course-marketplace/pkg/auth"
	"github.com/you/course-marketplace/pkg/config"
	"github.com/you/course-marketplace/pkg/db"
	"github.com/you/course-marketplace/pkg/logging"
	"github.com/you/course-marketplace/services/marketplace/internal/repository"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "marketplace",
		Short:   "Course marketplace API",
		Version: Version,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(orphansCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg   config.App
	log   *slog.Logger
	store *repository.Store
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New("marketplace", cfg.LogLevel)

	gdb, err := db.Open(cfg.DatabaseDSN, cfg.DBConnectAttempts, log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: repository.NewStore(gdb)}, nil
}

func (a *app) tokens() *auth.Issuer {
	return auth.NewIssuer(a.cfg.JWTSecret, a.cfg.TokenTTL())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if err := a.store.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.log.Info("migration complete")
			return nil
		},
	}
}

func orphansCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List purchases stuck in pending for manual reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			svc := newEnrollment(a, nil, nil)
			list, err := svc.OrphanedPurchases(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d pending purchase(s) older than %s\n", len(list), olderThan)
			for _, p := range list {
				fmt.Fprintf(out, "%s\taccount=%s\tcourse=%s\tamount=%s %s\tsession=%s\tcreated=%s\n",
					p.ID, p.AccountID, p.CourseID, p.Amount.StringFixed(a.cfg.CurrencyDecimals), p.Currency,
					p.SessionID, p.CreatedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age of a pending purchase")
	return cmd
}
