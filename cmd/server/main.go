package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/smartmenu-payments/internal/config"
	"github.com/yourorg/smartmenu-payments/internal/database"
	"github.com/yourorg/smartmenu-payments/internal/ledger"
	"github.com/yourorg/smartmenu-payments/internal/logger"
	"github.com/yourorg/smartmenu-payments/internal/reporting"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Smart-menu payment event ingestion and ledger service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config-dir", ".", "directory holding the optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ledgerCmd())
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(dir)
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			app := fx.New(serveOptions(cfg, migrate))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	return cmd
}

// openStore is the short-lived setup shared by the one-shot commands.
func openStore(cmd *cobra.Command) (*gorm.DB, config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, cfg, nil, err
	}
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, cfg, nil, err
	}
	return db, cfg, log, nil
}

func closeStore(db *gorm.DB, log *zap.Logger) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = log.Sync()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, log, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(db, log)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations applied", zap.String("driver", db.Dialector.Name()))
			return nil
		},
	}
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the payment event ledger",
	}
	cmd.AddCommand(ledgerReportCmd())
	return cmd
}

func ledgerReportCmd() *cobra.Command {
	var (
		since    string
		until    string
		provider string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a retrospective report of ledger events as JSON",
		Example: `  server ledger report --since 24h
  server ledger report --since 2025-01-01T00:00:00Z --provider stripe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := reportFilter(provider, relativeSince(since, time.Now().UTC()), until)
			if err != nil {
				return err
			}

			db, cfg, log, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore(db, log)

			node, err := snowflake.NewNode(cfg.SnowflakeNode)
			if err != nil {
				return err
			}
			report, err := reporting.NewReporter().GenerateFromLedger(cmd.Context(), ledger.New(db, node, log), filter)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "lower bound as RFC 3339 or a duration back from now (e.g. 24h)")
	cmd.Flags().StringVar(&until, "until", "", "upper bound as RFC 3339")
	cmd.Flags().StringVar(&provider, "provider", "", "restrict to one provider")
	return cmd
}

// relativeSince turns a duration like "24h" into an RFC 3339 timestamp
// before now; anything else is returned unchanged.
func relativeSince(since string, now time.Time) string {
	if d, err := time.ParseDuration(since); err == nil && d > 0 {
		return now.Add(-d).Format(time.RFC3339)
	}
	return since
}
