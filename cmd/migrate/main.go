package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"taskbot/internal/config"
	"taskbot/internal/db"
	"taskbot/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath  string
		databaseURL string
	)

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the TaskBot database schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database", "", "Database URL, overrides the config")

	step := func(use, short string, fn func(*sql.DB, string, *logrus.Entry) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(configPath, databaseURL, fn)
			},
		}
	}

	rootCmd.AddCommand(step("up", "Apply all pending migrations", db.Migrate))
	rootCmd.AddCommand(step("down", "Roll back the most recent migration", db.MigrateDown))
	rootCmd.AddCommand(step("status", "Show which migrations are applied", db.MigrationStatus))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withDatabase(configPath, databaseURL string, fn func(*sql.DB, string, *logrus.Entry) error) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}

	cfg, err := config.Read(configPath)
	if err != nil {
		return err
	}
	if databaseURL == "" {
		databaseURL = cfg.Database.URL
	}

	log := logger.Component(logger.New(cfg.Log.Level, "text"), "migrate")

	driver, dsn := db.ParseURL(databaseURL)
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := fn(sqlDB, driver, log); err != nil {
		return err
	}
	log.WithField("driver", driver).Info("Migration command completed successfully")
	return nil
}
