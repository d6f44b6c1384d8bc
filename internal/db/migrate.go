package db

import (
	"database/sql"
	"fmt"
	"sync"

	"taskbot/internal/db/migrations"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

// goose keeps its dialect, filesystem and logger in package state.
var gooseMu sync.Mutex

func dialectDir(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgres", nil
	case DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

func withGoose(driver string, log *logrus.Entry, fn func(dir string) error) error {
	dir, err := dialectDir(driver)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(log)
	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return fn(dir)
}

// Migrate applies all pending migrations for the driver.
func Migrate(sqlDB *sql.DB, driver string, log *logrus.Entry) error {
	return withGoose(driver, log, func(dir string) error {
		if err := goose.Up(sqlDB, dir); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(sqlDB *sql.DB, driver string, log *logrus.Entry) error {
	return withGoose(driver, log, func(dir string) error {
		if err := goose.Down(sqlDB, dir); err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		return nil
	})
}

// MigrationStatus logs the applied state of every migration.
func MigrationStatus(sqlDB *sql.DB, driver string, log *logrus.Entry) error {
	return withGoose(driver, log, func(dir string) error {
		if err := goose.Status(sqlDB, dir); err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		return nil
	})
}
