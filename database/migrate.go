package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies all pending migrations from the given directory.
func RunMigrations(db *sql.DB, engine, migrationsPath string) error {
	m, err := newMigrator(db, engine, migrationsPath)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// RollbackMigration rolls back the most recent migration.
func RollbackMigration(db *sql.DB, engine, migrationsPath string) error {
	m, err := newMigrator(db, engine, migrationsPath)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB, engine, migrationsPath string) (*migrate.Migrate, error) {
	source := "file://" + migrationsPath

	switch strings.ToLower(engine) {
	case "", "sqlite":
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		return migrate.NewWithDatabaseInstance(source, "sqlite3", driver)
	case "mysql":
		driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create mysql migration driver: %w", err)
		}
		return migrate.NewWithDatabaseInstance(source, "mysql", driver)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", engine)
	}
}
