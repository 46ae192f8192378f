package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/voyagen/streamvault/migrations"
)

// RunMigrations applies the embedded schema for driver ("postgres" or "sqlite") against dsn.
func RunMigrations(driver, dsn string) error {
	switch driver {
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		drv, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			db.Close()
			return fmt.Errorf("postgres.WithInstance: %w", err)
		}
		m, err := newMigrate("postgres", drv)
		if err != nil {
			db.Close()
			return err
		}
		defer m.Close()
		return up(m)
	case "sqlite":
		db, err := openSQLite(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return MigrateSQLite(db)
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
}

// MigrateSQLite applies the sqlite schema on an open handle. db stays open.
func MigrateSQLite(db *sql.DB) error {
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite.WithInstance: %w", err)
	}
	m, err := newMigrate("sqlite", drv)
	if err != nil {
		return err
	}
	// m.Close would close db through the driver; only the source is released here.
	return up(m)
}

// newMigrate pairs the embedded migrations/<name> directory with drv.
func newMigrate(name string, drv database.Driver) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, name)
	if err != nil {
		return nil, fmt.Errorf("iofs.New: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("migrate.NewWithInstance: %w", err)
	}
	return m, nil
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}
