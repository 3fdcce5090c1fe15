// Package migration applies the embedded schema migrations with golang-migrate.
package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Up migrates db to the latest version. The migration set is chosen from
// db.DriverName(). The migrate instance is not closed because closing its
// database driver would close db.
func Up(db *sqlx.DB) error {
	var (
		driver database.Driver
		err    error
	)

	dir := db.DriverName()
	switch dir {
	case "postgres":
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case "sqlite":
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", dir)
	}
	if err != nil {
		return fmt.Errorf("unable to create migration driver: %w", err)
	}

	src, err := iofs.New(files, dir)
	if err != nil {
		return fmt.Errorf("unable to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dir, driver)
	if err != nil {
		return fmt.Errorf("unable to create migrations table: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("unable to apply migrations: %w", err)
	}
	return nil
}
