package storage

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies pending Postgres migrations. Safe to call on every
// start; an up-to-date schema is a no-op. Returns the schema version.
func RunMigrations(connString string, logger *zap.Logger) (uint, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return 0, eris.Wrap(err, "migrate: open database")
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return 0, eris.Wrap(err, "migrate: create driver")
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, eris.Wrap(err, "migrate: open source")
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return 0, eris.Wrap(err, "migrate: create instance")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		logger.Info("No migrations to apply (database up-to-date)", zap.Uint("version", version))
		return version, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "migrate: up")
	}

	version, _, _ := m.Version()
	logger.Info("Applied migrations successfully", zap.Uint("version", version))
	return version, nil
}
