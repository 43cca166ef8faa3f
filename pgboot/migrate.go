package pgboot

import (
	"database/sql"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4" //nolint
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/nielskrijger/appboot/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	// Load file-loader for migration files.
	_ "github.com/golang-migrate/migrate/v4/source/file"

	// Required dependency for postgres driver.
	_ "github.com/lib/pq"
)

// migrateLogger implements the Logger interface of golang-migrate.
type migrateLogger struct {
	logger zerolog.Logger
}

func (log *migrateLogger) Printf(format string, v ...any) {
	log.logger.Info().Msgf(format, v...)
}

func (log *migrateLogger) Verbose() bool {
	return log.logger.GetLevel() <= zerolog.DebugLevel
}

// Migrate runs the Postgres migration files in dir.
func (s *Postgres) Migrate(dsn string, dir string) error {
	log := &migrateLogger{logger: s.log}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "reading migrations path")
	}

	log.Printf("running Postgres migrations from %s", dir)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return errors.Wrap(err, "connecting to postgres")
	}

	defer utils.Close(s.log, db, "Postgres migrations connection")

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "open Postgres connection for golang-migrate")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "connecting to Postgres for migrations")
	}

	m.Log = log

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Printf("Postgres database is up-to-date")
	case err != nil:
		return errors.Wrap(err, "running Postgres migrations")
	default:
		log.Printf("completed Postgres migrations")
	}

	return nil
}
