package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migrateLogger struct {
	log zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}

// Migrate применяет встроенные миграции схемы finance.
func Migrate(dsn string, logger zerolog.Logger) error {
	m, closeDB, err := newMigrator(dsn, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	before, _, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		return fmt.Errorf("версия схемы: %w", versionErr)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Uint("version", before).Msg("migrate: новых миграций нет")
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		logger.Error().Err(err).Uint("version", version).Bool("dirty", dirty).Msg("migrate: миграция не применилась")
		return fmt.Errorf("применение миграций: %w", err)
	}

	after, _, _ := m.Version()
	logger.Info().Uint("from", before).Uint("to", after).Msg("migrate: миграции применены")
	return nil
}

// MigrateDown откатывает указанное число миграций.
func MigrateDown(dsn string, steps int, logger zerolog.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("число шагов отката должно быть положительным")
	}
	m, closeDB, err := newMigrator(dsn, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("откат миграций: %w", err)
	}
	version, _, _ := m.Version()
	logger.Info().Int("steps", steps).Uint("version", version).Msg("migrate: откат выполнен")
	return nil
}

func newMigrator(dsn string, logger zerolog.Logger) (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("источник миграций: %w", err)
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("подключение для миграций: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(conn, &pgxmigrate.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("драйвер миграций: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("инициализация миграций: %w", err)
	}
	m.Log = migrateLogger{log: logger}
	closeDB := func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("migrate: ошибка закрытия")
		}
	}
	return m, closeDB, nil
}
