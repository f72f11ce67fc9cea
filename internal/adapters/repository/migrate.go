package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/okian/bikeharvest/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLogger adapts logger.Logger to migrate.Logger.
type migrationLogger struct {
	log logger.Logger
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrationLogger) Verbose() bool { return false }

// Migrate applies every pending embedded migration to the database at dsn.
func Migrate(ctx context.Context, dsn string, log logger.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: source: %w", ErrMigrationsFail, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationsFail, err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn(ctx, "failed to close migrator", logger.Any("source_error", srcErr), logger.Any("db_error", dbErr))
		}
	}()
	m.Log = migrationLogger{log: log}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info(ctx, "no new migrations to apply")
		return nil
	case err != nil:
		version, dirty, _ := m.Version()
		log.Error(ctx, "migrations failed",
			logger.Int("version", int(version)),
			logger.Any("dirty", dirty),
			logger.Error(err))
		return fmt.Errorf("%w: %w", ErrMigrationsFail, err)
	}
	version, _, _ := m.Version()
	log.Info(ctx, "migrations applied", logger.Int("version", int(version)))
	return nil
}

// migrateURL rewrites a postgres DSN to the scheme the pgx/v5 migrate driver
// registers.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
