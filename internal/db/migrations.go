package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const upMarker = "-- +migrate Up"

// Migration is one embedded sql-migrate file.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrationsDB applies every pending up migration on db, in the given order.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	source := &migrate.MemoryMigrationSource{}
	ids := make([]string, 0, len(migrations))

	for _, m := range migrations {
		if !strings.Contains(m.SQL, upMarker) {
			return fmt.Errorf("migration %s missing '%s' separator", m.ID, upMarker)
		}

		parsed, err := migrate.ParseMigration(m.ID, strings.NewReader(m.SQL))
		if err != nil {
			return fmt.Errorf("failed to parse migration %s: %w", m.ID, err)
		}

		source.Migrations = append(source.Migrations, parsed)
		ids = append(ids, m.ID)
	}

	applied, err := migrate.Exec(db, "sqlite3", source, migrate.Up)
	if err != nil {
		return fmt.Errorf("failed to run migrations [%s]: %w", strings.Join(ids, ", "), err)
	}

	log.Debugw("migrations applied", "applied", applied, "known", len(ids))
	return nil
}
