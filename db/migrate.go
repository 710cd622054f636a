package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/veligo/chronodrive/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate brings the schema up to date. Files run in name order inside
// their own transaction; 000 bootstraps the schema_migrations table and
// each file records its version prefix there. A nil logger is allowed.
func Migrate(conn *sql.DB, log *zap.SugaredLogger) error {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return errors.Wrap(err, "read embedded migrations")
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	applied, err := appliedVersions(conn)
	if err != nil {
		return err
	}

	ran := 0
	for _, name := range files {
		version, _, _ := strings.Cut(name, "_")
		if applied[version] {
			continue
		}

		sqlText, err := migrationFS.ReadFile(path.Join(migrationDir, name))
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}

		if err := applyMigration(conn, version, string(sqlText)); err != nil {
			return errors.Wrapf(err, "apply migration %s", name)
		}
		ran++
		if log != nil {
			log.Infow("Applied migration", "migration", name)
		}
	}

	if log != nil && ran > 0 {
		log.Infow("Schema up to date", "applied_now", ran, "total", len(files))
	}
	return nil
}

// appliedVersions reads schema_migrations into a set. Before migration
// 000 runs the table does not exist; that is an empty set, not an error.
func appliedVersions(conn *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return applied, nil
		}
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(conn *sql.DB, version, sqlText string) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(sqlText); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
