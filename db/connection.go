// Package db opens the task database and applies its embedded schema
// migrations.
package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/veligo/chronodrive/errors"
)

// pragmas applied to every connection. WAL lets the HTTP handlers read
// task state while the scheduler writes execution records.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Open opens the SQLite database at path. A nil logger is allowed and
// silences open-time logging.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "apply %q", pragma)
		}
	}

	// One writer at a time; the scheduler and the API share this handle.
	conn.SetMaxOpenConns(1)

	if log != nil {
		log.Debugw("Database opened", "path", path)
	}
	return conn, nil
}
