package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"medalert/internal/normalize"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:medalert.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY between the scheduler and ingest.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{
		db:      db,
		timeArg: func(t time.Time) any { return normalize.FormatTime(t) },
		now:     nowUTC,
	}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.migrate(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			priority TEXT NOT NULL,
			medicine_id TEXT NOT NULL,
			details_json TEXT NOT NULL,
			status TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_open ON alerts(medicine_id, type) WHERE status <> 'resolved'`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS medicines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL,
			minimum_stock INTEGER NOT NULL,
			reorder_level INTEGER,
			expiry_date TEXT,
			batch_number TEXT NOT NULL DEFAULT '',
			manufacturer TEXT NOT NULL DEFAULT '',
			supplier TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_medicines_expiry ON medicines(expiry_date)`,
	})
}
