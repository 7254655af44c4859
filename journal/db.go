/*
	Waymark
	Copyright (c) 2025 Waymark contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"go.uber.org/zap"
)

//go:embed schema.sql
var createDB string

func openAndProvisionDB(ctx context.Context, dataDir string) (*sql.DB, error) {
	db, err := openDB(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	if err = provisionDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openDB(ctx context.Context, dataDir string) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, DBFilename)

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// print version, because I keep losing track of it :)
	var version string
	err = db.QueryRowContext(ctx, "SELECT sqlite_version() AS version").Scan(&version)
	if err == nil {
		Log.Info("using sqlite", zap.String("version", version))
	}

	return db, nil
}

func provisionDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createDB)
	if err != nil {
		return fmt.Errorf("setting up database: %w", err)
	}

	// assign this journal a persistent UUID, and store a version so
	// readers can know how to work with this DB
	journalID := uuid.New()
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO journal (key, value) VALUES (?, ?), (?, ?)`,
		"id", journalID.String(),
		"version", 1,
	)
	if err != nil {
		return fmt.Errorf("persisting journal UUID and version: %w", err)
	}

	return nil
}

func loadJournalID(ctx context.Context, db *sql.DB) (uuid.UUID, error) {
	var idStr string
	err := db.QueryRowContext(ctx, `SELECT value FROM journal WHERE key=? LIMIT 1`, "id").Scan(&idStr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("selecting journal UUID: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("malformed UUID %s: %w", idStr, err)
	}
	return id, nil
}
