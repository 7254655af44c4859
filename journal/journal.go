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

// Package journal implements the core of the application: the durable
// media asset store and the ingestion pipeline that turns raw photo and
// video uploads into processed, geotagged, playable records.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Folder and file names within a journal data directory.
const (
	DBFilename       = "journal.db"
	UploadFolderName = "uploads"
	MediaFolderName  = "media"
)

// Journal represents an opened journal data directory.
// The zero value is NOT valid; use Open() to obtain one.
type Journal struct {
	// A context used primarily for cancellation of background pipelines.
	ctx    context.Context
	cancel context.CancelFunc // to be called only by Close

	dataDir string // path of the journal data directory
	id      uuid.UUID

	// The database handle and its mutex. High-volume ingestion can yield
	// "database is locked" errors when scanning rows while another
	// goroutine writes, so DB calls are wrapped in this mutex; see
	// https://github.com/mattn/go-sqlite3/issues/607#issuecomment-808739698
	db   *sql.DB
	dbMu sync.RWMutex
}

func (j *Journal) String() string { return fmt.Sprintf("%s:%s", j.id, j.dataDir) }
func (j *Journal) Dir() string    { return j.dataDir }
func (j *Journal) ID() uuid.UUID  { return j.id }

// Open opens the journal in the given data directory, creating and
// provisioning it first if it does not exist yet.
//
// Journals should always be Close()'d for a clean shutdown when done.
func Open(ctx context.Context, dataDir string) (*Journal, error) {
	for _, dir := range []string{
		dataDir,
		filepath.Join(dataDir, UploadFolderName),
		filepath.Join(dataDir, MediaFolderName),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating journal folder: %w", err)
		}
	}

	db, err := openAndProvisionDB(ctx, dataDir)
	if err != nil {
		return nil, err
	}

	id, err := loadJournalID(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	j := &Journal{
		ctx:     ctx,
		cancel:  cancel,
		dataDir: dataDir,
		id:      id,
		db:      db,
	}

	Log.Info("opened journal",
		zap.String("id", id.String()),
		zap.String("data_dir", dataDir))

	return j, nil
}

// Close releases the journal's resources. Detached pipelines observe the
// cancellation of the journal's context and abort at their next stage.
func (j *Journal) Close() error {
	j.cancel()
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// UploadPath returns the full path of the raw upload file with the
// given name. Raw uploads are ephemeral; they belong to exactly one
// pipeline run and are removed on both success and failure.
func (j *Journal) UploadPath(name string) string {
	return filepath.Join(j.dataDir, UploadFolderName, name)
}

// MediaPath returns the full path of the canonical media file with the
// given name. Canonical names are derived once from the asset ID and
// never change, even when the bytes at the path are replaced.
func (j *Journal) MediaPath(name string) string {
	return filepath.Join(j.dataDir, MediaFolderName, name)
}

// MediaDir returns the directory that canonical media files live in.
func (j *Journal) MediaDir() string {
	return filepath.Join(j.dataDir, MediaFolderName)
}

// FileExists returns true if the file at the given path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removeIfExists deletes the file at path; a file that is already gone
// is not an error. Used by cleanup paths, which must be idempotent.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
