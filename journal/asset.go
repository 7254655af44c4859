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
	"errors"
	"fmt"
	"time"

	"github.com/waymarkapp/waymark/journal/media"
)

// MediaType distinguishes the two kinds of assets.
type MediaType string

const (
	TypePhoto MediaType = "photo"
	TypeVideo MediaType = "video"
)

// AssetStatus is the lifecycle state of an asset. An asset is created
// pending and is mutated exactly once: either into processed, or it is
// deleted entirely. There is no failed state visible to readers.
type AssetStatus string

const (
	StatusPending   AssetStatus = "pending"
	StatusProcessed AssetStatus = "processed"
)

// Asset is one photo or video belonging to a journal entry.
type Asset struct {
	ID           string      `json:"id"`
	EntryID      string      `json:"entry_id"`
	MediaType    MediaType   `json:"media_type"`
	URL          string      `json:"url"`
	ThumbnailURL *string     `json:"thumbnail_url,omitempty"`
	Caption      string      `json:"caption,omitempty"`
	Position     int         `json:"position"`
	Duration     int         `json:"duration"` // rounded seconds; 0 while pending
	Latitude     *float64    `json:"latitude,omitempty"`
	Longitude    *float64    `json:"longitude,omitempty"`
	TakenAt      *time.Time  `json:"taken_at,omitempty"`
	Checksum     []byte      `json:"-"`
	ThumbHash    []byte      `json:"thumb_hash,omitempty"`
	Status       AssetStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ErrAssetNotFound is returned when an asset ID has no row, which can
// be normal: a pipeline may have discarded the asset already.
var ErrAssetNotFound = errors.New("asset not found")

// CreateAsset inserts the asset row. The caller must have filled the ID
// and URL fields; they are write-once and are never updated afterward.
func (j *Journal) CreateAsset(ctx context.Context, a *Asset) error {
	if a.ID == "" {
		return errors.New("missing asset ID")
	}
	if a.EntryID == "" {
		return errors.New("missing entry ID")
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if (a.Latitude == nil) != (a.Longitude == nil) {
		return errors.New("latitude and longitude must be set together")
	}

	var takenAt *int64
	if a.TakenAt != nil {
		unix := a.TakenAt.Unix()
		takenAt = &unix
	}

	j.dbMu.Lock()
	defer j.dbMu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO assets
			(id, entry_id, media_type, url, thumbnail_url, caption, position,
			 duration, latitude, longitude, taken_at, checksum, thumb_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EntryID, a.MediaType, a.URL, a.ThumbnailURL, a.Caption, a.Position,
		a.Duration, a.Latitude, a.Longitude, takenAt, a.Checksum, a.ThumbHash,
		a.Status, a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("inserting asset row: %w", err)
	}
	return nil
}

// GetAsset loads the asset with the given ID, or ErrAssetNotFound.
func (j *Journal) GetAsset(ctx context.Context, id string) (Asset, error) {
	j.dbMu.RLock()
	defer j.dbMu.RUnlock()

	var a Asset
	var takenAt, createdAt *int64
	err := j.db.QueryRowContext(ctx,
		`SELECT id, entry_id, media_type, url, thumbnail_url, caption, position,
			duration, latitude, longitude, taken_at, checksum, thumb_hash, status, created_at
		FROM assets WHERE id=? LIMIT 1`, id).Scan(
		&a.ID, &a.EntryID, &a.MediaType, &a.URL, &a.ThumbnailURL, &a.Caption, &a.Position,
		&a.Duration, &a.Latitude, &a.Longitude, &takenAt, &a.Checksum, &a.ThumbHash,
		&a.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("selecting asset row: %w", err)
	}
	if takenAt != nil {
		t := time.Unix(*takenAt, 0).UTC()
		a.TakenAt = &t
	}
	if createdAt != nil {
		a.CreatedAt = time.Unix(*createdAt, 0).UTC()
	}
	return a, nil
}

// FinalizeAsset applies the terminal processed state to the asset row
// in one atomic update: duration, coordinates, capture time, and the
// thumbnail hash. URL columns are deliberately untouched; the canonical
// paths were fixed at creation. Coordinates are stored only when the
// extracted metadata carries both; a partial pair is never persisted.
func (j *Journal) FinalizeAsset(ctx context.Context, id string, durationSecs int, meta media.Metadata, thumbHash []byte) error {
	var lat, lon *float64
	if meta.Latitude != nil && meta.Longitude != nil {
		lat, lon = meta.Latitude, meta.Longitude
	}
	var takenAt *int64
	if meta.TakenAt != nil {
		unix := meta.TakenAt.Unix()
		takenAt = &unix
	}

	j.dbMu.Lock()
	defer j.dbMu.Unlock()

	res, err := j.db.ExecContext(ctx,
		`UPDATE assets SET duration=?, latitude=?, longitude=?, taken_at=?, thumb_hash=?, status=?
		WHERE id=?`,
		durationSecs, lat, lon, takenAt, thumbHash, StatusProcessed, id)
	if err != nil {
		return fmt.Errorf("finalizing asset row: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// DeleteAsset removes the asset row. Deleting a row that is already
// gone is not an error; cleanup paths must be idempotent.
func (j *Journal) DeleteAsset(ctx context.Context, id string) error {
	j.dbMu.Lock()
	defer j.dbMu.Unlock()

	_, err := j.db.ExecContext(ctx, `DELETE FROM assets WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("deleting asset row: %w", err)
	}
	return nil
}

// EntryAssets lists the assets of one journal entry in display order.
func (j *Journal) EntryAssets(ctx context.Context, entryID string) ([]Asset, error) {
	j.dbMu.RLock()
	rows, err := j.db.QueryContext(ctx,
		`SELECT id FROM assets WHERE entry_id=? ORDER BY position, created_at`, entryID)
	if err != nil {
		j.dbMu.RUnlock()
		return nil, fmt.Errorf("querying entry assets: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			j.dbMu.RUnlock()
			return nil, fmt.Errorf("scanning asset ID: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	j.dbMu.RUnlock()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset rows: %w", err)
	}

	assets := make([]Asset, 0, len(ids))
	for _, id := range ids {
		a, err := j.GetAsset(ctx, id)
		if errors.Is(err, ErrAssetNotFound) {
			continue // a pipeline discarded it between the two queries
		}
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}
