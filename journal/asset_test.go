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
	"errors"
	"testing"
	"time"

	"github.com/waymarkapp/waymark/journal/media"
)

func TestAssetLifecycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	thumbURL := "/media/a1.jpg"
	err := j.CreateAsset(ctx, &Asset{
		ID:           "a1",
		EntryID:      "e1",
		MediaType:    TypeVideo,
		URL:          "/media/a1.mp4",
		ThumbnailURL: &thumbURL,
		Caption:      "beach day",
		Position:     2,
		Checksum:     []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	a, err := j.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("new asset status = %s, want pending", a.Status)
	}
	if a.Duration != 0 {
		t.Errorf("new asset duration = %d, want 0", a.Duration)
	}
	if a.Caption != "beach day" || a.Position != 2 {
		t.Errorf("caption/position not persisted: %q / %d", a.Caption, a.Position)
	}

	lat, lon := 40.4461, -79.9392
	taken := time.Date(2024, time.July, 4, 12, 0, 0, 0, time.UTC)
	err = j.FinalizeAsset(ctx, "a1", 95, media.Metadata{
		Latitude:  &lat,
		Longitude: &lon,
		TakenAt:   &taken,
	}, []byte{9, 9})
	if err != nil {
		t.Fatalf("FinalizeAsset: %v", err)
	}

	a, err = j.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusProcessed {
		t.Errorf("status = %s, want processed", a.Status)
	}
	if a.Duration != 95 {
		t.Errorf("duration = %d, want 95", a.Duration)
	}
	if a.Latitude == nil || *a.Latitude != lat {
		t.Errorf("latitude = %v, want %v", a.Latitude, lat)
	}
	if a.TakenAt == nil || !a.TakenAt.Equal(taken) {
		t.Errorf("taken_at = %v, want %v", a.TakenAt, taken)
	}
	// URLs are write-once
	if a.URL != "/media/a1.mp4" {
		t.Errorf("URL changed to %q", a.URL)
	}

	if err := j.DeleteAsset(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	if _, err := j.GetAsset(ctx, "a1"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("after delete, err = %v, want ErrAssetNotFound", err)
	}

	// deleting again is fine
	if err := j.DeleteAsset(ctx, "a1"); err != nil {
		t.Errorf("second DeleteAsset: %v", err)
	}
}

func TestFinalizeAssetPartialCoordinatesDropped(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	err := j.CreateAsset(ctx, &Asset{
		ID: "a2", EntryID: "e1", MediaType: TypePhoto, URL: "/media/a2.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}

	lat := 12.5
	err = j.FinalizeAsset(ctx, "a2", 0, media.Metadata{Latitude: &lat}, nil)
	if err != nil {
		t.Fatalf("FinalizeAsset: %v", err)
	}

	a, err := j.GetAsset(ctx, "a2")
	if err != nil {
		t.Fatal(err)
	}
	if a.Latitude != nil || a.Longitude != nil {
		t.Error("a lone latitude must not be persisted")
	}
}

func TestFinalizeAssetMissingRow(t *testing.T) {
	j := openTestJournal(t)

	err := j.FinalizeAsset(context.Background(), "no-such", 10, media.Metadata{}, nil)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("err = %v, want ErrAssetNotFound", err)
	}
}

func TestCreateAssetValidation(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.CreateAsset(ctx, &Asset{EntryID: "e1", URL: "u"}); err == nil {
		t.Error("expected error for missing ID")
	}
	if err := j.CreateAsset(ctx, &Asset{ID: "x", URL: "u"}); err == nil {
		t.Error("expected error for missing entry ID")
	}

	lat := 1.0
	err := j.CreateAsset(ctx, &Asset{
		ID: "x", EntryID: "e1", URL: "u", Latitude: &lat,
	})
	if err == nil {
		t.Error("expected error for a partial coordinate pair")
	}
}

func TestEntryAssetsOrdering(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, a := range []Asset{
		{ID: "c", EntryID: "e9", MediaType: TypePhoto, URL: "/media/c.jpg", Position: 3},
		{ID: "a", EntryID: "e9", MediaType: TypePhoto, URL: "/media/a.jpg", Position: 1},
		{ID: "b", EntryID: "e9", MediaType: TypeVideo, URL: "/media/b.mp4", Position: 2},
		{ID: "other", EntryID: "e10", MediaType: TypePhoto, URL: "/media/o.jpg"},
	} {
		a := a
		if err := j.CreateAsset(ctx, &a); err != nil {
			t.Fatal(err)
		}
	}

	assets, err := j.EntryAssets(ctx, "e9")
	if err != nil {
		t.Fatalf("EntryAssets: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("got %d assets, want 3", len(assets))
	}
	for i, wantID := range []string{"a", "b", "c"} {
		if assets[i].ID != wantID {
			t.Errorf("assets[%d].ID = %s, want %s", i, assets[i].ID, wantID)
		}
	}
}
