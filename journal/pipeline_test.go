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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/waymarkapp/waymark/internal/testhelpers"
)

// stubFFmpeg points ffmpegPath at a shell script for the duration of
// the test. The "copy" behavior imitates a successful run by copying
// the input (the arg after -i) to the output (the last arg); "fail"
// exits nonzero without producing output.
func stubFFmpeg(t *testing.T, behavior string) {
	t.Helper()

	var body string
	switch behavior {
	case "copy":
		body = `#!/bin/sh
input=""
prev=""
last=""
for a in "$@"; do
	if [ "$prev" = "-i" ]; then input="$a"; fi
	prev="$a"
	last="$a"
done
cp "$input" "$last"
`
	case "fail":
		body = `#!/bin/sh
exit 1
`
	default:
		t.Fatalf("unknown ffmpeg stub behavior: %s", behavior)
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil { //nolint:gosec
		t.Fatalf("writing ffmpeg stub: %v", err)
	}

	orig := ffmpegPath
	ffmpegPath = path
	t.Cleanup(func() { ffmpegPath = orig })
}

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// seedVideoAsset writes the video to the uploads folder and records a
// pending asset for it, returning the three pipeline paths.
func seedVideoAsset(t *testing.T, j *Journal, assetID string, spec testhelpers.VideoSpec) (rawPath, videoPath, thumbPath string) {
	t.Helper()

	rawPath = j.UploadPath(assetID)
	videoPath = j.MediaPath(assetID + ".mp4")
	thumbPath = j.MediaPath(assetID + "_thumb.jpg")

	testhelpers.WriteVideoFile(t, rawPath, spec)

	thumbURL := "/media/" + assetID + "_thumb.jpg"
	err := j.CreateAsset(context.Background(), &Asset{
		ID:           assetID,
		EntryID:      "entry-1",
		MediaType:    TypeVideo,
		URL:          "/media/" + assetID + ".mp4",
		ThumbnailURL: &thumbURL,
	})
	if err != nil {
		t.Fatalf("creating pending asset: %v", err)
	}

	return rawPath, videoPath, thumbPath
}

// waitForPipeline polls until the asset leaves the pending state,
// either by being finalized or by disappearing entirely.
func waitForPipeline(t *testing.T, j *Journal, assetID string) (Asset, bool) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		a, err := j.GetAsset(context.Background(), assetID)
		if errors.Is(err, ErrAssetNotFound) {
			return Asset{}, false
		}
		if err != nil {
			t.Fatalf("polling asset: %v", err)
		}
		if a.Status != StatusPending {
			return a, true
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline did not finish in time")
	return Asset{}, false
}

func TestProcessVideoSuccess(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	// the container's wall-clock reading; Pittsburgh is UTC-5 on this
	// date, so the persisted instant must land five hours later
	taken := time.Date(2024, time.March, 9, 14, 0, 0, 0, time.UTC)
	takenInstant := time.Date(2024, time.March, 9, 19, 0, 0, 0, time.UTC)
	rawPath, videoPath, thumbPath := seedVideoAsset(t, j, "vid-ok", testhelpers.VideoSpec{
		Duration:     42 * time.Second,
		CreationTime: taken,
		XYZ:          "+40.4461-079.9392/",
	})

	j.ProcessVideo("vid-ok", rawPath, videoPath, thumbPath)

	a, exists := waitForPipeline(t, j, "vid-ok")
	if !exists {
		t.Fatal("asset was discarded; expected it to be processed")
	}
	if a.Status != StatusProcessed {
		t.Errorf("status = %s, want processed", a.Status)
	}
	if a.Duration != 42 {
		t.Errorf("duration = %d, want 42", a.Duration)
	}
	if a.Latitude == nil || a.Longitude == nil {
		t.Error("expected coordinates on finalized asset")
	}
	if a.TakenAt == nil || !a.TakenAt.Equal(takenInstant) {
		t.Errorf("taken_at = %v, want %v", a.TakenAt, takenInstant)
	}
	if a.TakenAt != nil && a.TakenAt.Unix() == taken.Unix() {
		t.Error("taken_at was persisted as the naive reading; expected it re-anchored to the coordinates' zone")
	}
	if !FileExists(videoPath) {
		t.Error("canonical video file is missing")
	}
	if !FileExists(thumbPath) {
		t.Error("thumbnail file is missing")
	}
	if FileExists(rawPath) {
		t.Error("raw upload should have been cleaned up")
	}
}

func TestProcessVideoRejectsOverCeiling(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	rawPath, videoPath, thumbPath := seedVideoAsset(t, j, "vid-long", testhelpers.VideoSpec{
		Duration: 200 * time.Second,
	})

	j.ProcessVideo("vid-long", rawPath, videoPath, thumbPath)

	if _, exists := waitForPipeline(t, j, "vid-long"); exists {
		t.Fatal("over-length video should have been rejected")
	}
	for _, path := range []string{rawPath, videoPath, thumbPath} {
		if FileExists(path) {
			t.Errorf("file should have been removed: %s", path)
		}
	}
}

func TestProcessVideoAcceptsExactCeiling(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	rawPath, videoPath, thumbPath := seedVideoAsset(t, j, "vid-edge", testhelpers.VideoSpec{
		Duration: 180 * time.Second,
	})

	j.ProcessVideo("vid-edge", rawPath, videoPath, thumbPath)

	a, exists := waitForPipeline(t, j, "vid-edge")
	if !exists {
		t.Fatal("video at exactly the ceiling should be accepted")
	}
	if a.Duration != 180 {
		t.Errorf("duration = %d, want 180", a.Duration)
	}
}

func TestProcessVideoRoundsDurationBeforeGate(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	// 180.4s rounds down to 180, which passes the gate
	rawPath, videoPath, thumbPath := seedVideoAsset(t, j, "vid-round", testhelpers.VideoSpec{
		Duration: 180*time.Second + 400*time.Millisecond,
	})

	j.ProcessVideo("vid-round", rawPath, videoPath, thumbPath)

	a, exists := waitForPipeline(t, j, "vid-round")
	if !exists {
		t.Fatal("180.4s video should round to 180 and be accepted")
	}
	if a.Duration != 180 {
		t.Errorf("duration = %d, want 180", a.Duration)
	}
}

func TestProcessVideoRejectsCorruptFile(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	rawPath := j.UploadPath("vid-bad")
	if err := os.WriteFile(rawPath, []byte("absolutely not a video"), 0600); err != nil {
		t.Fatal(err)
	}
	err := j.CreateAsset(context.Background(), &Asset{
		ID:        "vid-bad",
		EntryID:   "entry-1",
		MediaType: TypeVideo,
		URL:       "/media/vid-bad.mp4",
	})
	if err != nil {
		t.Fatal(err)
	}

	j.ProcessVideo("vid-bad", rawPath, j.MediaPath("vid-bad.mp4"), j.MediaPath("vid-bad_thumb.jpg"))

	if _, exists := waitForPipeline(t, j, "vid-bad"); exists {
		t.Fatal("corrupt video should have been discarded")
	}
	if FileExists(rawPath) {
		t.Error("raw upload should have been removed")
	}
}

func TestProcessVideoFallbackKeepsOriginal(t *testing.T) {
	stubFFmpeg(t, "fail")
	j := openTestJournal(t)

	rawPath, videoPath, thumbPath := seedVideoAsset(t, j, "vid-fb", testhelpers.VideoSpec{
		Duration: 15 * time.Second,
	})
	original, err := os.ReadFile(rawPath)
	if err != nil {
		t.Fatal(err)
	}

	j.ProcessVideo("vid-fb", rawPath, videoPath, thumbPath)

	a, exists := waitForPipeline(t, j, "vid-fb")
	if !exists {
		t.Fatal("transcode failure must fall back, not reject")
	}
	if a.Status != StatusProcessed {
		t.Errorf("status = %s, want processed", a.Status)
	}

	canonical, err := os.ReadFile(videoPath)
	if err != nil {
		t.Fatalf("reading canonical video: %v", err)
	}
	if !bytes.Equal(canonical, original) {
		t.Error("canonical file should be the original upload, byte for byte")
	}

	// thumbnail also failed, which must not have mattered
	if a.Duration != 15 {
		t.Errorf("duration = %d, want 15", a.Duration)
	}
}

func TestProcessPhotoSuccess(t *testing.T) {
	j := openTestJournal(t)

	rawPath := j.UploadPath("pho-ok")
	testhelpers.WriteJPEGFile(t, rawPath, 64, 48)

	err := j.CreateAsset(context.Background(), &Asset{
		ID:        "pho-ok",
		EntryID:   "entry-2",
		MediaType: TypePhoto,
		URL:       "/media/pho-ok.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}

	photoPath := j.MediaPath("pho-ok.jpg")
	if err := j.ProcessPhoto(context.Background(), "pho-ok", rawPath, photoPath); err != nil {
		t.Fatalf("ProcessPhoto: %v", err)
	}

	a, err := j.GetAsset(context.Background(), "pho-ok")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusProcessed {
		t.Errorf("status = %s, want processed", a.Status)
	}
	if a.Duration != 0 {
		t.Errorf("duration = %d, want 0 for a photo", a.Duration)
	}
	if len(a.ThumbHash) == 0 {
		t.Error("expected a thumbhash for a decodable photo")
	}
	if !FileExists(photoPath) {
		t.Error("canonical photo file is missing")
	}
	if FileExists(rawPath) {
		t.Error("raw upload should have been moved away")
	}
}

func TestProcessPhotoRejectsCorruptFile(t *testing.T) {
	j := openTestJournal(t)

	rawPath := j.UploadPath("pho-bad")
	if err := os.WriteFile(rawPath, []byte("not an image"), 0600); err != nil {
		t.Fatal(err)
	}
	err := j.CreateAsset(context.Background(), &Asset{
		ID:        "pho-bad",
		EntryID:   "entry-2",
		MediaType: TypePhoto,
		URL:       "/media/pho-bad.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}

	err = j.ProcessPhoto(context.Background(), "pho-bad", rawPath, j.MediaPath("pho-bad.jpg"))
	if err == nil {
		t.Fatal("expected rejection of a non-image file")
	}

	if _, err := j.GetAsset(context.Background(), "pho-bad"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("asset row should be gone, got err = %v", err)
	}
	if FileExists(rawPath) {
		t.Error("raw upload should have been removed")
	}
}

func TestDiscardAssetIsIdempotent(t *testing.T) {
	j := openTestJournal(t)

	err := j.CreateAsset(context.Background(), &Asset{
		ID:        "gone",
		EntryID:   "entry-3",
		MediaType: TypeVideo,
		URL:       "/media/gone.mp4",
	})
	if err != nil {
		t.Fatal(err)
	}

	logger := Log.Named("test")
	paths := []string{j.UploadPath("gone"), j.MediaPath("gone.mp4")}

	// twice in a row must not fail or panic
	j.discardAsset(logger, "gone", paths...)
	j.discardAsset(logger, "gone", paths...)

	if _, err := j.GetAsset(context.Background(), "gone"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("asset should be gone, got err = %v", err)
	}
}

func TestProcessVideoShutdownDiscardsQueued(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	// hold every slot so the pipeline has to queue
	for range maxConcurrentPipelines {
		pipelineThrottle <- struct{}{}
	}
	defer func() {
		for range maxConcurrentPipelines {
			<-pipelineThrottle
		}
	}()

	rawPath, videoPath, thumbPath := seedVideoAsset(t, j, "vid-shut", testhelpers.VideoSpec{
		Duration: 5 * time.Second,
	})

	j.cancel()
	j.ProcessVideo("vid-shut", rawPath, videoPath, thumbPath)

	if _, exists := waitForPipeline(t, j, "vid-shut"); exists {
		t.Fatal("a pipeline queued at shutdown must discard its asset, not leave it pending")
	}
	if FileExists(rawPath) {
		t.Error("raw upload should have been removed at shutdown")
	}
}

func TestPipelineConcurrencyLimit(t *testing.T) {
	stubFFmpeg(t, "copy")
	j := openTestJournal(t)

	// more pipelines than slots; all must eventually complete
	const n = maxConcurrentPipelines * 2
	ids := make([]string, n)
	for i := range n {
		ids[i] = fmt.Sprintf("vid-many-%d", i)
		rawPath, videoPath, thumbPath := seedVideoAsset(t, j, ids[i], testhelpers.VideoSpec{
			Duration: 5 * time.Second,
		})
		j.ProcessVideo(ids[i], rawPath, videoPath, thumbPath)
	}

	for _, id := range ids {
		if _, exists := waitForPipeline(t, j, id); !exists {
			t.Errorf("asset %s was discarded", id)
		}
	}
}
