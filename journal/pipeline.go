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
	"fmt"
	"math"
	"os"
	"time"

	"github.com/waymarkapp/waymark/journal/media"
	"go.uber.org/zap"
)

const (
	// maxVideoDuration is the longest video we admit into a journal
	// entry. The comparison is strict: a video of exactly this length
	// is accepted.
	maxVideoDuration = 180 * time.Second

	// toolTimeout bounds each external tool invocation (ffmpeg runs,
	// mainly) so a wedged process cannot pin a pipeline slot forever.
	toolTimeout = 10 * time.Minute

	// maxConcurrentPipelines caps simultaneous video processing.
	// Transcoding is CPU-bound, so more parallelism than this just
	// makes every upload slower.
	maxConcurrentPipelines = 4
)

var pipelineThrottle = make(chan struct{}, maxConcurrentPipelines)

// ProcessVideo runs the video pipeline for an uploaded asset in the
// background and returns immediately. rawPath is the uploaded file as
// received; videoPath and thumbnailPath are where the canonical
// playable file and its poster frame must end up. The asset row must
// already exist in pending state. On any fatal pipeline error the
// asset and all three files are cleaned up, so callers that get a
// not-found on a later read should treat the upload as rejected.
func (j *Journal) ProcessVideo(assetID, rawPath, videoPath, thumbnailPath string) {
	logger := Log.Named("pipeline").With(
		zap.String("asset_id", assetID),
		zap.String("raw_path", rawPath))

	go func() {
		select {
		case pipelineThrottle <- struct{}{}:
		case <-j.ctx.Done():
			// best effort; a pending row with no pipeline behind it
			// would otherwise survive a restart forever
			logger.Warn("journal shutting down before pipeline could start; discarding asset")
			j.discardAsset(logger, assetID, rawPath, videoPath, thumbnailPath)
			return
		}
		defer func() { <-pipelineThrottle }()

		start := time.Now()
		if err := j.processVideo(j.ctx, logger, assetID, rawPath, videoPath, thumbnailPath); err != nil {
			logger.Error("video pipeline failed; discarding asset", zap.Error(err))
			j.discardAsset(logger, assetID, rawPath, videoPath, thumbnailPath)
			return
		}
		logger.Info("video pipeline completed", zap.Duration("duration", time.Since(start)))
	}()
}

// ErrVideoTooLong is the policy gate rejection. It wraps nothing; the
// caller already knows which asset it was processing.
var ErrVideoTooLong = errors.New("video exceeds maximum allowed duration")

func (j *Journal) processVideo(ctx context.Context, logger *zap.Logger, assetID, rawPath, videoPath, thumbnailPath string) error {
	file, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("opening uploaded video: %w", err)
	}
	meta, err := media.ExtractVideo(logger, file)
	file.Close()
	if err != nil {
		return fmt.Errorf("extracting video metadata: %w", err)
	}

	// round to whole seconds before comparing, so a container that
	// reports 180.4s still fits under a 180s ceiling
	durationSecs := int(math.Round(meta.Duration))
	if durationSecs > int(maxVideoDuration.Seconds()) {
		return fmt.Errorf("%w: %ds > %s", ErrVideoTooLong, durationSecs, maxVideoDuration)
	}

	logger.Debug("video metadata extracted",
		zap.Int("duration_secs", durationSecs),
		zap.Bool("has_location", meta.HasLocation()),
		zap.Timep("taken_at", meta.TakenAt))

	if err := j.transcodeWithFallback(ctx, logger, rawPath, videoPath); err != nil {
		return fmt.Errorf("producing canonical video: %w", err)
	}

	// a missing poster frame degrades the UI but the video is fine,
	// so neither of these failures sinks the pipeline
	var thumbHash []byte
	if err := j.generateThumbnail(ctx, logger, videoPath, thumbnailPath); err != nil {
		logger.Warn("thumbnail generation failed; continuing without one", zap.Error(err))
		removeIfExists(thumbnailPath)
	} else if thumbHash, err = thumbHashFor(thumbnailPath); err != nil {
		logger.Warn("thumbhash computation failed", zap.Error(err))
		thumbHash = nil
	}

	if err := j.FinalizeAsset(ctx, assetID, durationSecs, meta, thumbHash); err != nil {
		return fmt.Errorf("finalizing asset record: %w", err)
	}

	// the upload served its purpose; only the canonical file remains
	removeIfExists(rawPath)

	return nil
}

// ProcessPhoto runs the photo pipeline synchronously: photos need no
// transcoding, so the caller can report rejection immediately instead
// of discovering it later. On error the asset row and files are
// already cleaned up.
func (j *Journal) ProcessPhoto(ctx context.Context, assetID, rawPath, photoPath string) error {
	logger := Log.Named("pipeline").With(
		zap.String("asset_id", assetID),
		zap.String("raw_path", rawPath))

	err := j.processPhoto(ctx, logger, assetID, rawPath, photoPath)
	if err != nil {
		logger.Error("photo pipeline failed; discarding asset", zap.Error(err))
		j.discardAsset(logger, assetID, rawPath, photoPath)
	}
	return err
}

func (j *Journal) processPhoto(ctx context.Context, logger *zap.Logger, assetID, rawPath, photoPath string) error {
	file, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("opening uploaded photo: %w", err)
	}
	meta, err := media.ExtractPhoto(logger, file)
	file.Close()
	if err != nil {
		return fmt.Errorf("extracting photo metadata: %w", err)
	}

	if err := moveFile(rawPath, photoPath); err != nil {
		return fmt.Errorf("moving photo into place: %w", err)
	}

	thumbHash, err := thumbHashFor(photoPath)
	if err != nil {
		logger.Warn("thumbhash computation failed", zap.Error(err))
		thumbHash = nil
	}

	if err := j.FinalizeAsset(ctx, assetID, 0, meta, thumbHash); err != nil {
		return fmt.Errorf("finalizing asset record: %w", err)
	}

	return nil
}

// discardAsset undoes a failed pipeline run: the DB row and every file
// the pipeline may have produced. Each step is best-effort and
// idempotent, so discarding twice, or discarding an asset that never
// got past extraction, is harmless.
func (j *Journal) discardAsset(logger *zap.Logger, assetID string, paths ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), 30*time.Second)
	defer cancel()

	if err := j.DeleteAsset(ctx, assetID); err != nil {
		logger.Error("deleting asset record during discard", zap.Error(err))
	}
	for _, path := range paths {
		if err := removeIfExists(path); err != nil {
			logger.Error("removing file during discard",
				zap.Error(err),
				zap.String("path", path))
		}
	}
}
