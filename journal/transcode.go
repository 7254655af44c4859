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
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ffmpegPath is a variable so tests can point it at a stub.
var ffmpegPath = "ffmpeg"

// transcodeWithFallback produces the canonical playable file at
// videoPath. Normally that means transcoding the upload to H.264/AAC;
// if ffmpeg cannot handle the file, the original is moved into place
// verbatim instead, on the theory that a video we could measure is
// almost certainly one the player can show, and an odd container is
// better than a lost memory. Only when both paths fail is the error
// fatal.
func (j *Journal) transcodeWithFallback(ctx context.Context, logger *zap.Logger, rawPath, videoPath string) error {
	transcodeErr := j.transcodeVideo(ctx, logger, rawPath, videoPath)
	if transcodeErr == nil {
		return nil
	}

	logger.Warn("transcode failed; keeping original file as canonical video",
		zap.Error(transcodeErr))

	// ffmpeg may have left a partial output behind
	if err := removeIfExists(videoPath); err != nil {
		return fmt.Errorf("clearing partial transcode output: %w", err)
	}

	if err := moveFile(rawPath, videoPath); err != nil {
		return errors.Join(
			fmt.Errorf("transcoding: %w", transcodeErr),
			fmt.Errorf("moving original into place: %w", err))
	}

	return nil
}

func (j *Journal) transcodeVideo(ctx context.Context, logger *zap.Logger, input, output string) error {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", input,

		// H.264 + AAC in yuv420p is the one combination every
		// browser and phone player agrees on
		"-vcodec", "libx264",
		"-acodec", "aac",
		"-pix_fmt", "yuv420p",

		// put the moov box up front so playback can start while
		// the file is still downloading
		"-movflags", "+faststart",

		// overwrite without prompting; we own the output path
		"-y",
		output,
	)
	cmd.Stderr = os.Stderr

	logger.Debug("exec " + cmd.String())

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running ffmpeg: %w", err)
	}

	logger.Debug("ffmpeg transcode completed", zap.Duration("duration", time.Since(start)))

	return nil
}

// moveFile renames src to dst, falling back to a copy and delete when
// the rename fails (uploads and media can live on different mounts).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err := dstFile.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	return os.Remove(src)
}
