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
	"fmt"
	"image"
	"os"
	"os/exec"

	"github.com/galdor/go-thumbhash"
	"go.uber.org/zap"
)

// thumbnailWidth is the target width of poster frames; height follows
// the source aspect ratio.
const thumbnailWidth = 480

// generateThumbnail grabs a poster frame from the canonical video. The
// frame at one second in is usually more representative than frame
// zero, which is often black or mid-fade.
func (j *Journal) generateThumbnail(ctx context.Context, logger *zap.Logger, videoPath, thumbnailPath string) error {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-ss", "00:00:01.000",
		"-i", videoPath,
		"-vf", fmt.Sprintf("scale=%d:-1", thumbnailWidth),
		"-vframes", "1",
		"-y",
		thumbnailPath,
	)
	cmd.Stderr = os.Stderr

	logger.Debug("exec " + cmd.String())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("generating video poster frame: %w", err)
	}

	return nil
}

// thumbHashFor computes the compact placeholder hash of a thumbnail
// image, so the UI can paint a blurry stand-in before the real
// thumbnail arrives.
func thumbHashFor(thumbnailPath string) ([]byte, error) {
	file, err := os.Open(thumbnailPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding thumbnail image: %w", err)
	}

	return thumbhash.EncodeImage(img), nil
}
