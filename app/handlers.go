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

package app

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/waymarkapp/waymark/journal"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	maxVideoUploadSize = 2 << 30  // 2 GiB
	maxPhotoUploadSize = 256 << 20 // 256 MiB
)

// uploadVideo receives a video file, records a pending asset for it,
// and kicks off processing in the background. The response is 202 with
// the pending asset; clients poll the asset until it is processed, and
// treat a 404 as the upload having been rejected.
func (s server) uploadVideo(w http.ResponseWriter, r *http.Request) error {
	entryID := r.PathValue("entryID")

	upload, err := s.receiveUpload(w, r, maxVideoUploadSize)
	if err != nil {
		return err
	}

	asset := &journal.Asset{
		ID:        upload.assetID,
		EntryID:   entryID,
		MediaType: journal.TypeVideo,
		URL:       "/media/" + upload.assetID + ".mp4",
		Caption:   r.FormValue("caption"),
		Position:  formInt(r, "position"),
		Checksum:  upload.checksum,
	}
	thumbnailURL := "/media/" + upload.assetID + "_thumb.jpg"
	asset.ThumbnailURL = &thumbnailURL

	if err := s.app.jnl.CreateAsset(r.Context(), asset); err != nil {
		os.Remove(upload.rawPath)
		return fmt.Errorf("creating asset record: %w", err)
	}

	s.app.jnl.ProcessVideo(upload.assetID, upload.rawPath,
		s.app.jnl.MediaPath(upload.assetID+".mp4"),
		s.app.jnl.MediaPath(upload.assetID+"_thumb.jpg"))

	w.WriteHeader(http.StatusAccepted)
	return jsonResponse(w, asset, nil)
}

// uploadPhoto is synchronous: photos are cheap enough to process in
// the request, so the client gets either the finished asset or an
// immediate rejection.
func (s server) uploadPhoto(w http.ResponseWriter, r *http.Request) error {
	entryID := r.PathValue("entryID")

	upload, err := s.receiveUpload(w, r, maxPhotoUploadSize)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(upload.filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		ext = ".jpg"
	}

	asset := &journal.Asset{
		ID:        upload.assetID,
		EntryID:   entryID,
		MediaType: journal.TypePhoto,
		URL:       "/media/" + upload.assetID + ext,
		Caption:   r.FormValue("caption"),
		Position:  formInt(r, "position"),
		Checksum:  upload.checksum,
	}

	if err := s.app.jnl.CreateAsset(r.Context(), asset); err != nil {
		os.Remove(upload.rawPath)
		return fmt.Errorf("creating asset record: %w", err)
	}

	err = s.app.jnl.ProcessPhoto(r.Context(), upload.assetID, upload.rawPath,
		s.app.jnl.MediaPath(upload.assetID+ext))
	if err != nil {
		return Error{
			Err:        err,
			HTTPStatus: http.StatusBadRequest,
			Log:        "photo rejected",
			Message:    "That file does not appear to be a photo we can display.",
		}
	}

	finished, err := s.app.jnl.GetAsset(r.Context(), upload.assetID)
	if err != nil {
		return fmt.Errorf("loading finished asset: %w", err)
	}

	w.WriteHeader(http.StatusCreated)
	return jsonResponse(w, finished, nil)
}

func (s server) getAsset(w http.ResponseWriter, r *http.Request) error {
	asset, err := s.app.jnl.GetAsset(r.Context(), r.PathValue("assetID"))
	if errors.Is(err, journal.ErrAssetNotFound) {
		return Error{
			Err:        err,
			HTTPStatus: http.StatusNotFound,
			Log:        "asset lookup",
		}
	}
	return jsonResponse(w, asset, err)
}

func (s server) listEntryAssets(w http.ResponseWriter, r *http.Request) error {
	assets, err := s.app.jnl.EntryAssets(r.Context(), r.PathValue("entryID"))
	return jsonResponse(w, assets, err)
}

func (s server) deleteAsset(w http.ResponseWriter, r *http.Request) error {
	assetID := r.PathValue("assetID")

	asset, err := s.app.jnl.GetAsset(r.Context(), assetID)
	if errors.Is(err, journal.ErrAssetNotFound) {
		// deletion is idempotent
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.app.jnl.DeleteAsset(r.Context(), assetID); err != nil {
		return fmt.Errorf("deleting asset record: %w", err)
	}
	if name, ok := strings.CutPrefix(asset.URL, "/media/"); ok {
		os.Remove(s.app.jnl.MediaPath(name))
	}
	if asset.ThumbnailURL != nil {
		if name, ok := strings.CutPrefix(*asset.ThumbnailURL, "/media/"); ok {
			os.Remove(s.app.jnl.MediaPath(name))
		}
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// logWebsocket streams the JSON log feed to the client until it hangs up.
func (s server) logWebsocket(w http.ResponseWriter, r *http.Request) error {
	conn, err := logUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return Error{
			Err:        err,
			HTTPStatus: http.StatusBadRequest,
			Log:        "upgrading log connection",
		}
	}

	journal.AddLogConn(conn)

	// discard client messages; when reading fails the client is gone
	go func() {
		defer journal.RemoveLogConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}

// receivedUpload describes an uploaded file spooled to the uploads folder.
type receivedUpload struct {
	assetID  string
	rawPath  string
	filename string // as named by the client; only trusted for its extension
	checksum []byte
}

// receiveUpload spools the multipart "file" part to the uploads folder
// under a fresh asset ID, hashing it as it streams.
func (s server) receiveUpload(w http.ResponseWriter, r *http.Request, maxSize int64) (receivedUpload, error) {
	var ru receivedUpload

	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		return ru, Error{
			Err:        err,
			HTTPStatus: http.StatusBadRequest,
			Log:        "reading multipart upload",
			Message:    "We need the file in a form field named 'file'.",
		}
	}
	defer file.Close()

	ru.assetID = uuid.New().String()
	ru.filename = header.Filename
	ru.rawPath = s.app.jnl.UploadPath(ru.assetID)

	ru.checksum, err = spoolUpload(file, ru.rawPath)
	if err != nil {
		os.Remove(ru.rawPath)
		return ru, fmt.Errorf("spooling upload to disk: %w", err)
	}

	s.log.Info("received upload",
		zap.String("asset_id", ru.assetID),
		zap.String("filename", ru.filename),
		zap.String("raw_path", ru.rawPath))

	return ru, nil
}

func spoolUpload(file multipart.File, rawPath string) ([]byte, error) {
	out, err := os.Create(rawPath)
	if err != nil {
		return nil, err
	}

	hasher := blake3.New()
	if _, err := io.Copy(out, io.TeeReader(file, hasher)); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}

func formInt(r *http.Request, field string) int {
	n, _ := strconv.Atoi(r.FormValue(field))
	return n
}
