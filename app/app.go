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

// Package app provides the application functionality for journals:
// the HTTP server and APIs, upload handling, and configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/waymarkapp/waymark/journal"
	"go.uber.org/zap"
)

// App ties the open journal to the HTTP surface that serves it.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc // shuts down the app

	cfg *Config
	log *zap.Logger

	jnl *journal.Journal

	server server
}

func New(ctx context.Context, cfg *Config) (*App, error) {
	cfg.fillDefaults()

	// persist defaults on first run so users have a file to edit
	if _, err := os.Stat(DefaultConfigFilePath()); errors.Is(err, fs.ErrNotExist) {
		if err := cfg.autosave(); err != nil {
			journal.Log.Warn("could not save initial config file", zap.Error(err))
		}
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)

	jnl, err := journal.Open(ctx, cfg.dataDir())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	newApp := &App{
		ctx: ctx,
		cfg: cfg,
		log: journal.Log,
		jnl: jnl,
	}
	newApp.server = server{
		app: newApp,
		log: newApp.log.Named("http"),
	}
	newApp.cancel = func() {
		// cancel the context, so anything relying on it knows to terminate
		cancel()

		if err := jnl.Close(); err != nil {
			newApp.log.Error("closing journal", zap.Error(err))
		}

		// gracefully close the HTTP server (let existing requests finish within a timeout)
		if newApp.server.httpServer != nil {
			// use a different context since the one we have has been canceled
			const shutdownTimeout = 10 * time.Second
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			_ = newApp.server.httpServer.Shutdown(shutdownCtx)
		}
	}

	return newApp, nil
}

// Journal returns the journal this app is serving.
func (a *App) Journal() *journal.Journal { return a.jnl }

// Shutdown stops the app: the HTTP server and the open journal.
func (a *App) Shutdown() {
	a.cancel()
}

// Serve starts the HTTP server and blocks until the listener closes.
func (a *App) Serve() error {
	if a.server.ln != nil {
		return fmt.Errorf("server already running on %s", a.server.ln.Addr())
	}

	addr := a.cfg.listenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("opening listener: %w", err)
	}
	a.server.ln = ln

	a.server.mux = http.NewServeMux()

	addRoute := func(pattern string, h handler) {
		a.server.mux.Handle(pattern, wrapErrorHandler(h))
	}

	// API endpoints
	addRoute("POST /api/entries/{entryID}/photos", handlerFunc(a.server.uploadPhoto))
	addRoute("POST /api/entries/{entryID}/videos", handlerFunc(a.server.uploadVideo))
	addRoute("GET /api/entries/{entryID}/assets", handlerFunc(a.server.listEntryAssets))
	addRoute("GET /api/assets/{assetID}", handlerFunc(a.server.getAsset))
	addRoute("DELETE /api/assets/{assetID}", handlerFunc(a.server.deleteAsset))
	addRoute("GET /api/logs", handlerFunc(a.server.logWebsocket))

	// processed media files (canonical videos, photos, thumbnails)
	a.server.mediaFiles = http.FileServer(http.Dir(a.jnl.MediaDir()))
	addRoute("GET /media/", httpWrap(http.StripPrefix("/media/", a.server.mediaFiles)))

	// debug endpoints
	addRoute("GET /debug/pprof/", httpWrap(http.HandlerFunc(pprof.Index)))
	addRoute("GET /debug/pprof/profile", httpWrap(http.HandlerFunc(pprof.Profile)))
	addRoute("GET /debug/pprof/trace", httpWrap(http.HandlerFunc(pprof.Trace)))

	a.log.Info("started server", zap.String("listener", ln.Addr().String()))
	a.server.httpServer = &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1024 * 512,
	}

	err = a.server.httpServer.Serve(ln)
	if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
		// normal; the listener or server was deliberately closed
		a.log.Info("stopped server", zap.String("listener", ln.Addr().String()))
		return nil
	}
	return err
}
