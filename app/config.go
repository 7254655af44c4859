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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/waymarkapp/waymark/journal"
	"go.uber.org/zap"
)

// Config describes the server configuration.
// Config values must not be copied (i.e. use pointers).
type Config struct {
	sync.RWMutex `json:"-"`

	// The listen address to bind the socket to.
	Listen string `json:"listen,omitempty"`

	// The folder the journal lives in: its database, uploads,
	// and processed media files.
	DataDir string `json:"data_dir,omitempty"`

	log *zap.Logger
}

const defaultListenAddr = "127.0.0.1:12190"

func (cfg *Config) listenAddr() string {
	cfg.RLock()
	defer cfg.RUnlock()
	if envVal := os.Getenv("WAYMARK_ADDR"); envVal != "" {
		return envVal
	}
	if cfg.Listen != "" {
		return cfg.Listen
	}
	return defaultListenAddr
}

func (cfg *Config) dataDir() string {
	cfg.RLock()
	defer cfg.RUnlock()
	if envVal := os.Getenv("WAYMARK_DATA_DIR"); envVal != "" {
		return envVal
	}
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	return DefaultDataDir()
}

func (cfg *Config) fillDefaults() {
	cfg.Lock()
	defer cfg.Unlock()
	if cfg.log == nil {
		cfg.log = journal.Log.Named("config").With(zap.Time("loaded", time.Now()))
	}
}

// autosave persists the config to disk by obtaining a read lock, so it is safe for concurrent use.
func (cfg *Config) autosave() error {
	cfg.RLock()
	defer cfg.RUnlock()
	return cfg.unsyncedSave()
}

func (cfg *Config) unsyncedSave() error {
	filename := DefaultConfigFilePath()
	err := os.MkdirAll(filepath.Dir(filename), 0755)
	if err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	cfgFile, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer cfgFile.Close()
	enc := json.NewEncoder(cfgFile)
	enc.SetIndent("", "\t")
	if err = enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if cfg.log != nil {
		cfg.log.Info("saved config file", zap.String("path", filename))
	}
	return nil
}

// DefaultConfigFilePath returns the file path where
// configuration is persisted.
func DefaultConfigFilePath() string {
	cfgDir, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(cfgDir, "waymark", "config.json")
	}
	cfgDir, err = os.UserHomeDir()
	if err == nil {
		return filepath.Join(cfgDir, ".waymark", "config.json")
	}
	return filepath.Join(".waymark", "config.json")
}

// DefaultDataDir returns the file path where the journal
// is stored when the config does not name one.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(homeDir, ".waymark", "journal")
	}
	return filepath.Join(".waymark", "journal")
}
