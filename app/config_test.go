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
	"testing"
)

func TestListenAddr(t *testing.T) {
	cfg := new(Config)
	if got := cfg.listenAddr(); got != defaultListenAddr {
		t.Errorf("empty config listenAddr = %s, want %s", got, defaultListenAddr)
	}

	cfg.Listen = "127.0.0.1:9000"
	if got := cfg.listenAddr(); got != "127.0.0.1:9000" {
		t.Errorf("listenAddr = %s, want configured value", got)
	}

	t.Setenv("WAYMARK_ADDR", "127.0.0.1:9999")
	if got := cfg.listenAddr(); got != "127.0.0.1:9999" {
		t.Errorf("listenAddr = %s, env should override config", got)
	}
}

func TestDataDir(t *testing.T) {
	cfg := new(Config)
	if got := cfg.dataDir(); got != DefaultDataDir() {
		t.Errorf("empty config dataDir = %s, want default", got)
	}

	cfg.DataDir = "/srv/journal"
	if got := cfg.dataDir(); got != "/srv/journal" {
		t.Errorf("dataDir = %s, want configured value", got)
	}

	t.Setenv("WAYMARK_DATA_DIR", "/mnt/other")
	if got := cfg.dataDir(); got != "/mnt/other" {
		t.Errorf("dataDir = %s, env should override config", got)
	}
}

func TestRandString(t *testing.T) {
	if randString(0, false) != "" {
		t.Error("zero length should give empty string")
	}
	if got := randString(12, true); len(got) != 12 {
		t.Errorf("len = %d, want 12", len(got))
	}
	seen := map[string]bool{}
	for range 20 {
		seen[randString(8, true)] = true
	}
	if len(seen) < 2 {
		t.Error("randString looks constant")
	}
}
