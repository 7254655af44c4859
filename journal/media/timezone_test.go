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

package media

import (
	"testing"
	"time"
)

func TestLocalizedToCoordsReanchorsWallClock(t *testing.T) {
	for name, tc := range map[string]struct {
		wallClock time.Time
		lat, lon  float64
		wantUTC   time.Time
	}{
		"pittsburgh standard time": {
			// EST, UTC-5: the instant moves forward five hours
			wallClock: time.Date(2024, time.March, 9, 14, 0, 0, 0, time.UTC),
			lat:       40.4461, lon: -79.9392,
			wantUTC: time.Date(2024, time.March, 9, 19, 0, 0, 0, time.UTC),
		},
		"pittsburgh daylight time": {
			// EDT, UTC-4
			wallClock: time.Date(2024, time.July, 4, 12, 30, 0, 0, time.UTC),
			lat:       40.4461, lon: -79.9392,
			wantUTC: time.Date(2024, time.July, 4, 16, 30, 0, 0, time.UTC),
		},
		"sydney": {
			// AEDT, UTC+11: the instant moves back eleven hours
			wallClock: time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC),
			lat:       -33.8688, lon: 151.2093,
			wantUTC: time.Date(2024, time.January, 14, 22, 0, 0, 0, time.UTC),
		},
	} {
		t.Run(name, func(t *testing.T) {
			got := localizedToCoords(&tc.wallClock, &tc.lat, &tc.lon)
			if got == nil {
				t.Fatal("timestamp dropped")
			}
			if !got.Equal(tc.wantUTC) {
				t.Errorf("instant = %v, want %v", got.UTC(), tc.wantUTC)
			}
			if got.Unix() == tc.wallClock.Unix() {
				t.Error("instant unchanged; wall clock was not re-anchored")
			}

			// the wall-clock reading must survive the re-anchoring
			gh, gm, _ := got.Clock()
			wh, wm, _ := tc.wallClock.Clock()
			if gh != wh || gm != wm {
				t.Errorf("wall clock = %02d:%02d, want %02d:%02d", gh, gm, wh, wm)
			}
		})
	}
}

func TestLocalizedToCoordsPassthrough(t *testing.T) {
	ts := time.Date(2024, time.March, 9, 14, 0, 0, 0, time.UTC)
	lat, lon := 40.4461, -79.9392

	if got := localizedToCoords(nil, &lat, &lon); got != nil {
		t.Errorf("nil timestamp should stay nil, got %v", got)
	}
	if got := localizedToCoords(&ts, nil, &lon); got == nil || !got.Equal(ts) || got.Unix() != ts.Unix() {
		t.Errorf("missing latitude should pass the timestamp through, got %v", got)
	}
	if got := localizedToCoords(&ts, &lat, nil); got == nil || got.Unix() != ts.Unix() {
		t.Errorf("missing longitude should pass the timestamp through, got %v", got)
	}
}
