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
	"sync"
	"time"

	"github.com/ringsaturn/tzf"

	// zone database embedded so LoadLocation works on hosts without tzdata
	_ "time/tzdata"
)

// The default finder carries an embedded polygon dataset, so build it
// once and only if some file actually has coordinates.
var (
	tzFinder     tzf.F
	tzFinderErr  error
	tzFinderOnce sync.Once
)

func timezoneFinder() (tzf.F, error) {
	tzFinderOnce.Do(func() {
		tzFinder, tzFinderErr = tzf.NewDefaultFinder()
	})
	return tzFinder, tzFinderErr
}

// localizedToCoords re-anchors a capture time in the time zone the
// coordinates fall in. Camera clocks record local wall time without an
// offset, and our extractors parse that wall time as if it were UTC,
// so the wall-clock fields are kept and reinterpreted in the resolved
// zone; the underlying instant shifts by the zone's offset. Without
// coordinates, or if the zone lookup fails, the timestamp passes
// through untouched.
func localizedToCoords(ts *time.Time, lat, lon *float64) *time.Time {
	if ts == nil || lat == nil || lon == nil {
		return ts
	}
	finder, err := timezoneFinder()
	if err != nil {
		return ts
	}
	name := finder.GetTimezoneName(*lon, *lat)
	if name == "" {
		return ts
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return ts
	}
	year, month, day := ts.Date()
	hour, minute, sec := ts.Clock()
	localized := time.Date(year, month, day, hour, minute, sec, ts.Nanosecond(), loc)
	return &localized
}
