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
	"math"
	"regexp"
	"strconv"
)

// Rational is a raw EXIF rational value, kept unreduced so resolvers
// can decide how to interpret a zero denominator.
type Rational struct {
	Num, Den int64
}

func (r Rational) float() (float64, bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

// gpsAxis holds one coordinate axis (latitude or longitude) in the
// various shapes it appears in the wild. Any subset may be populated.
type gpsAxis struct {
	Normalized *float64     // signed decimal degrees the writer stored directly
	Accessor   *float64     // decimal degrees the EXIF library derived for us
	Decimal    *float64     // a single raw decimal tag value, sign unknown
	DMS        *[3]float64  // degrees/minutes/seconds
	Rationals  *[3]Rational // raw numerator/denominator triples
}

// RawTags carries the location-related tag values of one image, exactly
// as found, so that the resolvers below can stay pure functions.
type RawTags struct {
	Lat, Lon       gpsAxis
	LatRef, LonRef string // "N"/"S" and "E"/"W" hemisphere references
}

// A Resolver attempts to produce decimal coordinates from raw tag data.
// Returning ok=false means this strategy has nothing to offer; it is
// never an error.
type Resolver func(RawTags) (lat, lon float64, ok bool)

// Resolvers are tried in order; the first finite pair wins. Later
// strategies deal with progressively rawer data, so a writer that
// stored clean decimal degrees never goes through DMS arithmetic.
var Resolvers = []Resolver{
	normalizedPair,
	accessorPair,
	signedDecimalPair,
	dmsPair,
	rationalPair,
}

// ResolveGPS runs the resolver chain. ok=false after exhausting every
// strategy simply means the image has no usable coordinates.
func ResolveGPS(rt RawTags) (lat, lon float64, ok bool) {
	for _, resolve := range Resolvers {
		lat, lon, ok = resolve(rt)
		if ok && finite(lat) && finite(lon) {
			return lat, lon, true
		}
	}
	return 0, 0, false
}

func normalizedPair(rt RawTags) (float64, float64, bool) {
	if rt.Lat.Normalized == nil || rt.Lon.Normalized == nil {
		return 0, 0, false
	}
	return *rt.Lat.Normalized, *rt.Lon.Normalized, true
}

func accessorPair(rt RawTags) (float64, float64, bool) {
	if rt.Lat.Accessor == nil || rt.Lon.Accessor == nil {
		return 0, 0, false
	}
	return *rt.Lat.Accessor, *rt.Lon.Accessor, true
}

func signedDecimalPair(rt RawTags) (float64, float64, bool) {
	if rt.Lat.Decimal == nil || rt.Lon.Decimal == nil {
		return 0, 0, false
	}
	return applyRef(*rt.Lat.Decimal, rt.LatRef), applyRef(*rt.Lon.Decimal, rt.LonRef), true
}

func dmsPair(rt RawTags) (float64, float64, bool) {
	if rt.Lat.DMS == nil || rt.Lon.DMS == nil {
		return 0, 0, false
	}
	lat := dmsToDecimal(rt.Lat.DMS[0], rt.Lat.DMS[1], rt.Lat.DMS[2], rt.LatRef)
	lon := dmsToDecimal(rt.Lon.DMS[0], rt.Lon.DMS[1], rt.Lon.DMS[2], rt.LonRef)
	return lat, lon, true
}

func rationalPair(rt RawTags) (float64, float64, bool) {
	if rt.Lat.Rationals == nil || rt.Lon.Rationals == nil {
		return 0, 0, false
	}
	latDMS, ok := rationalsToFloats(*rt.Lat.Rationals)
	if !ok {
		return 0, 0, false
	}
	lonDMS, ok := rationalsToFloats(*rt.Lon.Rationals)
	if !ok {
		return 0, 0, false
	}
	lat := dmsToDecimal(latDMS[0], latDMS[1], latDMS[2], rt.LatRef)
	lon := dmsToDecimal(lonDMS[0], lonDMS[1], lonDMS[2], rt.LonRef)
	return lat, lon, true
}

// dmsToDecimal converts a degrees/minutes/seconds triple to decimal
// degrees, negating for southern and western hemisphere references.
func dmsToDecimal(deg, min, sec float64, ref string) float64 {
	return applyRef(deg+min/60+sec/3600, ref)
}

// applyRef negates v for "S" and "W" hemisphere references. Any other
// reference (including absent) leaves the sign as stored.
func applyRef(v float64, ref string) float64 {
	if ref == "S" || ref == "W" {
		return -math.Abs(v)
	}
	return v
}

func rationalsToFloats(rats [3]Rational) ([3]float64, bool) {
	var out [3]float64
	for i, r := range rats {
		f, ok := r.float()
		if !ok {
			return out, false
		}
		out[i] = f
	}
	return out, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseISO6709 extracts a latitude/longitude pair from a combined
// signed-decimal string such as "+40.4461-079.9392+021.0/" as written
// by Google and Apple cameras into MP4 user data; the first signed
// float is the latitude and the second the longitude. ok=false means
// the string did not contain a coordinate pair in that form.
func ParseISO6709(s string) (lat, lon float64, ok bool) {
	matches := iso6709Regex.FindStringSubmatch(s)
	const minMatches = 4
	if len(matches) < minMatches {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(matches[3], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// Regex to extract lat-lon data from ISO-6709-style location tags,
// which take the form "+50.1234-101.1234+000.000/" in North America.
// Sometimes the altitude component is missing entirely.
var iso6709Regex = regexp.MustCompile(`((\+|-)\d+\.\d+)((\+|-)\d+\.\d+)`)
