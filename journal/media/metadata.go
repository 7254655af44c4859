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

// Package media extracts timestamps, coordinates, and durations from
// photo and video files so they can be attached to journal assets.
package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/abema/go-mp4"
	"github.com/cozy/goexif2/exif"
	"github.com/cozy/goexif2/mknote"
	"github.com/trimmer-io/go-xmp/xmp"
	"go.uber.org/zap"

	// registered so image.DecodeConfig can recognize the formats we accept
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// Metadata is what we were able to learn about a media file. Duration
// is zero for photos. Latitude and Longitude are either both set or
// both nil.
type Metadata struct {
	Duration  float64
	Latitude  *float64
	Longitude *float64
	TakenAt   *time.Time
}

// HasLocation reports whether a coordinate pair was found.
func (m Metadata) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// ErrNoMovieHeader is returned for MP4 files that parse as a box
// structure but carry no mvhd box; without one there is no duration,
// and a container like that is not playable anyway.
var ErrNoMovieHeader = errors.New("no movie header (mvhd) box in file")

// appleLocationKey is the moov/meta metadata key newer iPhones write
// their capture location under, as an ISO-6709 string.
const appleLocationKey = "com.apple.quicktime.location.ISO6709"

// ExtractVideo reads the MP4 box structure of the file and returns its
// duration, creation time, and location if one of the vendor location
// boxes carries coordinates. A file whose box structure cannot be
// walked, or which has no movie header, is an error: we cannot admit a
// video we cannot even measure.
func ExtractVideo(logger *zap.Logger, file io.ReadSeeker) (Metadata, error) {
	var meta Metadata
	var foundMvhd bool

	// location candidates by priority: a ©xyz box (Google and older
	// Apple cameras) beats the Apple metadata key, which beats a 3GPP
	// loci box
	var xyzLoc, appleLoc, lociLoc *[2]float64

	// the keys box names metadata items; ilst carries their values in
	// containers numbered by 1-based key index
	var appleKeyIndex uint32
	ilstValues := make(map[uint32]string)

	_, err := mp4.ReadBoxStructure(file, func(h *mp4.ReadHandle) (any, error) {
		if h.BoxInfo.IsSupportedType() && h.BoxInfo.Type.String() != "mdat" {
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, fmt.Errorf("reading payload from handle: %w", err)
			}

			switch b := box.(type) {
			case *mp4.Mvhd: // movie header (overall declarations)
				foundMvhd = true
				if b.Timescale > 0 {
					meta.Duration = float64(b.GetDuration()) / float64(b.Timescale)
				}
				if meta.TakenAt == nil {
					// (only difference between V0 and V1 is bit length of integer)
					if creationTime := b.GetCreationTime(); creationTime != 0 {
						ts := isoIEC14496Timestamp(creationTime)
						if !ts.IsZero() {
							meta.TakenAt = &ts
						}
					}
				}

			case *mp4.Tkhd: // track header
				// just in case (for some reason) the mvhd box didn't have this info
				if meta.TakenAt == nil {
					if creationTime := b.GetCreationTime(); creationTime != 0 {
						ts := isoIEC14496Timestamp(creationTime)
						if !ts.IsZero() {
							meta.TakenAt = &ts
						}
					}
				}

			case *mp4.Keys:
				for i, entry := range b.Entries {
					if string(entry.KeyValue) == appleLocationKey {
						appleKeyIndex = uint32(i + 1) //nolint:gosec
					}
				}

			case *mp4.Item:
				// numbered metadata item; its box type is the 1-based
				// index into the keys box
				idx := binary.BigEndian.Uint32(h.BoxInfo.Type[:])
				if idx != 0 && b.Data.DataType == mp4.DataTypeStringUTF8 {
					ilstValues[idx] = string(b.Data.Data)
				}
			}

			// traverse child nodes
			return h.Expand()
		} else if h.BoxInfo.Context.UnderUdta && h.BoxInfo.Type == [4]byte{'©', 'x', 'y', 'z'} {
			// Google and Apple cameras store location data in this box
			var buf bytes.Buffer
			if _, err := h.ReadData(&buf); err != nil {
				return nil, fmt.Errorf("reading ©xyz box data: %w", err)
			}
			if lat, lon, ok := ParseISO6709(buf.String()); ok {
				xyzLoc = &[2]float64{lat, lon}
			} else {
				logger.Warn("unparseable ©xyz location box",
					zap.String("©xyz", buf.String()))
			}
		} else if h.BoxInfo.Context.UnderUdta && h.BoxInfo.Type == mp4.StrToBoxType("loci") {
			var buf bytes.Buffer
			if _, err := h.ReadData(&buf); err != nil {
				return nil, fmt.Errorf("reading loci box data: %w", err)
			}
			if lat, lon, ok := parseLociBox(buf.Bytes()); ok {
				lociLoc = &[2]float64{lat, lon}
			} else {
				logger.Warn("unparseable loci location box",
					zap.Int("payload_size", buf.Len()))
			}
		}

		return nil, nil
	})
	if err != nil {
		return meta, fmt.Errorf("walking MP4 box structure: %w", err)
	}
	if !foundMvhd {
		return meta, ErrNoMovieHeader
	}

	if appleKeyIndex != 0 {
		if s, ok := ilstValues[appleKeyIndex]; ok {
			if lat, lon, ok := ParseISO6709(s); ok {
				appleLoc = &[2]float64{lat, lon}
			} else {
				logger.Warn("unparseable Apple location metadata value",
					zap.String("value", s))
			}
		}
	}

	loc := xyzLoc
	if loc == nil {
		loc = appleLoc
	}
	if loc == nil {
		loc = lociLoc
	}
	if loc != nil && finite(loc[0]) && finite(loc[1]) {
		lat, lon := loc[0], loc[1]
		meta.Latitude = &lat
		meta.Longitude = &lon
	}

	meta.TakenAt = localizedToCoords(meta.TakenAt, meta.Latitude, meta.Longitude)

	return meta, nil
}

// ExtractPhoto verifies that the file decodes as an image we know
// (JPEG, PNG, or WebP) and then mines EXIF and XMP for a timestamp and
// coordinates. Missing or broken EXIF is not an error; a file that is
// not a recognizable image is.
func ExtractPhoto(logger *zap.Logger, file io.ReadSeeker) (Metadata, error) {
	var meta Metadata

	if _, _, err := image.DecodeConfig(file); err != nil {
		return meta, fmt.Errorf("decoding image header: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return meta, fmt.Errorf("could not rewind file after image header: %w", err)
	}

	ex, err := exif.Decode(file)
	if err != nil && exif.IsCriticalError(err) {
		logger.Debug("no usable EXIF block", zap.Error(err))
		ex = nil
	}

	if ex != nil {
		if lat, lon, ok := ResolveGPS(rawGPSTags(logger, ex)); ok {
			meta.Latitude = &lat
			meta.Longitude = &lon
		}
		if ts, ok := exifTimestamp(ex); ok {
			meta.TakenAt = &ts
		}
	}

	if meta.TakenAt == nil {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return meta, fmt.Errorf("could not rewind file after EXIF: %w", err)
		}
		if ts, ok := xmpTimestamp(logger, file); ok {
			meta.TakenAt = &ts
		}
	}

	meta.TakenAt = localizedToCoords(meta.TakenAt, meta.Latitude, meta.Longitude)

	return meta, nil
}

// rawGPSTags pulls the location-related EXIF tags out in every shape
// the resolver chain knows, without interpreting them.
func rawGPSTags(logger *zap.Logger, ex *exif.Exif) RawTags {
	var rt RawTags

	rt.LatRef = refString(ex, exif.GPSLatitudeRef)
	rt.LonRef = refString(ex, exif.GPSLongitudeRef)

	rt.Lat = rawGPSAxis(logger, ex, exif.GPSLatitude)
	rt.Lon = rawGPSAxis(logger, ex, exif.GPSLongitude)

	// the library's own accessor normalizes DMS and hemisphere refs;
	// keep it as its own rung so a quirk in our raw handling can never
	// shadow a value the library read cleanly
	if lat, lon, err := ex.LatLong(); err == nil {
		rt.Lat.Accessor = &lat
		rt.Lon.Accessor = &lon
	}

	return rt
}

func rawGPSAxis(logger *zap.Logger, ex *exif.Exif, field exif.FieldName) gpsAxis {
	var axis gpsAxis

	tag, err := ex.Get(field)
	if err != nil || tag == nil {
		return axis
	}

	switch {
	case tag.Count >= 3:
		var dms [3]float64
		var rats [3]Rational
		dmsOK, ratsOK := true, true
		for i := range 3 {
			if f, err := tag.Float(i); err == nil {
				dms[i] = f
			} else {
				dmsOK = false
			}
			if num, den, err := tag.Rat2(i); err == nil {
				rats[i] = Rational{Num: num, Den: den}
			} else {
				ratsOK = false
			}
		}
		if dmsOK {
			axis.DMS = &dms
		}
		if ratsOK {
			axis.Rationals = &rats
		}
		if !dmsOK && !ratsOK {
			logger.Warn("GPS tag with 3 components but no readable values",
				zap.String("field_name", string(field)))
		}

	case tag.Count == 1:
		f, err := tag.Float(0)
		if err != nil {
			// some writers store the single decimal as a rational
			num, den, ratErr := tag.Rat2(0)
			if ratErr != nil || den == 0 {
				logger.Warn("unable to get decimal from GPS tag",
					zap.Error(err),
					zap.String("field_name", string(field)))
				break
			}
			f = float64(num) / float64(den)
		}
		if f < 0 {
			// sign already baked in; no hemisphere ref needed
			axis.Normalized = &f
		} else {
			axis.Decimal = &f
		}
	}

	return axis
}

func refString(ex *exif.Exif, field exif.FieldName) string {
	tag, err := ex.Get(field)
	if err != nil || tag == nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

const exifTimeLayout = "2006:01:02 15:04:05"

// exifTimestamp walks the capture-time fields from most to least
// specific. DateTimeOriginal is when the shutter fired; DateTime is
// merely when the file was last written, so it comes last.
func exifTimestamp(ex *exif.Exif) (time.Time, bool) {
	for _, field := range []exif.FieldName{
		exif.DateTimeOriginal,
		exif.DateTimeDigitized,
		exif.DateTime,
	} {
		tag, err := ex.Get(field)
		if err != nil || tag == nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		if ts, err := time.Parse(exifTimeLayout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// xmpTimestamp scans the file for XMP packets and returns the first
// capture date it can parse. Cameras that strip EXIF on export often
// still leave an XMP sidecar packet behind.
func xmpTimestamp(logger *zap.Logger, file io.Reader) (time.Time, bool) {
	packets, err := xmp.ScanPackets(file)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("scanning XMP packets", zap.Error(err))
		}
		return time.Time{}, false
	}

	for _, packet := range packets {
		var doc xmp.Document
		if err := xmp.Unmarshal(packet, &doc); err != nil {
			logger.Debug("unmarshaling XMP document", zap.Error(err))
			continue
		}
		paths, err := doc.ListPaths()
		if err != nil {
			logger.Debug("listing XMP paths", zap.Error(err))
			continue
		}
		for _, p := range paths {
			switch string(p.Path) {
			case "exif:DateTimeOriginal", "xmp:CreateDate", "photoshop:DateCreated":
				if ts, ok := parseXMPDate(p.Value); ok {
					return ts, true
				}
			}
		}
	}

	return time.Time{}, false
}

func parseXMPDate(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parseLociBox decodes the 3GPP TS 26.244 loci box: version+flags,
// packed language, a null-terminated place name, a role byte, then
// longitude and latitude as 16.16 fixed-point degrees.
func parseLociBox(payload []byte) (lat, lon float64, ok bool) {
	const headerLen = 4 + 2 // version+flags, language
	if len(payload) < headerLen {
		return 0, 0, false
	}
	rest := payload[headerLen:]

	nameEnd := bytes.IndexByte(rest, 0)
	if nameEnd < 0 {
		return 0, 0, false
	}
	rest = rest[nameEnd+1:]

	const roleAndCoordsLen = 1 + 4 + 4
	if len(rest) < roleAndCoordsLen {
		return 0, 0, false
	}
	rest = rest[1:] // role

	lonFixed := int32(binary.BigEndian.Uint32(rest[:4]))
	latFixed := int32(binary.BigEndian.Uint32(rest[4:8]))

	const fixedPointScale = 65536.0
	return float64(latFixed) / fixedPointScale, float64(lonFixed) / fixedPointScale, true
}

// isoIEC14496Timestamp converts the number of seconds since January 1, 1904 (as
// defined by ISO/IEC 14496-12 5th Edition [2015], page 23) to a normal time.Time
// value based on Unix epoch.
func isoIEC14496Timestamp(ts uint64) time.Time {
	if ts <= isoIEC14496_12_5thEdition_2015EpochToUnixEpochSeconds {
		return time.Time{}
	}
	unixSec := ts - isoIEC14496_12_5thEdition_2015EpochToUnixEpochSeconds
	return time.Unix(int64(unixSec), 0).UTC() //nolint:gosec // This could technically overflow but I don't think the incoming timestamp is going to be THAT big
}

// The difference between January 1, 1904 (the epoch used by MP4 file metadata)
// and January 1, 1970 (the Unix epoch) in seconds.
const isoIEC14496_12_5thEdition_2015EpochToUnixEpochSeconds uint64 = 2082844800 //nolint // Yeah screw it, I'm using underscores for this one
