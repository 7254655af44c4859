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

// Package testhelpers builds small media files for tests: minimal but
// structurally valid MP4 containers and images, so tests never need
// binary fixtures checked into the repo.
package testhelpers

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abema/go-mp4"
)

// mp4Epoch is January 1, 1904, the zero point of MP4 creation times.
var mp4Epoch = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

// VideoSpec describes the synthetic MP4 to build. The container has an
// ftyp and a moov with a movie header; no actual media samples, which
// is fine for anything that only reads metadata.
type VideoSpec struct {
	Duration     time.Duration
	CreationTime time.Time // zero means omitted
	XYZ          string    // raw ©xyz user-data string, e.g. "+40.4461-079.9392/"
	AppleISO6709 string    // moov/meta location metadata value, iPhone style
	LociLat      float64   // written only when HasLoci
	LociLon      float64
	HasLoci      bool
	OmitMvhd     bool // leave out the movie header entirely
}

// WriteVideoFile writes an MP4 matching spec to path.
func WriteVideoFile(t *testing.T, path string, spec VideoSpec) {
	t.Helper()

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		t.Fatalf("creating mp4 fixture file: %v", err)
	}
	defer file.Close()

	// the writer needs to seek back to fill in box sizes
	w := mp4.NewWriter(file)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("building mp4 fixture: %v", err)
		}
	}
	marshal := func(box mp4.IImmutableBox) {
		t.Helper()
		_, err := mp4.Marshal(w, box, mp4.Context{})
		must(err)
	}
	startBox := func(boxType mp4.BoxType) {
		t.Helper()
		_, err := w.StartBox(&mp4.BoxInfo{Type: boxType})
		must(err)
	}
	endBox := func() {
		t.Helper()
		_, err := w.EndBox()
		must(err)
	}

	startBox(mp4.BoxTypeFtyp())
	marshal(&mp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 0x200,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	})
	endBox()

	const timescale = 1000 // units per second, so duration is in millis

	var creation uint32
	if !spec.CreationTime.IsZero() {
		creation = uint32(spec.CreationTime.Sub(mp4Epoch) / time.Second)
	}

	startBox(mp4.BoxTypeMoov())

	if !spec.OmitMvhd {
		startBox(mp4.BoxTypeMvhd())
		marshal(&mp4.Mvhd{
			CreationTimeV0: creation,
			Timescale:      timescale,
			DurationV0:     uint32(spec.Duration.Milliseconds()), //nolint:gosec
			Rate:           0x00010000,
			Volume:         0x0100,
			NextTrackID:    1,
		})
		endBox()
	}

	if spec.AppleISO6709 != "" {
		const locationKey = "com.apple.quicktime.location.ISO6709"

		startBox(mp4.BoxTypeMeta())
		marshal(&mp4.Meta{})

		startBox(mp4.BoxTypeHdlr())
		marshal(&mp4.Hdlr{HandlerType: [4]byte{'m', 'd', 't', 'a'}})
		endBox()

		startBox(mp4.BoxTypeKeys())
		marshal(&mp4.Keys{
			EntryCount: 1,
			Entries: []mp4.Key{{
				KeySize:      int32(8 + len(locationKey)),
				KeyNamespace: []byte("mdta"),
				KeyValue:     []byte(locationKey),
			}},
		})
		endBox()

		startBox(mp4.BoxTypeIlst())
		startBox(mp4.BoxType{0, 0, 0, 1})
		startBox(mp4.BoxTypeData())
		payload := make([]byte, 8, 8+len(spec.AppleISO6709))
		binary.BigEndian.PutUint32(payload[0:4], mp4.DataTypeStringUTF8)
		binary.BigEndian.PutUint32(payload[4:8], 0) // locale
		payload = append(payload, spec.AppleISO6709...)
		_, err := w.Write(payload)
		must(err)
		endBox() // data
		endBox() // numbered item
		endBox() // ilst

		endBox() // meta
	}

	if spec.XYZ != "" || spec.HasLoci {
		startBox(mp4.BoxTypeUdta())

		if spec.XYZ != "" {
			startBox(mp4.BoxType{0xA9, 'x', 'y', 'z'})
			payload := make([]byte, 4, 4+len(spec.XYZ))
			binary.BigEndian.PutUint16(payload[0:2], uint16(len(spec.XYZ)))
			binary.BigEndian.PutUint16(payload[2:4], 0x15C7) // language "eng"
			payload = append(payload, spec.XYZ...)
			_, err := w.Write(payload)
			must(err)
			endBox()
		}

		if spec.HasLoci {
			startBox(mp4.StrToBoxType("loci"))
			payload := make([]byte, 0, 32)
			payload = append(payload, 0, 0, 0, 0)    // version + flags
			payload = append(payload, 0x15, 0xC7)    // language
			payload = append(payload, 0)             // empty place name
			payload = append(payload, 0)             // role
			payload = binary.BigEndian.AppendUint32( //nolint:gosec
				payload, uint32(int32(spec.LociLon*65536)))
			payload = binary.BigEndian.AppendUint32( //nolint:gosec
				payload, uint32(int32(spec.LociLat*65536)))
			payload = binary.BigEndian.AppendUint32(payload, 0) // altitude
			_, err := w.Write(payload)
			must(err)
			endBox()
		}

		endBox() // udta
	}

	endBox() // moov

	if err := file.Close(); err != nil {
		t.Fatalf("closing mp4 fixture file: %v", err)
	}
}

// BuildVideo returns the bytes of an MP4 matching spec.
func BuildVideo(t *testing.T, spec VideoSpec) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.mp4")
	WriteVideoFile(t, path, spec)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading mp4 fixture back: %v", err)
	}
	return data
}

// BuildJPEG returns the bytes of a small solid-color JPEG with no EXIF.
func BuildJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255}) //nolint:gosec
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

// WriteJPEGFile builds a JPEG and writes it to path.
func WriteJPEGFile(t *testing.T, path string, width, height int) {
	t.Helper()
	if err := os.WriteFile(path, BuildJPEG(t, width, height), 0600); err != nil {
		t.Fatalf("writing jpeg fixture: %v", err)
	}
}
