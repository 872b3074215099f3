package extractor

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

// ExtractExif decodes EXIF metadata from r. A file without EXIF data is
// not an error; the result is nil. For RAW photos callers pass the
// original RAW bytes, which carry a standard TIFF/EXIF header.
func ExtractExif(r io.Reader, photoID string) (*domain.Exif, error) {
	x, err := exif.Decode(r)
	if err != nil {
		if exif.IsCriticalError(err) {
			return nil, nil
		}
	}
	if x == nil {
		return nil, nil
	}

	meta := &domain.Exif{PhotoID: photoID}

	meta.CameraMake = tagString(x, exif.Make)
	meta.CameraModel = tagString(x, exif.Model)
	meta.LensMake = tagString(x, exif.LensMake)
	meta.LensModel = tagString(x, exif.LensModel)
	meta.DateTaken = tagString(x, exif.DateTimeOriginal)

	if iso, ok := tagInt(x, exif.ISOSpeedRatings); ok {
		meta.ISO = &iso
	}
	if o, ok := tagInt(x, exif.Orientation); ok {
		meta.Orientation = &o
	}

	if num, den, ok := tagRat(x, exif.FocalLength); ok && den != 0 {
		s := formatFocalLength(num, den)
		meta.FocalLength = &s
	}
	if num, den, ok := tagRat(x, exif.FNumber); ok && den != 0 {
		s := formatAperture(num, den)
		meta.Aperture = &s
	}
	if num, den, ok := tagRat(x, exif.ExposureTime); ok && num != 0 && den != 0 {
		s := formatShutterSpeed(num, den)
		meta.ShutterSpeed = &s
	}
	if num, den, ok := tagSignedRat(x, exif.ExposureBiasValue); ok && den != 0 {
		s := formatExposureBias(num, den)
		meta.ExposureBias = &s
	}

	if lat, long, err := x.LatLong(); err == nil {
		latStr := formatGPSCoord(lat)
		longStr := formatGPSCoord(long)
		meta.GPSLatitude = &latStr
		meta.GPSLongitude = &longStr
	}
	if alt, ok := gpsAltitude(x); ok {
		altStr := formatGPSAltitude(alt)
		meta.GPSAltitude = &altStr
	}

	if isEmptyExif(meta) {
		return nil, nil
	}
	return meta, nil
}

func tagString(x *exif.Exif, field exif.FieldName) *string {
	tag, err := x.Get(field)
	if err != nil {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if s == "" {
		return nil
	}
	return &s
}

func tagInt(x *exif.Exif, field exif.FieldName) (int, bool) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, false
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return v, true
}

func tagRat(x *exif.Exif, field exif.FieldName) (int64, int64, bool) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return 0, 0, false
	}
	return num, den, true
}

// tagSignedRat reads a rational field that may legitimately be negative
// (exposure bias). goexif returns the raw numerator, so the sign comes
// through unchanged.
func tagSignedRat(x *exif.Exif, field exif.FieldName) (int64, int64, bool) {
	return tagRat(x, field)
}

func gpsAltitude(x *exif.Exif) (float64, bool) {
	num, den, ok := tagRat(x, exif.GPSAltitude)
	if !ok || den == 0 {
		return 0, false
	}
	alt := float64(num) / float64(den)
	if ref, ok := tagInt(x, exif.GPSAltitudeRef); ok && ref == 1 {
		alt = -alt
	}
	return alt, true
}

// formatGPSCoord renders a coordinate as a decimal string with six
// places, roughly 0.1m of precision.
func formatGPSCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// formatGPSAltitude renders altitude in metres with one decimal place,
// negative below sea level.
func formatGPSAltitude(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// formatFocalLength renders "50mm" style values, keeping one decimal
// for non-integer lengths.
func formatFocalLength(num, den int64) string {
	mm := float64(num) / float64(den)
	if mm == math.Trunc(mm) {
		return fmt.Sprintf("%.0fmm", mm)
	}
	return fmt.Sprintf("%.1fmm", mm)
}

// formatAperture renders "f/2.8" style values.
func formatAperture(num, den int64) string {
	f := float64(num) / float64(den)
	if f == math.Trunc(f) {
		return fmt.Sprintf("f/%.0f", f)
	}
	return fmt.Sprintf("f/%.1f", f)
}

// formatShutterSpeed renders sub-second exposures as "1/250" and longer
// ones in seconds.
func formatShutterSpeed(num, den int64) string {
	if num < den {
		return fmt.Sprintf("1/%d", int64(math.Round(float64(den)/float64(num))))
	}
	secs := float64(num) / float64(den)
	if secs == math.Trunc(secs) {
		return fmt.Sprintf("%.0fs", secs)
	}
	return fmt.Sprintf("%.1fs", secs)
}

// formatExposureBias renders "+0.3 EV" style values with an explicit
// sign for non-zero bias.
func formatExposureBias(num, den int64) string {
	ev := float64(num) / float64(den)
	if ev == 0 {
		return "0 EV"
	}
	return fmt.Sprintf("%+.1f EV", ev)
}

func isEmptyExif(meta *domain.Exif) bool {
	return meta.CameraMake == nil && meta.CameraModel == nil &&
		meta.LensMake == nil && meta.LensModel == nil &&
		meta.FocalLength == nil && meta.ISO == nil &&
		meta.Aperture == nil && meta.ShutterSpeed == nil &&
		meta.ExposureBias == nil && meta.DateTaken == nil &&
		meta.GPSLatitude == nil && meta.Orientation == nil
}
