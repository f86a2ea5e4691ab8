package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// Band files are usually named <prefix>_<band>.tif, e.g. IMG_0042_3.tif.
var bandFileRe = regexp.MustCompile(`^(.+)_(\d+)$`)

// ExifExtractor reads plain EXIF tags in-process. It has no access to the
// rig's XMP block, so the capture identifier and band index come from the
// file name and images are reported uncalibrated. Root is the discovery
// root that capture identifiers are made relative to.
type ExifExtractor struct {
	Root string
}

// Extract implements Extractor.
func (e ExifExtractor) Extract(ctx context.Context, path string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec := Record{Path: path}

	id, band, ok := CaptureFromFilename(e.Root, path)
	if ok {
		rec.CaptureID = id
		rec.BandIndex = band
	}

	f, err := os.Open(path)
	if err != nil {
		return rec, &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return rec, &ExtractionError{Path: path, Err: fmt.Errorf("exif parsing: %w", err)}
	}
	if ts, err := x.DateTime(); err == nil {
		rec.Timestamp = ts.UTC()
	}
	if lat, lon, err := x.LatLong(); err == nil {
		rec.Latitude, rec.Longitude = lat, lon
	}
	if tag, err := x.Get(exif.GPSAltitude); err == nil {
		if n, d, err := tag.Rat2(0); err == nil && d != 0 {
			rec.Altitude = float64(n) / float64(d)
		}
	}

	if err := rec.Validate(); err != nil {
		return rec, &ExtractionError{Path: path, Err: err}
	}
	return rec, nil
}

// CaptureFromFilename derives a capture key and band index from a
// <prefix>_<band>.<ext> name. The key keeps the directory relative to root so
// equally numbered captures in sibling folders stay distinct while the same
// tree yields the same keys wherever it is mounted. Paths outside root keep
// their directory as given.
func CaptureFromFilename(root, path string) (string, int, bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := bandFileRe.FindStringSubmatch(base)
	if m == nil {
		return "", 0, false
	}
	band, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	dir := filepath.Dir(path)
	if root != "" {
		if rel, err := filepath.Rel(root, dir); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			dir = rel
		}
	}
	return filepath.ToSlash(filepath.Join(dir, m[1])), band, true
}
