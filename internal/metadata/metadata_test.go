package metadata

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromExifToolMapsRigTags(t *testing.T) {
	m := map[string]any{
		"XMP:CaptureId":              "Qf3Z0aV7",
		"XMP:BandName":               "Red",
		"XMP:RigCameraIndex":         float64(2),
		"XMP:CentralWavelength":      float64(668),
		"EXIF:DateTimeOriginal":      "2017:10:13 18:22:48",
		"EXIF:SubSecTimeOriginal":    "5",
		"Composite:GPSLatitude":      47.6,
		"EXIF:GPSLongitude":          122.3,
		"EXIF:GPSLongitudeRef":       "W",
		"Composite:GPSAltitude":      101.5,
		"XMP:IrradianceYaw":          0.1,
		"XMP:IrradiancePitch":        0.2,
		"XMP:IrradianceRoll":         0.3,
		"XMP:Irradiance":             1.25,
		"XMP:RadiometricCalibration": []any{0.1, 0.2, 0.3},
	}
	rec, err := FromExifTool("/data/IMG_0001_3.tif", m)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if rec.CaptureID != "Qf3Z0aV7" || rec.BandIndex != 2 || rec.BandName != "Red" || rec.CenterWavelength != 668 {
		t.Fatalf("band fields wrong: %+v", rec)
	}
	want := time.Date(2017, 10, 13, 18, 22, 48, 500_000_000, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want %v", rec.Timestamp, want)
	}
	if rec.Latitude != 47.6 || rec.Longitude != -122.3 || rec.Altitude != 101.5 {
		t.Fatalf("location wrong: %v %v %v", rec.Latitude, rec.Longitude, rec.Altitude)
	}
	if rec.Yaw != 0.1 || rec.Pitch != 0.2 || rec.Roll != 0.3 {
		t.Fatalf("pose wrong: %+v", rec)
	}
	if rec.Irradiance == nil || *rec.Irradiance != 1.25 || !rec.Calibrated {
		t.Fatalf("irradiance/calibration wrong: %+v", rec)
	}
}

func TestFromExifToolOptionalFieldsAbsent(t *testing.T) {
	rec, err := FromExifTool("a.tif", map[string]any{"XMP:CaptureId": "x"})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if rec.Irradiance != nil || rec.Calibrated {
		t.Fatalf("expected uncalibrated record without irradiance: %+v", rec)
	}
}

func TestFromExifToolBadTimestamp(t *testing.T) {
	if _, err := FromExifTool("a.tif", map[string]any{"EXIF:DateTimeOriginal": "yesterday"}); err == nil {
		t.Fatalf("expected timestamp error")
	}
}

func TestValidate(t *testing.T) {
	neg := -1.0
	cases := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"ok", Record{Path: "a.tif"}, true},
		{"no path", Record{}, false},
		{"nan wavelength", Record{Path: "a", CenterWavelength: math.NaN()}, false},
		{"negative irradiance", Record{Path: "a", Irradiance: &neg}, false},
		{"negative band", Record{Path: "a", BandIndex: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, ok=%v", err, tc.ok)
			}
		})
	}
}

func TestCaptureFromFilename(t *testing.T) {
	id, band, ok := CaptureFromFilename("", filepath.Join("set", "000", "IMG_0042_3.tif"))
	if !ok || id != "set/000/IMG_0042" || band != 3 {
		t.Fatalf("got %q %d %v", id, band, ok)
	}
	if _, _, ok := CaptureFromFilename("", "panel.tif"); ok {
		t.Fatalf("expected no match for panel.tif")
	}
}

func TestCaptureFromFilenameIsRelativeToRoot(t *testing.T) {
	for _, mount := range []string{"/mnt/a", "/media/usb/flights"} {
		root := filepath.Join(mount, "survey")
		id, _, ok := CaptureFromFilename(root, filepath.Join(root, "000", "IMG_0042_3.tif"))
		if !ok || id != "000/IMG_0042" {
			t.Fatalf("mount %s: got %q", mount, id)
		}
		id, _, _ = CaptureFromFilename(root, filepath.Join(root, "IMG_0007_1.tif"))
		if id != "IMG_0007" {
			t.Fatalf("mount %s: file at root gave %q", mount, id)
		}
	}
	id, _, _ := CaptureFromFilename("/data/survey", "/other/IMG_0001_1.tif")
	if id != "/other/IMG_0001" {
		t.Fatalf("path outside root gave %q", id)
	}
}

func TestExifExtractorRejectsNonExif(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IMG_0001_1.tif")
	if err := os.WriteFile(path, []byte("not a tiff"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ExifExtractor{}.Extract(context.Background(), path)
	var xerr *ExtractionError
	if !errors.As(err, &xerr) || xerr.Path != path {
		t.Fatalf("expected ExtractionError for %s, got %v", path, err)
	}
}

func TestPerCallSessionClose(t *testing.T) {
	open := PerCall(ExifExtractor{})
	s, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

const fakeExifTool = `#!/bin/sh
last=""
while IFS= read -r line; do
  case "$line" in
    -execute)
      if [ -f "$last.json" ]; then cat "$last.json"; fi
      echo "{ready}"
      ;;
    False) exit 0 ;;
    *) last="$line" ;;
  esac
done
`

func TestExifToolSessionReusesProcess(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "exiftool")
	if err := os.WriteFile(bin, []byte(fakeExifTool), 0o755); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "IMG_0001_1.tif")
	if err := os.WriteFile(good+".json", []byte(`[{"XMP:CaptureId":"cap-1","XMP:RigCameraIndex":1,"XMP:CentralWavelength":475}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	et, err := StartExifTool(context.Background(), bin, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := et.cmd.Process.Pid

	rec, err := et.Extract(context.Background(), good)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.CaptureID != "cap-1" || rec.CenterWavelength != 475 {
		t.Fatalf("unexpected record %+v", rec)
	}

	_, err = et.Extract(context.Background(), filepath.Join(dir, "corrupt.tif"))
	var xerr *ExtractionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if et.cmd.Process.Pid != pid {
		t.Fatalf("session restarted")
	}
	if err := et.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
