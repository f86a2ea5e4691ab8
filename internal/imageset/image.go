package imageset

import (
	"time"

	"bandstack/internal/metadata"
)

// Image is one band file and its validated metadata.
type Image struct {
	rec metadata.Record
}

// NewImage validates rec and wraps it.
func NewImage(rec metadata.Record) (*Image, error) {
	if err := rec.Validate(); err != nil {
		return nil, &metadata.ExtractionError{Path: rec.Path, Err: err}
	}
	return &Image{rec: rec}, nil
}

func (im *Image) Path() string { return im.rec.Path }
func (im *Image) CaptureID() string { return im.rec.CaptureID }
func (im *Image) BandIndex() int { return im.rec.BandIndex }
func (im *Image) BandName() string { return im.rec.BandName }
func (im *Image) CenterWavelength() float64 { return im.rec.CenterWavelength }
func (im *Image) Timestamp() time.Time { return im.rec.Timestamp }
func (im *Image) Calibrated() bool { return im.rec.Calibrated }
func (im *Image) Record() metadata.Record { return im.rec }

// Location is latitude, longitude (degrees) and altitude (m).
func (im *Image) Location() (lat, lon, alt float64) {
	return im.rec.Latitude, im.rec.Longitude, im.rec.Altitude
}

// Pose is the DLS sensor orientation in radians.
func (im *Image) Pose() (yaw, pitch, roll float64) {
	return im.rec.Yaw, im.rec.Pitch, im.rec.Roll
}

// Irradiance returns the band irradiance and whether it was recorded.
func (im *Image) Irradiance() (float64, bool) {
	if im.rec.Irradiance == nil {
		return 0, false
	}
	return *im.rec.Irradiance, true
}
