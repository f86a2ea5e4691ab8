// Package metadata turns band-image files into validated Records. Untyped
// tag maps stay inside this package.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Record is the fixed-shape metadata of one band image.
type Record struct {
	Path             string
	CaptureID        string
	BandIndex        int
	BandName         string
	CenterWavelength float64 // nm
	Timestamp        time.Time
	Latitude         float64
	Longitude        float64
	Altitude         float64
	Yaw              float64 // DLS pose, radians
	Pitch            float64
	Roll             float64
	Irradiance       *float64 // absent on uncalibrated images
	Calibrated       bool
}

// Validate checks the record is usable by the grouping and render core.
// An empty CaptureID is not an extraction failure; the grouper rejects it.
func (r Record) Validate() error {
	if r.Path == "" {
		return errors.New("empty path")
	}
	for name, v := range map[string]float64{
		"center wavelength": r.CenterWavelength,
		"latitude":          r.Latitude,
		"longitude":         r.Longitude,
		"altitude":          r.Altitude,
		"yaw":               r.Yaw,
		"pitch":             r.Pitch,
		"roll":              r.Roll,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not finite", name)
		}
	}
	if r.BandIndex < 0 {
		return fmt.Errorf("negative band index %d", r.BandIndex)
	}
	if r.Irradiance != nil {
		if v := *r.Irradiance; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid irradiance %v", v)
		}
	}
	return nil
}

// ExtractionError records a file whose metadata could not be read.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor reads the metadata of a single file.
type Extractor interface {
	Extract(ctx context.Context, path string) (Record, error)
}

// Session is an Extractor holding a resource that must be released.
type Session interface {
	Extractor
	Close() error
}

// Opener acquires a Session for the duration of one discovery call.
type Opener func(ctx context.Context) (Session, error)

// PerCall adapts a stateless Extractor to an Opener whose sessions own nothing.
func PerCall(ex Extractor) Opener {
	return func(ctx context.Context) (Session, error) {
		return nopSession{ex}, nil
	}
}

type nopSession struct{ Extractor }

func (nopSession) Close() error { return nil }
