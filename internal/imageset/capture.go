package imageset

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Capture is the set of band images taken at one shutter event. Images are
// kept in band order: BandIndex, then CenterWavelength, then Path.
type Capture struct {
	id     string
	images []*Image
}

// NewCapture validates that images share one identifier and no band index
// repeats, and orders them by band.
func NewCapture(images []*Image) (*Capture, error) {
	if len(images) == 0 {
		return nil, &IntegrityError{Reason: "capture has no images"}
	}
	id := images[0].CaptureID()
	if id == "" {
		return nil, &IntegrityError{Reason: fmt.Sprintf("%s has no capture identifier", images[0].Path())}
	}
	ordered := make([]*Image, len(images))
	copy(ordered, images)
	for _, im := range ordered {
		if im.CaptureID() != id {
			return nil, &IntegrityError{CaptureID: id, Reason: fmt.Sprintf("%s belongs to capture %s", im.Path(), im.CaptureID())}
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.BandIndex() != b.BandIndex() {
			return a.BandIndex() < b.BandIndex()
		}
		if a.CenterWavelength() != b.CenterWavelength() {
			return a.CenterWavelength() < b.CenterWavelength()
		}
		return a.Path() < b.Path()
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].BandIndex() == ordered[i-1].BandIndex() {
			return nil, &IntegrityError{
				CaptureID: id,
				Reason:    fmt.Sprintf("band %d appears in both %s and %s", ordered[i].BandIndex(), ordered[i-1].Path(), ordered[i].Path()),
			}
		}
	}
	return &Capture{id: id, images: ordered}, nil
}

// ID is the identifier shared by every image.
func (c *Capture) ID() string { return c.id }

// BandCount is the number of images.
func (c *Capture) BandCount() int { return len(c.images) }

// Images returns the images in band order.
func (c *Capture) Images() []*Image {
	out := make([]*Image, len(c.images))
	copy(out, c.images)
	return out
}

// Timestamp, Location and Pose come from the first image in band order.
func (c *Capture) Timestamp() time.Time { return c.images[0].Timestamp() }

func (c *Capture) Location() (lat, lon, alt float64) { return c.images[0].Location() }

func (c *Capture) Pose() (yaw, pitch, roll float64) { return c.images[0].Pose() }

// Irradiance returns one value per band; NaN where a band has none.
func (c *Capture) Irradiance() []float64 {
	out := make([]float64, len(c.images))
	for i, im := range c.images {
		if v, ok := im.Irradiance(); ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func (c *Capture) CenterWavelengths() []float64 {
	out := make([]float64, len(c.images))
	for i, im := range c.images {
		out[i] = im.CenterWavelength()
	}
	return out
}

func (c *Capture) BandNames() []string {
	out := make([]string, len(c.images))
	for i, im := range c.images {
		out[i] = im.BandName()
	}
	return out
}

// Paths returns a fresh slice of band file paths in band order.
func (c *Capture) Paths() []string {
	out := make([]string, len(c.images))
	for i, im := range c.images {
		out[i] = im.Path()
	}
	return out
}

// Calibrated reports whether every band carries radiometric calibration.
func (c *Capture) Calibrated() bool {
	for _, im := range c.images {
		if !im.Calibrated() {
			return false
		}
	}
	return true
}
