// Package magick encodes stacks as multi-page floating-point TIFFs through
// the ImageMagick MagickWand bindings.
package magick

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"bandstack/internal/render"
)

var (
	mu          sync.Mutex
	initialized bool
)

// Initialize sets up the MagickWand environment once per process. Writers
// call it themselves; Terminate must only run after all writes are done.
func Initialize() {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		imagick.Initialize()
		initialized = true
	}
}

// Terminate releases the MagickWand environment if Initialize ran.
func Terminate() {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		imagick.Terminate()
		initialized = false
	}
}

// Version reports the linked ImageMagick version.
func Version() string {
	v, _ := imagick.GetVersion()
	return v
}

// Writer implements render.StackWriter. Each band becomes one page of the
// output TIFF in band order.
type Writer struct {
	Photometric string // MINISBLACK (default) or MINISWHITE
}

// WriteStack implements render.StackWriter.
func (w Writer) WriteStack(path string, bands []*render.Plane) error {
	if len(bands) == 0 {
		return fmt.Errorf("no bands to write")
	}
	Initialize()

	stack := imagick.NewMagickWand()
	defer stack.Destroy()

	for i, band := range bands {
		page := imagick.NewMagickWand()
		if err := page.ConstituteImage(uint(band.Width), uint(band.Height), "I", imagick.PIXEL_FLOAT, band.Pix); err != nil {
			page.Destroy()
			return fmt.Errorf("constitute band %d: %w", i, err)
		}
		if err := page.SetImageDepth(32); err != nil {
			page.Destroy()
			return fmt.Errorf("set depth band %d: %w", i, err)
		}
		if err := page.SetImageFormat("TIFF"); err != nil {
			page.Destroy()
			return fmt.Errorf("set format band %d: %w", i, err)
		}
		if err := stack.AddImage(page); err != nil {
			page.Destroy()
			return fmt.Errorf("add band %d: %w", i, err)
		}
		page.Destroy()
	}

	photometric := "min-is-black"
	if w.Photometric == "MINISWHITE" {
		photometric = "min-is-white"
	}
	for _, opt := range [][2]string{
		{"quantum:format", "floating-point"},
		{"tiff:photometric", photometric},
	} {
		if err := stack.SetOption(opt[0], opt[1]); err != nil {
			return fmt.Errorf("set option %s: %w", opt[0], err)
		}
	}
	if err := stack.SetFormat("TIFF"); err != nil {
		return fmt.Errorf("set format: %w", err)
	}
	if err := stack.WriteImages(path, true); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
