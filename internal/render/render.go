// Package render turns one capture's band files into a stacked multi-band
// file and an optional thumbnail.
package render

import (
	"context"
	"path/filepath"
)

// Request describes one capture to stack. Files, Transforms and Irradiance
// are index-aligned by band.
type Request struct {
	CaptureID    string
	Files        []string
	Wavelengths  []float64 // optional, used to pick thumbnail bands
	Transforms   []Transform
	Irradiance   []float64 // optional radiometric normalization, one per band
	OutputDir    string
	ThumbnailDir string // empty disables the thumbnail
	Overwrite    bool
}

// Output lists the files a render produced.
type Output struct {
	StackPath     string
	ThumbnailPath string
}

// Renderer produces the stack for one capture.
type Renderer interface {
	Render(ctx context.Context, req Request) (Output, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req Request) (Output, error)

func (f RendererFunc) Render(ctx context.Context, req Request) (Output, error) {
	return f(ctx, req)
}

// StackPath is where the stack for captureID lives under dir.
func StackPath(dir, captureID string) string {
	return filepath.Join(dir, safeName(captureID)+".tif")
}

// ThumbnailPath is where the thumbnail for captureID lives under dir.
func ThumbnailPath(dir, captureID string) string {
	return filepath.Join(dir, safeName(captureID)+".jpg")
}

// Capture identifiers may be derived from relative paths; keep the output flat.
func safeName(id string) string {
	out := []byte(id)
	for i, c := range out {
		switch c {
		case '/', '\\', ':':
			out[i] = '_'
		}
	}
	return string(out)
}
