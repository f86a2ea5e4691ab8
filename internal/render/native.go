package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"bandstack/internal/fsutil"
)

// StackWriter encodes warped bands into one multi-band file at path.
type StackWriter interface {
	WriteStack(path string, bands []*Plane) error
}

// Native decodes, warps and radiometrically scales bands in Go and hands
// the result to a StackWriter.
type Native struct {
	Writer         StackWriter
	ThumbnailWidth int
	Log            *slog.Logger
}

// Render implements Renderer. Outputs are written under a temporary name and
// renamed into place, so an interrupted render never leaves a file at
// StackPath.
func (n *Native) Render(ctx context.Context, req Request) (Output, error) {
	if n.Writer == nil {
		return Output{}, errors.New("no stack writer configured")
	}
	if err := req.validate(); err != nil {
		return Output{}, err
	}
	logger := n.Log
	if logger == nil {
		logger = slog.Default()
	}

	out := Output{StackPath: StackPath(req.OutputDir, req.CaptureID)}
	if req.ThumbnailDir != "" {
		out.ThumbnailPath = ThumbnailPath(req.ThumbnailDir, req.CaptureID)
	}
	if !req.Overwrite && fsutil.Exists(out.StackPath) {
		logger.Debug("stack exists, not overwriting", "capture", req.CaptureID, "path", out.StackPath)
		return out, nil
	}

	bands := make([]*Plane, len(req.Files))
	var w, h int
	for i, path := range req.Files {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		img, err := loadBand(path)
		if err != nil {
			return Output{}, err
		}
		if i == 0 {
			w, h = img.Bounds().Dx(), img.Bounds().Dy()
		}
		t := Identity()
		if len(req.Transforms) > 0 {
			t = req.Transforms[i]
		}
		plane, err := warp(img, t, w, h)
		if err != nil {
			return Output{}, fmt.Errorf("warp band %d: %w", i, err)
		}
		if req.Irradiance != nil {
			plane.Scale(float32(math.Pi / req.Irradiance[i]))
		}
		bands[i] = plane
	}

	tmp := out.StackPath + ".part"
	if err := n.Writer.WriteStack(tmp, bands); err != nil {
		os.Remove(tmp)
		return Output{}, fmt.Errorf("write stack: %w", err)
	}
	if err := os.Rename(tmp, out.StackPath); err != nil {
		os.Remove(tmp)
		return Output{}, err
	}

	if out.ThumbnailPath != "" {
		if err := writeThumbnail(out.ThumbnailPath, bands, req.Wavelengths, n.ThumbnailWidth); err != nil {
			return out, fmt.Errorf("write thumbnail: %w", err)
		}
	}
	logger.Debug("stack written", "capture", req.CaptureID, "bands", len(bands), "path", out.StackPath)
	return out, nil
}

func (req Request) validate() error {
	if req.CaptureID == "" {
		return errors.New("empty capture id")
	}
	if len(req.Files) == 0 {
		return fmt.Errorf("capture %s: no band files", req.CaptureID)
	}
	if req.OutputDir == "" {
		return fmt.Errorf("capture %s: no output directory", req.CaptureID)
	}
	if len(req.Transforms) > 0 && len(req.Transforms) != len(req.Files) {
		return fmt.Errorf("capture %s: %d transforms for %d bands", req.CaptureID, len(req.Transforms), len(req.Files))
	}
	if req.Irradiance != nil {
		if len(req.Irradiance) != len(req.Files) {
			return fmt.Errorf("capture %s: %d irradiance values for %d bands", req.CaptureID, len(req.Irradiance), len(req.Files))
		}
		for i, e := range req.Irradiance {
			if !(e > 0) || math.IsInf(e, 0) {
				return fmt.Errorf("capture %s: irradiance %d is %v", req.CaptureID, i, e)
			}
		}
	}
	return nil
}
