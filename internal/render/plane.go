package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Plane is one band as row-major float32 samples, normalized so the source
// sensor's full scale is 1.0 before radiometric scaling.
type Plane struct {
	Width  int
	Height int
	Pix    []float32
}

func newPlane(w, h int) *Plane {
	return &Plane{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// At returns the sample at (x, y), or 0 outside the plane.
func (p *Plane) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return 0
	}
	return p.Pix[y*p.Width+x]
}

// Scale multiplies every sample by k.
func (p *Plane) Scale(k float32) {
	for i := range p.Pix {
		p.Pix[i] *= k
	}
}

func (p *Plane) bilinear(x, y float64) float32 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := float32(x-x0), float32(y-y0)
	ix, iy := int(x0), int(y0)
	a := p.At(ix, iy)*(1-fx) + p.At(ix+1, iy)*fx
	b := p.At(ix, iy+1)*(1-fx) + p.At(ix+1, iy+1)*fx
	return a*(1-fy) + b*fy
}

func loadBand(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open band %s: %w", path, err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tiff decode %s: %w", path, err)
	}
	return img, nil
}

func toPlane(img image.Image) *Plane {
	b := img.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				p.Pix[y*p.Width+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 0xffff
			}
		}
	case *image.Gray:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				p.Pix[y*p.Width+x] = float32(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 0xff
			}
		}
	default:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				p.Pix[y*p.Width+x] = float32(g.Y) / 0xffff
			}
		}
	}
	return p
}

// warp resamples img into a w x h plane through t. Affine transforms go
// through x/image/draw; projective ones are sampled per pixel.
func warp(img image.Image, t Transform, w, h int) (*Plane, error) {
	if t == Identity() && img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return toPlane(img), nil
	}
	if t.IsAffine() {
		s2d, err := t.Inverse()
		if err != nil {
			return nil, err
		}
		dst := image.NewGray16(image.Rect(0, 0, w, h))
		draw.BiLinear.Transform(dst, s2d.Aff3(), img, img.Bounds(), draw.Src, nil)
		return toPlane(dst), nil
	}

	src := toPlane(img)
	dst := newPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := t.Apply(float64(x)+0.5, float64(y)+0.5)
			dst.Pix[y*w+x] = src.bilinear(sx-0.5, sy-0.5)
		}
	}
	return dst, nil
}
