package render

import (
	"image"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/draw"
)

// Red, green and blue targets in nm.
var rgbTargets = [3]float64{668, 560, 475}

func writeThumbnail(path string, bands []*Plane, wavelengths []float64, width int) error {
	r, g, b := pickRGB(bands, wavelengths)
	w, h := bands[0].Width, bands[0].Height

	var peak float32
	for _, p := range []*Plane{r, g, b} {
		for _, v := range p.Pix {
			if v > peak {
				peak = v
			}
		}
	}
	if peak <= 0 {
		peak = 1
	}

	full := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		full.Pix[4*i+0] = to8(r.Pix[i] / peak)
		full.Pix[4*i+1] = to8(g.Pix[i] / peak)
		full.Pix[4*i+2] = to8(b.Pix[i] / peak)
		full.Pix[4*i+3] = 0xff
	}

	if width <= 0 || width > w {
		width = w
	}
	th := int(math.Round(float64(h) * float64(width) / float64(w)))
	if th < 1 {
		th = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), full, full.Bounds(), draw.Src, nil)

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// pickRGB chooses the bands closest to visible red, green and blue. Without
// wavelengths the rig's blue, green, red ordering of the first three bands is
// assumed; fewer than three bands gives a grayscale thumbnail.
func pickRGB(bands []*Plane, wavelengths []float64) (r, g, b *Plane) {
	if len(bands) < 3 {
		return bands[0], bands[0], bands[0]
	}
	if len(wavelengths) != len(bands) {
		return bands[2], bands[1], bands[0]
	}
	var idx [3]int
	for c, target := range rgbTargets {
		best := math.Inf(1)
		for i, wl := range wavelengths {
			if d := math.Abs(wl - target); d < best {
				best, idx[c] = d, i
			}
		}
	}
	return bands[idx[0]], bands[idx[1]], bands[idx[2]]
}

func to8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	default:
		return uint8(v*0xff + 0.5)
	}
}
