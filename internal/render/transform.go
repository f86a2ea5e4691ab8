package render

import (
	"fmt"
	"math"
	"os"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Transform is a row-major 3x3 homography mapping stack (output) pixel
// coordinates to band (source) pixel coordinates.
type Transform [9]float64

// Identity leaves a band where it is.
func Identity() Transform {
	return Transform{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// IsAffine reports whether the projective row is [0 0 1].
func (t Transform) IsAffine() bool {
	return t[6] == 0 && t[7] == 0 && t[8] == 1
}

// Apply maps (x, y) through t.
func (t Transform) Apply(x, y float64) (float64, float64) {
	w := t[6]*x + t[7]*y + t[8]
	return (t[0]*x + t[1]*y + t[2]) / w, (t[3]*x + t[4]*y + t[5]) / w
}

// Inverse returns the inverse homography, normalized so its last element is 1.
func (t Transform) Inverse() (Transform, error) {
	m := mat.NewDense(3, 3, append([]float64(nil), t[:]...))
	if d := mat.Det(m); d == 0 || math.IsNaN(d) {
		return Transform{}, fmt.Errorf("transform is singular")
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Transform{}, fmt.Errorf("invert transform: %w", err)
	}
	var out Transform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	if out[8] != 0 {
		s := out[8]
		for i := range out {
			out[i] /= s
		}
	}
	return out, nil
}

// Aff3 returns the affine part in x/image/draw form.
func (t Transform) Aff3() f64.Aff3 {
	return f64.Aff3{t[0], t[1], t[2], t[3], t[4], t[5]}
}

/* Example transforms file, one 3x3 matrix per band in band order:

transforms:
  - [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
  - [[1.001, 0.002, -4.1], [-0.002, 1.001, 7.3], [0, 0, 1]]
*/

type transformsFile struct {
	Transforms [][][]float64 `yaml:"transforms"`
}

// LoadTransforms reads per-band transforms from a YAML file.
func LoadTransforms(path string) ([]Transform, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transforms %s: %w", path, err)
	}
	return ParseTransforms(contents)
}

// ParseTransforms decodes the YAML transforms document.
func ParseTransforms(contents []byte) ([]Transform, error) {
	var doc transformsFile
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("parse transforms: %w", err)
	}
	out := make([]Transform, 0, len(doc.Transforms))
	for i, rows := range doc.Transforms {
		if len(rows) != 3 {
			return nil, fmt.Errorf("transform %d: want 3 rows, got %d", i, len(rows))
		}
		var t Transform
		for r, row := range rows {
			if len(row) != 3 {
				return nil, fmt.Errorf("transform %d row %d: want 3 columns, got %d", i, r, len(row))
			}
			copy(t[r*3:], row)
		}
		if _, err := t.Inverse(); err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
