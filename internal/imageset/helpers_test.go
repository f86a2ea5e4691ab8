package imageset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"bandstack/internal/metadata"
	"bandstack/internal/render"
)

var testWavelengths = []float64{475, 560, 668, 717, 842}

var baseTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dir     string
	files   []string
	records map[string]metadata.Record
}

// newFixture writes bands small 16-bit TIFFs per capture prefix, named
// <prefix>_<band>.tif, with matching metadata records.
func newFixture(t *testing.T, prefixes []string, bands int) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir(), records: map[string]metadata.Record{}}
	for ci, prefix := range prefixes {
		for b := 1; b <= bands; b++ {
			path := filepath.Join(f.dir, fmt.Sprintf("%s_%d.tif", prefix, b))
			writeGray(t, path, 8, 6, ci*13+b*7)
			id, band, ok := metadata.CaptureFromFilename(f.dir, path)
			if !ok {
				t.Fatalf("bad fixture name %s", path)
			}
			irr := 1.0 + float64(b)/10
			f.records[path] = metadata.Record{
				Path:             path,
				CaptureID:        id,
				BandIndex:        band,
				BandName:         fmt.Sprintf("band%d", band),
				CenterWavelength: testWavelengths[(band-1)%len(testWavelengths)],
				Timestamp:        baseTime.Add(time.Duration(ci) * time.Second),
				Latitude:         47.6,
				Longitude:        -122.3,
				Altitude:         100 + float64(ci),
				Yaw:              0.1,
				Pitch:            0.2,
				Roll:             0.3,
				Irradiance:       &irr,
				Calibrated:       true,
			}
			f.files = append(f.files, path)
		}
	}
	return f
}

func writeGray(t *testing.T, path string, w, h, seed int) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16((x + 2*y + seed) * 100)})
		}
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := tiff.Encode(out, img, nil); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// captureID is the identifier the fixture gives prefix.
func (f *fixture) captureID(prefix string) string {
	return prefix
}

type sessionStats struct {
	opened   int32
	closed   int32
	closeErr error
}

type stubSession struct {
	f     *fixture
	fail  map[string]bool
	stats *sessionStats
}

func (s *stubSession) Extract(ctx context.Context, path string) (metadata.Record, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Record{}, err
	}
	if s.fail[filepath.Base(path)] {
		return metadata.Record{}, errors.New("corrupt file")
	}
	rec, ok := s.f.records[path]
	if !ok {
		return metadata.Record{}, fmt.Errorf("unknown file %s", path)
	}
	return rec, nil
}

func (s *stubSession) Close() error {
	atomic.AddInt32(&s.stats.closed, 1)
	return s.stats.closeErr
}

func (f *fixture) opener(stats *sessionStats, fail ...string) metadata.Opener {
	failing := map[string]bool{}
	for _, name := range fail {
		failing[name] = true
	}
	return func(ctx context.Context) (metadata.Session, error) {
		atomic.AddInt32(&stats.opened, 1)
		return &stubSession{f: f, fail: failing, stats: stats}, nil
	}
}

// stubRenderer writes a small deterministic file per capture and counts calls.
type stubRenderer struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (r *stubRenderer) Render(ctx context.Context, req render.Request) (render.Output, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.fail[req.CaptureID] {
		return render.Output{}, errors.New("render exploded")
	}
	path := render.StackPath(req.OutputDir, req.CaptureID)
	if err := os.WriteFile(path, []byte(req.CaptureID), 0o644); err != nil {
		return render.Output{}, err
	}
	return render.Output{StackPath: path}, nil
}

func (r *stubRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// rawWriter dumps plane samples, standing in for the TIFF encoder.
type rawWriter struct{}

func (rawWriter) WriteStack(path string, bands []*render.Plane) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, b := range bands {
		if err := binary.Write(f, binary.LittleEndian, b.Pix); err != nil {
			return err
		}
	}
	return nil
}

func discover(t *testing.T, f *fixture, opts DiscoverOptions) *ImageSet {
	t.Helper()
	set, err := FromDirectory(context.Background(), f.dir, opts)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return set
}
