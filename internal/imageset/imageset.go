// Package imageset groups band images into captures and drives table export
// and stack production over them.
package imageset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bandstack/internal/fsutil"
	"bandstack/internal/metadata"
	"bandstack/internal/metrics"
	"bandstack/internal/progress"
)

// ErrUncalibrated rejects an image without radiometric calibration when
// uncalibrated input is not allowed.
var ErrUncalibrated = errors.New("image has no radiometric calibration")

// ImageSet is an ordered collection of captures, sorted by timestamp and then
// identifier.
type ImageSet struct {
	captures []*Capture
	errs     []error
}

// New builds a set from already-grouped captures. Duplicate identifiers are
// rejected with *IntegrityError.
func New(captures []*Capture) (*ImageSet, error) {
	seen := make(map[string]bool, len(captures))
	out := make([]*Capture, 0, len(captures))
	for _, c := range captures {
		if c == nil {
			return nil, &IntegrityError{Reason: "nil capture"}
		}
		if seen[c.ID()] {
			return nil, &IntegrityError{CaptureID: c.ID(), Reason: "duplicate capture identifier"}
		}
		seen[c.ID()] = true
		out = append(out, c)
	}
	sortCaptures(out)
	return &ImageSet{captures: out}, nil
}

func sortCaptures(cs []*Capture) {
	sort.SliceStable(cs, func(i, j int) bool {
		ti, tj := cs[i].Timestamp(), cs[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return cs[i].ID() < cs[j].ID()
	})
}

// Len is the number of captures.
func (s *ImageSet) Len() int { return len(s.captures) }

// Captures returns the captures in set order.
func (s *ImageSet) Captures() []*Capture {
	out := make([]*Capture, len(s.captures))
	copy(out, s.captures)
	return out
}

// Capture looks a capture up by identifier.
func (s *ImageSet) Capture(id string) (*Capture, bool) {
	for _, c := range s.captures {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Errors lists the file-level errors recorded while the set was discovered:
// *metadata.ExtractionError, *GroupingError and *IntegrityError.
func (s *ImageSet) Errors() []error {
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

// IrradianceSeries maps each capture's RFC 3339 timestamp to its per-band
// irradiance (NaN where absent). Captures sharing a timestamp keep the last
// one in set order.
func (s *ImageSet) IrradianceSeries() map[string][]float64 {
	out := make(map[string][]float64, len(s.captures))
	for _, c := range s.captures {
		out[c.Timestamp().UTC().Format(time.RFC3339Nano)] = c.Irradiance()
	}
	return out
}

// DiscoverOptions configures FromDirectory.
type DiscoverOptions struct {
	Extensions        []string        // default .tif
	Opener            metadata.Opener // required
	Workers           int             // concurrent sessions, default 1
	AllowUncalibrated bool
	Progress          progress.Func
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// FromDirectory discovers band files under dir, extracts their metadata
// through sessions acquired from opts.Opener and groups them. Files that fail
// extraction or grouping are recorded in Errors and left out; only a walk
// failure, a session that cannot be opened or cancellation is returned as an
// error.
func FromDirectory(ctx context.Context, dir string, opts DiscoverOptions) (*ImageSet, error) {
	if opts.Opener == nil {
		return nil, errors.New("no metadata extractor configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = fsutil.DefaultExtensions
	}

	files, err := fsutil.ListImages(dir, exts...)
	if err != nil {
		return nil, &IOError{Op: "walk", Path: dir, Err: err}
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}
	logger.Info("discovered band files", "dir", dir, "files", len(files), "sessions", workers)

	rep := progress.NewReporter(opts.Progress, len(files))
	rep.Start()
	defer rep.Close()

	sessions, err := openSessions(ctx, opts.Opener, workers, logger)
	if err != nil {
		return nil, err
	}
	defer closeSessions(sessions, logger)

	images := make([]*Image, len(files))
	fileErrs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	next := make(chan int)
	g.Go(func() error {
		defer close(next)
		for i := range files {
			select {
			case next <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			for i := range next {
				im, err := extractOne(gctx, sess, files[i], opts.AllowUncalibrated)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				images[i], fileErrs[i] = im, err
				switch {
				case err == nil:
					opts.Metrics.ObserveFile("extracted")
				case errors.Is(err, ErrUncalibrated):
					opts.Metrics.ObserveFile("rejected")
				default:
					opts.Metrics.ObserveFile("failed")
				}
				rep.Step()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		found []*Image
		errs  []error
	)
	for i := range files {
		if fileErrs[i] != nil {
			logger.Warn("skipping file", "path", files[i], "error", fileErrs[i])
			errs = append(errs, fileErrs[i])
			continue
		}
		found = append(found, images[i])
	}

	captures, groupErrs := Group(found)
	for _, err := range groupErrs {
		logger.Warn("grouping problem", "error", err)
	}
	errs = append(errs, groupErrs...)
	sortCaptures(captures)
	opts.Metrics.AddCaptures(len(captures))

	logger.Info("image set ready", "dir", dir, "captures", len(captures), "errors", len(errs))
	return &ImageSet{captures: captures, errs: errs}, nil
}

func extractOne(ctx context.Context, sess metadata.Session, path string, allowUncalibrated bool) (*Image, error) {
	rec, err := sess.Extract(ctx, path)
	if err != nil {
		var xe *metadata.ExtractionError
		if errors.As(err, &xe) {
			return nil, err
		}
		return nil, &metadata.ExtractionError{Path: path, Err: err}
	}
	if rec.Path == "" {
		rec.Path = path
	}
	if !rec.Calibrated && !allowUncalibrated {
		return nil, &metadata.ExtractionError{Path: path, Err: ErrUncalibrated}
	}
	return NewImage(rec)
}

func openSessions(ctx context.Context, open metadata.Opener, n int, logger *slog.Logger) ([]metadata.Session, error) {
	sessions := make([]metadata.Session, 0, n)
	for i := 0; i < n; i++ {
		sess, err := open(ctx)
		if err != nil {
			closeSessions(sessions, logger)
			return nil, fmt.Errorf("open metadata session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func closeSessions(sessions []metadata.Session, logger *slog.Logger) {
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			logger.Warn("closing metadata session", "error", err)
		}
	}
}
