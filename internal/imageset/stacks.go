package imageset

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"bandstack/internal/fsutil"
	"bandstack/internal/logging"
	"bandstack/internal/metrics"
	"bandstack/internal/pipeline"
	"bandstack/internal/progress"
	"bandstack/internal/render"
	"bandstack/internal/storage"
)

// StackOptions configures SaveStacks. Transforms and Irradiance are shared by
// every capture and indexed by band.
type StackOptions struct {
	Transforms   []render.Transform
	Irradiance   []float64
	StackDir     string
	ThumbnailDir string // empty disables thumbnails
	Overwrite    bool
	Sequential   bool
	Workers      int // default runtime.NumCPU()
	RunID        string
	Progress     progress.Func
	Logger       *slog.Logger
	Store        *storage.Store
	Metrics      *metrics.Metrics
}

// Report summarizes a stack run. ID lists are sorted.
type Report struct {
	RunID    string
	Rendered []string
	Skipped  []string
	Failed   []string
	Errors   []error // one *RenderError per failed capture
	Duration time.Duration
}

// Total is the number of captures the run covered.
func (r Report) Total() int { return len(r.Rendered) + len(r.Skipped) + len(r.Failed) }

// Err joins every capture failure, or is nil when none failed.
func (r Report) Err() error { return errors.Join(r.Errors...) }

// SaveStacks renders one stack per capture into opts.StackDir. Existing
// stacks are left alone unless opts.Overwrite is set, without calling the
// renderer. A failing capture is recorded in the Report and the rest carry
// on; the returned error is reserved for setup failures and cancellation.
func (s *ImageSet) SaveStacks(ctx context.Context, renderer render.Renderer, opts StackOptions) (Report, error) {
	start := time.Now()
	report := Report{RunID: opts.RunID}
	if renderer == nil {
		return report, errors.New("no renderer configured")
	}
	if opts.StackDir == "" {
		return report, &IOError{Op: "mkdir", Path: opts.StackDir, Err: os.ErrInvalid}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{opts.StackDir, opts.ThumbnailDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return report, &IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	jobs := make([]pipeline.Job, 0, len(s.captures))
	for _, c := range s.captures {
		id := c.ID()
		if opts.RunID != "" {
			id = opts.RunID + "/" + c.ID()
		}
		jobs = append(jobs, pipeline.Job{
			ID:        id,
			Type:      pipeline.JobStack,
			CaptureID: c.ID(),
			Request: render.Request{
				CaptureID:    c.ID(),
				Files:        c.Paths(),
				Wavelengths:  c.CenterWavelengths(),
				Transforms:   opts.Transforms,
				Irradiance:   opts.Irradiance,
				OutputDir:    opts.StackDir,
				ThumbnailDir: opts.ThumbnailDir,
				Overwrite:    opts.Overwrite,
			},
		})
	}

	s.recordRunStart(opts)
	logging.LogProcessingStep(logger, opts.RunID, "stack", "started", map[string]any{
		"captures":   len(jobs),
		"workers":    workers,
		"sequential": opts.Sequential,
		"overwrite":  opts.Overwrite,
	})

	p := pipeline.New(stackProcessor{renderer: renderer}, pipeline.Options{
		Workers:    workers,
		Sequential: opts.Sequential,
		RunID:      opts.RunID,
		Logger:     logger,
		Store:      opts.Store,
		Metrics:    opts.Metrics,
	})
	results, runErr := p.Run(ctx, jobs, opts.Progress)

	for _, res := range results {
		switch res.Status {
		case pipeline.StatusRendered:
			report.Rendered = append(report.Rendered, res.Job.CaptureID)
		case pipeline.StatusSkipped:
			report.Skipped = append(report.Skipped, res.Job.CaptureID)
		default:
			report.Failed = append(report.Failed, res.Job.CaptureID)
			report.Errors = append(report.Errors, res.Error)
		}
	}
	sort.Strings(report.Rendered)
	sort.Strings(report.Skipped)
	sort.Strings(report.Failed)
	sort.Slice(report.Errors, func(i, j int) bool {
		return captureOf(report.Errors[i]) < captureOf(report.Errors[j])
	})
	report.Duration = time.Since(start)

	status := "completed"
	switch {
	case runErr != nil:
		status = "cancelled"
	case len(report.Failed) > 0:
		status = "partial"
	}
	meta := map[string]any{
		"rendered": len(report.Rendered),
		"skipped":  len(report.Skipped),
		"failed":   len(report.Failed),
	}
	logging.LogProcessingStep(logger, opts.RunID, "stack", status, meta)
	if opts.RunID != "" {
		var msg string
		if err := errors.Join(runErr, report.Err()); err != nil {
			msg = err.Error()
		}
		_ = opts.Store.RecordJobResult(opts.RunID, status, meta, msg)
	}
	return report, runErr
}

func (s *ImageSet) recordRunStart(opts StackOptions) {
	if opts.RunID == "" {
		return
	}
	_ = opts.Store.RecordJobQueued(storage.JobRecord{
		ID:         opts.RunID,
		JobType:    "stack",
		Status:     "queued",
		InputPath:  s.rootHint(),
		OutputPath: opts.StackDir,
	})
	_ = opts.Store.RecordJobStart(opts.RunID)
}

// rootHint is the directory of the first band file, for the ledger only.
func (s *ImageSet) rootHint() string {
	if len(s.captures) == 0 {
		return ""
	}
	return filepath.Dir(s.captures[0].images[0].Path())
}

func captureOf(err error) string {
	var re *RenderError
	if errors.As(err, &re) {
		return re.CaptureID
	}
	return ""
}

// stackProcessor runs one capture through the renderer, honouring the
// overwrite policy before any rendering work starts.
type stackProcessor struct {
	renderer render.Renderer
}

func (sp stackProcessor) Process(ctx context.Context, job pipeline.Job) pipeline.Result {
	req := job.Request
	path := render.StackPath(req.OutputDir, req.CaptureID)
	if !req.Overwrite && fsutil.Exists(path) {
		return pipeline.Result{Status: pipeline.StatusSkipped, Output: render.Output{StackPath: path}}
	}
	out, err := sp.renderer.Render(ctx, req)
	if err != nil {
		return pipeline.Result{Error: &RenderError{CaptureID: req.CaptureID, Err: err}}
	}
	return pipeline.Result{Status: pipeline.StatusRendered, Output: out}
}
