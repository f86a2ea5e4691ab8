package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"bandstack/internal/config"
	"bandstack/internal/imageset"
	"bandstack/internal/logging"
	"bandstack/internal/metadata"
	"bandstack/internal/metrics"
	"bandstack/internal/progress"
	"bandstack/internal/render"
	"bandstack/internal/storage"
)

// Version is the CLI version string.
const Version = "0.3.0"

// OpenerFactory builds the metadata session opener for a discovery call
// rooted at root.
type OpenerFactory func(cfg *config.Config, log *slog.Logger, root string) (metadata.Opener, error)

// RendererFactory builds the stack renderer.
type RendererFactory func(cfg *config.Config, log *slog.Logger) (render.Renderer, error)

// Root wires CLI commands to the image set and its collaborators.
type Root struct {
	cfg          *config.Config
	log          *slog.Logger
	store        *storage.Store
	openerFac    OpenerFactory
	rendererFac  RendererFactory
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	showProgress bool
}

// NewRoot constructs the CLI root. newRenderer may be nil when no command
// that renders will run.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store, newRenderer RendererFactory) *Root {
	reg := prometheus.NewRegistry()
	return &Root{
		cfg:          cfg,
		log:          logger,
		store:        store,
		openerFac:    DefaultOpener,
		rendererFac:  newRenderer,
		registry:     reg,
		metrics:      metrics.New(reg),
		showProgress: true,
	}
}

// DefaultOpener returns an exiftool stay-open session opener, or the goexif
// extractor when extractor.tool is "exif".
func DefaultOpener(cfg *config.Config, log *slog.Logger, root string) (metadata.Opener, error) {
	switch cfg.Extractor.Tool {
	case "exif":
		logging.LogToolStatus(log, "goexif", true, "builtin", "", nil)
		return metadata.PerCall(metadata.ExifExtractor{Root: root}), nil
	case "", "exiftool":
		binary := cfg.Extractor.ExiftoolPath
		if binary == "" {
			binary = "exiftool"
		}
		version, err := metadata.ExifToolVersion(binary)
		logging.LogToolStatus(log, "exiftool", err == nil, version, binary, err)
		if err != nil {
			return nil, fmt.Errorf("exiftool not available at %q (set EXIFTOOL_PATH or extractor.tool=exif): %w", binary, err)
		}
		return metadata.ExifToolOpener(binary, log), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Extractor.Tool)
	}
}

func (r *Root) input(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return r.cfg.Paths.DefaultInput
}

// discover builds the image set for dir, printing progress to errOut.
func (r *Root) discover(ctx context.Context, dir string, errOut io.Writer) (*imageset.ImageSet, error) {
	opener, err := r.openerFac(r.cfg, r.log, dir)
	if err != nil {
		return nil, err
	}
	// the goexif fallback never sees calibration tags
	allowUncalibrated := r.cfg.Extractor.AllowUncalibrated || r.cfg.Extractor.Tool == "exif"
	return imageset.FromDirectory(ctx, dir, imageset.DiscoverOptions{
		Extensions:        r.cfg.Processing.Extensions,
		Opener:            opener,
		Workers:           r.cfg.Processing.ExtractWorkers,
		AllowUncalibrated: allowUncalibrated,
		Progress:          r.progress(errOut, "extracting"),
		Logger:            r.log,
		Metrics:           r.metrics,
	})
}

func (r *Root) progress(w io.Writer, label string) progress.Func {
	if !r.showProgress {
		return nil
	}
	return func(f float64) {
		fmt.Fprintf(w, "\r%s %3.0f%%", label, f*100)
		if f >= 1 {
			fmt.Fprintln(w)
		}
	}
}

func (r *Root) cmdScan(ctx context.Context, w, errOut io.Writer, dir string) error {
	runID := newID("scan")
	_ = r.store.RecordJobQueued(storage.JobRecord{ID: runID, JobType: "scan", Status: "queued", InputPath: dir})
	_ = r.store.RecordJobStart(runID)

	set, err := r.discover(ctx, dir, errOut)
	if err != nil {
		_ = r.store.RecordJobResult(runID, "failed", nil, err.Error())
		return err
	}

	for _, c := range set.Captures() {
		lat, lon, alt := c.Location()
		_ = r.store.RecordCapture(storage.CaptureRecord{
			CaptureID: c.ID(),
			RunID:     runID,
			Timestamp: c.Timestamp().UTC().Format(time.RFC3339Nano),
			Latitude:  lat,
			Longitude: lon,
			Altitude:  alt,
			BandCount: c.BandCount(),
		})
		for _, im := range c.Images() {
			irr, ok := im.Irradiance()
			var irrPtr *float64
			if ok {
				irrPtr = &irr
			}
			_ = r.store.RecordImageMetadata(storage.ImageMetadata{
				FilePath:         im.Path(),
				CaptureID:        c.ID(),
				BandIndex:        im.BandIndex(),
				BandName:         im.BandName(),
				CenterWavelength: im.CenterWavelength(),
				Irradiance:       irrPtr,
				Calibrated:       im.Calibrated(),
				Timestamp:        im.Timestamp().UTC().Format(time.RFC3339Nano),
			})
		}
		fmt.Fprintf(w, "%s  %s  %d bands\n", c.ID(), c.Timestamp().UTC().Format(time.RFC3339), c.BandCount())
	}

	errs := set.Errors()
	red := color.New(color.FgRed).SprintFunc()
	for _, e := range errs {
		fmt.Fprintf(w, "%s %v\n", red("error:"), e)
	}
	fmt.Fprintf(w, "%s captures, %s errors\n", humanize.Comma(int64(set.Len())), humanize.Comma(int64(len(errs))))
	_ = r.store.RecordJobResult(runID, "completed", map[string]any{"captures": set.Len(), "errors": len(errs)}, "")
	return nil
}

func (r *Root) cmdExport(ctx context.Context, w, errOut io.Writer, dir, output string) error {
	set, err := r.discover(ctx, dir, errOut)
	if err != nil {
		return err
	}
	tbl, err := set.Table()
	if err != nil {
		return err
	}
	if output == "" {
		return tbl.WriteCSV(w)
	}

	tmp := output + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := tbl.WriteCSV(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, output); err != nil {
		return err
	}
	r.log.Info("table exported", "path", output, "rows", len(tbl.Rows), "columns", len(tbl.Columns))
	return nil
}

type irradianceLine struct {
	Timestamp  string `json:"timestamp"`
	Irradiance []any  `json:"irradiance"`
}

func (r *Root) cmdIrradiance(ctx context.Context, w, errOut io.Writer, dir string) error {
	set, err := r.discover(ctx, dir, errOut)
	if err != nil {
		return err
	}
	series := set.IrradianceSeries()
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	enc := json.NewEncoder(w)
	for _, k := range keys {
		line := irradianceLine{Timestamp: k, Irradiance: make([]any, len(series[k]))}
		for i, v := range series[k] {
			// NaN has no JSON form
			if !math.IsNaN(v) {
				line.Irradiance[i] = v
			}
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

type stackFlags struct {
	transforms  string
	output      string
	thumbnails  string
	irradiance  []float64
	overwrite   bool
	sequential  bool
	workers     int
	metricsFile string
}

func (r *Root) cmdStack(ctx context.Context, w, errOut io.Writer, dir string, fl stackFlags) error {
	if r.rendererFac == nil {
		return fmt.Errorf("no renderer available")
	}
	var transforms []render.Transform
	if fl.transforms != "" {
		var err error
		if transforms, err = render.LoadTransforms(fl.transforms); err != nil {
			return err
		}
	}
	renderer, err := r.rendererFac(r.cfg, r.log)
	if err != nil {
		return err
	}

	set, err := r.discover(ctx, dir, errOut)
	if err != nil {
		return err
	}
	for _, e := range set.Errors() {
		r.log.Warn("excluded from stacking", "error", e)
	}

	runID := newID("stack")
	report, runErr := set.SaveStacks(ctx, renderer, imageset.StackOptions{
		Transforms:   transforms,
		Irradiance:   fl.irradiance,
		StackDir:     fl.output,
		ThumbnailDir: fl.thumbnails,
		Overwrite:    fl.overwrite,
		Sequential:   fl.sequential,
		Workers:      fl.workers,
		RunID:        runID,
		Progress:     r.progress(errOut, "stacking"),
		Logger:       r.log,
		Store:        r.store,
		Metrics:      r.metrics,
	})
	if err := metrics.WriteTextfile(fl.metricsFile, r.registry); err != nil {
		r.log.Warn("could not write metrics", "path", fl.metricsFile, "error", err)
	}
	printReport(w, report, fl.output)
	if runErr != nil {
		return runErr
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("%d of %d captures failed: %w", len(report.Failed), report.Total(), err)
	}
	return nil
}

func printReport(w io.Writer, report imageset.Report, dir string) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	var size int64
	for _, id := range report.Rendered {
		if fi, err := os.Stat(render.StackPath(dir, id)); err == nil {
			size += fi.Size()
		}
	}
	fmt.Fprintf(w, "run %s: %s rendered (%s), %s skipped, %s failed in %s\n",
		report.RunID,
		green(len(report.Rendered)),
		humanize.Bytes(uint64(size)),
		yellow(len(report.Skipped)),
		red(len(report.Failed)),
		report.Duration.Round(time.Millisecond))
	for _, err := range report.Errors {
		fmt.Fprintf(w, "  %s %v\n", red("failed:"), err)
	}
}

func (r *Root) cmdHistory(w io.Writer, limit int) error {
	jobs, err := r.store.RecentJobs(limit)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		status := j.Status
		switch j.Status {
		case "completed":
			status = color.GreenString(status)
		case "partial", "cancelled":
			status = color.YellowString(status)
		case "failed":
			status = color.RedString(status)
		}
		fmt.Fprintf(w, "%-48s %-6s %-10s %s  %s\n", j.ID, j.JobType, status, humanize.Time(j.CreatedAt), j.InputPath)
		if j.Error != "" {
			fmt.Fprintf(w, "    %s\n", j.Error)
		}
	}
	return nil
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
