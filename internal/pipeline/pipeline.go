package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bandstack/internal/logging"
	"bandstack/internal/metrics"
	"bandstack/internal/progress"
	"bandstack/internal/render"
	"bandstack/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	JobStack JobType = "stack-capture"
)

// Status is the final state of a job.
type Status string

const (
	StatusRendered  Status = "rendered"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job represents a single processing request: one capture to stack.
type Job struct {
	ID        string
	Type      JobType
	CaptureID string
	Request   render.Request
}

// Result captures the outcome of a Job.
type Result struct {
	Job      Job
	Status   Status
	Output   render.Output
	Error    error
	Meta     map[string]any
	Duration time.Duration
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job Job) Result

func (f ProcessorFunc) Process(ctx context.Context, job Job) Result {
	return f(ctx, job)
}

// Options configures a Pipeline.
type Options struct {
	Workers    int  // <1 means one worker
	Sequential bool // run every job inline on the calling goroutine
	RunID      string
	Logger     *slog.Logger
	Store      *storage.Store
	Metrics    *metrics.Metrics
}

// Pipeline dispatches a batch of jobs to a Processor. Workers are started and
// joined inside each Run call; nothing outlives it.
type Pipeline struct {
	processor  Processor
	log        *slog.Logger
	store      *storage.Store
	metrics    *metrics.Metrics
	workers    int
	sequential bool
	runID      string
}

// New creates a Pipeline around processor.
func New(processor Processor, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		processor:  processor,
		log:        logger,
		store:      opts.Store,
		metrics:    opts.Metrics,
		workers:    opts.Workers,
		sequential: opts.Sequential,
		runID:      opts.RunID,
	}
}

// Run processes jobs and returns their results in completion order. A job
// failure never stops the others. When ctx is cancelled no new jobs are
// started; jobs already running finish, the unstarted ones are recorded as
// cancelled and ctx.Err() is returned alongside the partial results.
func (p *Pipeline) Run(ctx context.Context, jobs []Job, fn progress.Func) ([]Result, error) {
	rep := progress.NewReporter(fn, len(jobs))
	rep.Start()
	defer rep.Close()

	for _, job := range jobs {
		p.queue(job)
	}

	var mu sync.Mutex
	results := make([]Result, 0, len(jobs))
	collect := func(res Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		rep.Step()
	}

	if p.sequential {
		for _, job := range jobs {
			if ctx.Err() != nil {
				break
			}
			collect(p.runJob(ctx, job))
		}
	} else {
		p.runPool(ctx, jobs, collect)
	}

	if len(results) < len(jobs) {
		p.cancelRest(ctx, jobs, results)
		return results, ctx.Err()
	}
	return results, nil
}

func (p *Pipeline) runPool(ctx context.Context, jobs []Job, collect func(Result)) {
	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	queue := make(chan Job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, queue, collect, &wg)
	}

feed:
	for _, job := range jobs {
		// select picks randomly among ready cases
		if ctx.Err() != nil {
			break feed
		}
		select {
		case <-ctx.Done():
			break feed
		case queue <- job:
		}
	}
	close(queue)
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int, queue <-chan Job, collect func(Result), wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range queue {
		// a job handed over as ctx ends is left for cancelRest
		if ctx.Err() != nil {
			continue
		}
		p.log.Debug("worker picked job", "worker", id, "job", job.ID)
		collect(p.runJob(ctx, job))
	}
}

func (p *Pipeline) runJob(ctx context.Context, job Job) Result {
	start := time.Now()
	output := render.StackPath(job.Request.OutputDir, job.CaptureID)
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.CaptureID, output, map[string]any{
		"bands":     len(job.Request.Files),
		"overwrite": job.Request.Overwrite,
	})
	_ = p.store.RecordJobStart(job.ID)

	res := p.processor.Process(ctx, job)
	res.Job = job
	res.Duration = time.Since(start)
	if res.Error != nil {
		res.Status = StatusFailed
	} else if res.Status == "" {
		res.Status = StatusRendered
	}
	if res.Meta == nil {
		res.Meta = map[string]any{}
	}
	res.Meta["status"] = string(res.Status)
	if res.Output.StackPath != "" {
		res.Meta["stack"] = res.Output.StackPath
	}
	if res.Output.ThumbnailPath != "" {
		res.Meta["thumbnail"] = res.Output.ThumbnailPath
	}

	if res.Error != nil {
		logging.LogJobError(p.log, string(job.Type), job.ID, res.Duration, res.Error, map[string]any{
			"capture": job.CaptureID,
			"output":  output,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, res.Duration, res.Meta)
	}
	_ = p.store.RecordJobResult(job.ID, string(res.Status), res.Meta, errString(res.Error))
	p.metrics.ObserveJob(string(res.Status), res.Duration)
	return res
}

func (p *Pipeline) queue(job Job) {
	_ = p.store.RecordJobQueued(storage.JobRecord{
		ID:         job.ID,
		JobType:    string(job.Type),
		Status:     "queued",
		RunID:      p.runID,
		InputPath:  job.CaptureID,
		OutputPath: render.StackPath(job.Request.OutputDir, job.CaptureID),
	})
}

func (p *Pipeline) cancelRest(ctx context.Context, jobs []Job, done []Result) {
	finished := make(map[string]bool, len(done))
	for _, res := range done {
		finished[res.Job.ID] = true
	}
	msg := errString(ctx.Err())
	for _, job := range jobs {
		if !finished[job.ID] {
			_ = p.store.RecordJobResult(job.ID, string(StatusCancelled), nil, msg)
		}
	}
	p.log.Warn("run cancelled", "run_id", p.runID, "completed", len(done), "total", len(jobs))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
