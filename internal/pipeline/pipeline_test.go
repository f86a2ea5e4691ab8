package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"bandstack/internal/metrics"
	"bandstack/internal/render"
	"bandstack/internal/storage"
)

func makeJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		id := fmt.Sprintf("cap-%02d", i)
		jobs[i] = Job{
			ID:        "run/" + id,
			Type:      JobStack,
			CaptureID: id,
			Request:   render.Request{CaptureID: id, Files: []string{id + ".tif"}, OutputDir: "/out"},
		}
	}
	return jobs
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (l *progressLog) record(f float64) {
	l.mu.Lock()
	l.values = append(l.values, f)
	l.mu.Unlock()
}

func (l *progressLog) check(t *testing.T) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.values) == 0 || l.values[len(l.values)-1] != 1.0 {
		t.Fatalf("expected final progress 1.0, got %v", l.values)
	}
	for i := 1; i < len(l.values); i++ {
		if l.values[i] < l.values[i-1] {
			t.Fatalf("progress went backwards: %v", l.values)
		}
	}
}

func TestRunParallelProcessesEveryJob(t *testing.T) {
	var calls, active, peak int32
	proc := ProcessorFunc(func(ctx context.Context, job Job) Result {
		atomic.AddInt32(&calls, 1)
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return Result{Output: render.Output{StackPath: job.CaptureID + ".tif"}}
	})

	prog := &progressLog{}
	p := New(proc, Options{Workers: 3})
	results, err := p.Run(context.Background(), makeJobs(10), prog.record)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 10 || calls != 10 {
		t.Fatalf("expected 10 results and calls, got %d/%d", len(results), calls)
	}
	if peak > 3 {
		t.Fatalf("more than 3 jobs ran at once: %d", peak)
	}
	for _, res := range results {
		if res.Status != StatusRendered {
			t.Fatalf("expected rendered, got %s for %s", res.Status, res.Job.ID)
		}
	}
	prog.check(t)
}

func TestRunSequentialKeepsSubmissionOrder(t *testing.T) {
	proc := ProcessorFunc(func(ctx context.Context, job Job) Result { return Result{} })
	jobs := makeJobs(5)
	results, err := New(proc, Options{Workers: 8, Sequential: true}).Run(context.Background(), jobs, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, res := range results {
		if res.Job.ID != jobs[i].ID {
			t.Fatalf("result %d is %s, want %s", i, res.Job.ID, jobs[i].ID)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	proc := ProcessorFunc(func(ctx context.Context, job Job) Result {
		switch job.CaptureID {
		case "cap-01":
			return Result{Error: boom}
		case "cap-02":
			return Result{Status: StatusSkipped}
		}
		return Result{}
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	results, err := New(proc, Options{Workers: 2, RunID: "run", Store: store, Metrics: m}).Run(context.Background(), makeJobs(4), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	counts := map[Status]int{}
	for _, res := range results {
		counts[res.Status]++
		if res.Status == StatusFailed && !errors.Is(res.Error, boom) {
			t.Fatalf("failure lost its cause: %v", res.Error)
		}
	}
	if counts[StatusRendered] != 2 || counts[StatusSkipped] != 1 || counts[StatusFailed] != 1 {
		t.Fatalf("unexpected status counts %v", counts)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed job metric, got %v", got)
	}

	recs, err := store.RunJobs("run")
	if err != nil {
		t.Fatalf("run jobs: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 ledger rows, got %d", len(recs))
	}
	if recs[1].Status != "failed" || recs[1].Error != "boom" {
		t.Fatalf("unexpected ledger row %+v", recs[1])
	}
}

func TestRunStopsFeedingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	proc := ProcessorFunc(func(ctx context.Context, job Job) Result {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return Result{}
	})

	prog := &progressLog{}
	results, err := New(proc, Options{Sequential: true}).Run(ctx, makeJobs(5), prog.record)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 completed jobs, got %d", len(results))
	}
	prog.check(t)
}

func TestRunPoolStartsNothingAfterCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		var calls int32
		proc := ProcessorFunc(func(ctx context.Context, job Job) Result {
			atomic.AddInt32(&calls, 1)
			cancel()
			return Result{}
		})
		results, err := New(proc, Options{Workers: 1}).Run(ctx, makeJobs(5), nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if n := atomic.LoadInt32(&calls); n != 1 || len(results) != 1 {
			t.Fatalf("iteration %d: %d jobs started, %d results after cancel", i, n, len(results))
		}
		cancel()
	}
}

func TestRunEmptyBatch(t *testing.T) {
	prog := &progressLog{}
	results, err := New(ProcessorFunc(func(ctx context.Context, job Job) Result {
		t.Fatalf("processor should not run")
		return Result{}
	}), Options{Workers: 4}).Run(context.Background(), nil, prog.record)
	if err != nil || len(results) != 0 {
		t.Fatalf("unexpected %v %v", results, err)
	}
	prog.check(t)
}
