package storage

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "bandstack.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordJobQueued(JobRecord{ID: "run-1", JobType: "stack", Status: "queued", InputPath: "/in", OutputPath: "/out"}); err != nil {
		t.Fatalf("queue run: %v", err)
	}
	for _, id := range []string{"run-1/a", "run-1/b"} {
		if err := s.RecordJobQueued(JobRecord{ID: id, JobType: "stack-capture", Status: "queued", RunID: "run-1"}); err != nil {
			t.Fatalf("queue capture: %v", err)
		}
	}
	if err := s.RecordJobStart("run-1/a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("run-1/a", "rendered", map[string]any{"stack": "/out/a.tif"}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := s.RecordJobResult("run-1/b", "failed", nil, "boom"); err != nil {
		t.Fatalf("result: %v", err)
	}

	runs, err := s.RecentJobs(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Status != "queued" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	jobs, err := s.RunJobs("run-1")
	if err != nil {
		t.Fatalf("run jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 capture jobs, got %d", len(jobs))
	}
	if jobs[0].Status != "rendered" || jobs[0].StartedAt == nil || jobs[0].CompletedAt == nil {
		t.Fatalf("unexpected job a %+v", jobs[0])
	}
	if jobs[1].Status != "failed" || jobs[1].Error != "boom" {
		t.Fatalf("unexpected job b %+v", jobs[1])
	}

	meta, err := s.JobMeta("run-1/a")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["stack"] != "/out/a.tif" {
		t.Fatalf("unexpected meta %v", meta)
	}
}

func TestCaptureAndImageMetadata(t *testing.T) {
	s := newTestStore(t)
	irr := 1.25
	if err := s.RecordCapture(CaptureRecord{CaptureID: "c1", Timestamp: "2020-01-01T00:00:00Z", BandCount: 2}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	recs := []ImageMetadata{
		{FilePath: "/d/IMG_2.tif", CaptureID: "c1", BandIndex: 1, BandName: "Green", CenterWavelength: 560},
		{FilePath: "/d/IMG_1.tif", CaptureID: "c1", BandIndex: 0, BandName: "Blue", CenterWavelength: 475, Irradiance: &irr, Calibrated: true},
	}
	for _, r := range recs {
		if err := s.RecordImageMetadata(r); err != nil {
			t.Fatalf("image: %v", err)
		}
	}
	got, err := s.CaptureImages("c1")
	if err != nil {
		t.Fatalf("capture images: %v", err)
	}
	if len(got) != 2 || got[0].BandName != "Blue" || got[1].BandName != "Green" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[0].Irradiance == nil || *got[0].Irradiance != irr || !got[0].Calibrated {
		t.Fatalf("irradiance not round-tripped: %+v", got[0])
	}
	if got[1].Irradiance != nil {
		t.Fatalf("expected nil irradiance for uncalibrated band")
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("queued: %v", err)
	}
	if err := s.RecordJobStart("x"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("x", "rendered", nil, ""); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := s.RecordCapture(CaptureRecord{}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := s.RecordImageMetadata(ImageMetadata{}); err != nil {
		t.Fatalf("image: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.RecentJobs(1); err == nil {
		t.Fatalf("expected error from nil store query")
	}
}
