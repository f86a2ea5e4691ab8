package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for runs, capture jobs and the
// captures and band files seen by discovery.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Capture jobs record results from several workers at once.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            run_id TEXT,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS captures (
            capture_id TEXT PRIMARY KEY,
            run_id TEXT,
            timestamp TEXT,
            latitude REAL,
            longitude REAL,
            altitude REAL,
            band_count INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            file_path TEXT PRIMARY KEY,
            capture_id TEXT,
            band_index INTEGER,
            band_name TEXT,
            center_wavelength REAL,
            irradiance REAL,
            calibrated BOOLEAN DEFAULT FALSE,
            timestamp TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_processing_jobs_run_id ON processing_jobs(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_image_metadata_capture_id ON image_metadata(capture_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info. Runs and per-capture stack jobs
// share the table; capture jobs carry the run's ID in RunID.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	RunID       string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// CaptureRecord is one grouped capture.
type CaptureRecord struct {
	CaptureID string
	RunID     string
	Timestamp string
	Latitude  float64
	Longitude float64
	Altitude  float64
	BandCount int
}

// ImageMetadata is the band-level metadata of one file.
type ImageMetadata struct {
	FilePath         string
	CaptureID        string
	BandIndex        int
	BandName         string
	CenterWavelength float64
	Irradiance       *float64
	Calibrated       bool
	Timestamp        string
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, run_id, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.RunID, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest run-level jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	return s.queryJobs(`SELECT id, job_type, status, run_id, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs WHERE run_id IS NULL OR run_id = '' ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
}

// RunJobs returns the capture jobs belonging to runID.
func (s *Store) RunJobs(runID string) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	return s.queryJobs(`SELECT id, job_type, status, run_id, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs WHERE run_id = ? ORDER BY id;`, runID)
}

func (s *Store) queryJobs(query string, args ...any) ([]JobRecord, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var runID, input, output, opts, errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &runID, &input, &output, &opts, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		rec.RunID = runID.String
		rec.InputPath = input.String
		rec.OutputPath = output.String
		rec.OptionsJSON = opts.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordCapture persists a grouped capture.
func (s *Store) RecordCapture(rec CaptureRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO captures (capture_id, run_id, timestamp, latitude, longitude, altitude, band_count) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.CaptureID, rec.RunID, rec.Timestamp, rec.Latitude, rec.Longitude, rec.Altitude, rec.BandCount)
	return err
}

// RecordImageMetadata stores the band metadata of one file.
func (s *Store) RecordImageMetadata(meta ImageMetadata) error {
	if s == nil {
		return nil
	}
	var irr sql.NullFloat64
	if meta.Irradiance != nil {
		irr = sql.NullFloat64{Float64: *meta.Irradiance, Valid: true}
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (file_path, capture_id, band_index, band_name, center_wavelength, irradiance, calibrated, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		meta.FilePath, meta.CaptureID, meta.BandIndex, meta.BandName, meta.CenterWavelength, irr, meta.Calibrated, meta.Timestamp)
	return err
}

// CaptureImages returns the stored band metadata for captureID in band order.
func (s *Store) CaptureImages(captureID string) ([]ImageMetadata, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT file_path, capture_id, band_index, band_name, center_wavelength, irradiance, calibrated, timestamp FROM image_metadata WHERE capture_id=? ORDER BY band_index, file_path;`, captureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageMetadata
	for rows.Next() {
		var m ImageMetadata
		var irr sql.NullFloat64
		if err := rows.Scan(&m.FilePath, &m.CaptureID, &m.BandIndex, &m.BandName, &m.CenterWavelength, &irr, &m.Calibrated, &m.Timestamp); err != nil {
			return nil, err
		}
		if irr.Valid {
			v := irr.Float64
			m.Irradiance = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
