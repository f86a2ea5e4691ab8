package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const (
	defaultConfigPath = "~/.config/bandstack/config.json"
	defaultThumbWidth = 512
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing `json:"processing"`
	Extractor  Extractor  `json:"extractor"`
	Render     Render     `json:"render"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
}

// Processing captures execution preferences.
type Processing struct {
	Workers        int      `json:"workers"`         // stack workers, 0 = runtime.NumCPU()
	ExtractWorkers int      `json:"extract_workers"` // metadata sessions opened per scan
	Sequential     bool     `json:"sequential"`
	Overwrite      bool     `json:"overwrite"`
	Extensions     []string `json:"extensions"`
}

// Extractor selects and configures the metadata extractor.
type Extractor struct {
	Tool              string `json:"tool"` // exiftool, exif
	ExiftoolPath      string `json:"exiftool_path"`
	AllowUncalibrated bool   `json:"allow_uncalibrated"`
}

// Render configures stack output.
type Render struct {
	ThumbnailWidth int    `json:"thumbnail_width"`
	Photometric    string `json:"photometric"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput string `json:"default_input"`
	StackDir     string `json:"stack_dir"`
	ThumbnailDir string `json:"thumbnail_dir"`
	DatabasePath string `json:"database_path"`
	MetricsFile  string `json:"metrics_file"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("BANDSTACK_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	return cfg, nil
}

// Path reports which config file Load reads.
func Path() string {
	if p := os.Getenv("BANDSTACK_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// StackWorkers resolves the worker count for stack production.
func (c *Config) StackWorkers() int {
	if c.Processing.Workers > 0 {
		return c.Processing.Workers
	}
	return runtime.NumCPU()
}

func (c *Config) applyEnv() {
	if p := os.Getenv("EXIFTOOL_PATH"); p != "" {
		c.Extractor.ExiftoolPath = filepath.Clean(p)
	}
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			Workers:        0,
			ExtractWorkers: 1,
			Extensions:     []string{".tif"},
		},
		Extractor: Extractor{
			Tool:         "exiftool",
			ExiftoolPath: "exiftool",
		},
		Render: Render{
			ThumbnailWidth: defaultThumbWidth,
			Photometric:    "MINISBLACK",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput: ".",
			StackDir:     "./stacks",
			DatabasePath: filepath.Join(os.TempDir(), "bandstack.db"),
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
