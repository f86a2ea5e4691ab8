package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bandstack/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging. Stderr is always written, leaving stdout
// to command output; a dated file under LogDir is added when FileOutput is set.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	if strings.ToLower(cfg.Logging.Format) == "json" && !cfg.Logging.FileOutput {
		logger := New(cfg.Logging.Level, "json")
		slog.SetDefault(logger)
		return logger, nil
	}

	writers := []io.Writer{os.Stderr}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("bandstack-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "bandstack-current.log")
		os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	slogLogger := slog.New(NewTraditionalHandler(io.MultiWriter(writers...), level))
	slog.SetDefault(slogLogger)

	slogLogger.Debug("logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting:
// "[LEVEL] message [k=v ...]".
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

// NewTraditionalHandler writes records to w at or above level.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, h.format(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.format(a))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

func (h *TraditionalHandler) format(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of a processing job
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath, outputPath string, options map[string]any) {
	logger.Debug("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"output", outputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogToolStatus logs tool detection and status
func LogToolStatus(logger *slog.Logger, tool string, available bool, version, path string, err error) {
	if available {
		logger.Debug("tool detected",
			"tool", tool,
			"version", version,
			"path", path,
		)
	} else {
		logger.Debug("tool not available",
			"tool", tool,
			"error", err,
		)
	}
}

// LogProcessingStep logs individual processing steps within a run
func LogProcessingStep(logger *slog.Logger, runID, step, status string, details map[string]any) {
	logger.Info("processing step",
		"run_id", runID,
		"step", step,
		"status", status,
		"details", details,
	)
}
