package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const exifDateLayout = "2006:01:02 15:04:05"

// ExifTool is a persistent exiftool process (-stay_open) shared by every
// Extract call of one discovery run, avoiding a process start per file.
type ExifTool struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	log    *slog.Logger
}

// StartExifTool launches exiftool in stay-open mode reading arguments from stdin.
func StartExifTool(ctx context.Context, binary string, logger *slog.Logger) (*ExifTool, error) {
	if binary == "" {
		binary = "exiftool"
	}
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, binary, "-stay_open", "True", "-@", "-")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logger.Debug("exiftool stderr", "line", sc.Text())
		}
	}()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ExifTool{cmd: cmd, stdin: stdin, stdout: sc, log: logger}, nil
}

// ExifToolOpener returns an Opener starting one exiftool process per session.
func ExifToolOpener(binary string, logger *slog.Logger) Opener {
	return func(ctx context.Context) (Session, error) {
		return StartExifTool(ctx, binary, logger)
	}
}

// Execute sends one argument batch and returns everything printed before {ready}.
func (et *ExifTool) Execute(args ...string) ([]byte, error) {
	et.mu.Lock()
	defer et.mu.Unlock()

	for _, arg := range args {
		if _, err := fmt.Fprintln(et.stdin, arg); err != nil {
			return nil, fmt.Errorf("writing arg %q: %w", arg, err)
		}
	}
	if _, err := fmt.Fprintln(et.stdin, "-execute"); err != nil {
		return nil, fmt.Errorf("writing execute: %w", err)
	}

	var out strings.Builder
	for et.stdout.Scan() {
		line := et.stdout.Text()
		if strings.HasPrefix(line, "{ready") {
			return []byte(out.String()), nil
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := et.stdout.Err(); err != nil {
		return nil, fmt.Errorf("reading output: %w", err)
	}
	return nil, io.ErrUnexpectedEOF
}

// Extract reads one file's tags through the running process.
func (et *ExifTool) Extract(ctx context.Context, path string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	out, err := et.Execute("-json", "-n", "-G", path)
	if err != nil {
		return Record{}, &ExtractionError{Path: path, Err: err}
	}
	var parsed []map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil || len(parsed) == 0 {
		if err == nil {
			err = errors.New("no metadata returned")
		}
		return Record{}, &ExtractionError{Path: path, Err: err}
	}
	rec, err := FromExifTool(path, parsed[0])
	if err != nil {
		return Record{}, &ExtractionError{Path: path, Err: err}
	}
	return rec, nil
}

// Close asks exiftool to exit and waits for it.
func (et *ExifTool) Close() error {
	et.mu.Lock()
	defer et.mu.Unlock()
	if _, err := fmt.Fprintln(et.stdin, "-stay_open\nFalse"); err != nil {
		_ = et.stdin.Close()
		_ = et.cmd.Wait()
		return err
	}
	if err := et.stdin.Close(); err != nil {
		return err
	}
	return et.cmd.Wait()
}

// FromExifTool maps grouped numeric exiftool JSON (-json -n -G) onto a Record.
func FromExifTool(path string, m map[string]any) (Record, error) {
	rec := Record{Path: path}

	rec.CaptureID = str(m, "XMP:CaptureId", "XMP:CaptureUUID")
	rec.BandName = str(m, "XMP:BandName")
	if v, ok := num(m, "XMP:RigCameraIndex"); ok {
		rec.BandIndex = int(v)
	}
	rec.CenterWavelength, _ = num(m, "XMP:CentralWavelength")

	if s := str(m, "EXIF:DateTimeOriginal", "EXIF:CreateDate"); s != "" {
		ts, err := time.ParseInLocation(exifDateLayout, s, time.UTC)
		if err != nil {
			return rec, fmt.Errorf("timestamp %q: %w", s, err)
		}
		if sub := str(m, "EXIF:SubSecTimeOriginal"); sub != "" {
			if frac, err := strconv.ParseFloat("0."+sub, 64); err == nil {
				ts = ts.Add(time.Duration(frac * float64(time.Second)))
			}
		}
		rec.Timestamp = ts
	}

	rec.Latitude = signed(m, "Composite:GPSLatitude", "EXIF:GPSLatitude", "EXIF:GPSLatitudeRef", "S")
	rec.Longitude = signed(m, "Composite:GPSLongitude", "EXIF:GPSLongitude", "EXIF:GPSLongitudeRef", "W")
	if v, ok := num(m, "Composite:GPSAltitude"); ok {
		rec.Altitude = v
	} else if v, ok := num(m, "EXIF:GPSAltitude"); ok {
		if ref, _ := num(m, "EXIF:GPSAltitudeRef"); ref == 1 {
			v = -v
		}
		rec.Altitude = v
	}

	rec.Yaw, _ = num(m, "XMP:IrradianceYaw")
	rec.Pitch, _ = num(m, "XMP:IrradiancePitch")
	rec.Roll, _ = num(m, "XMP:IrradianceRoll")

	if v, ok := num(m, "XMP:Irradiance", "XMP:SpectralIrradiance"); ok {
		rec.Irradiance = &v
	}
	_, rec.Calibrated = m["XMP:RadiometricCalibration"]

	return rec, rec.Validate()
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func signed(m map[string]any, composite, raw, refKey, negRef string) float64 {
	if v, ok := num(m, composite); ok {
		return v
	}
	v, _ := num(m, raw)
	if ref := str(m, refKey); strings.EqualFold(ref, negRef) && v > 0 {
		v = -v
	}
	return v
}

// commandExists checks presence of an executable in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ExifToolVersion reports the version of the exiftool binary, or an error
// when it cannot be run.
func ExifToolVersion(binary string) (string, error) {
	if binary == "" {
		binary = "exiftool"
	}
	if !commandExists(binary) {
		return "", fmt.Errorf("%s not found", binary)
	}
	out, err := exec.Command(binary, "-ver").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
