package imageset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// BaseColumns lead every table; one irr-<wavelength> column per band follows.
var BaseColumns = []string{
	"timestamp", "latitude", "longitude", "altitude", "capture_id",
	"dls-yaw", "dls-pitch", "dls-roll",
}

// Row is one capture in tabular form.
type Row struct {
	Timestamp  time.Time
	Latitude   float64
	Longitude  float64
	Altitude   float64
	CaptureID  string
	Yaw        float64
	Pitch      float64
	Roll       float64
	Irradiance []float64 // NaN where absent
}

// Table is the flat export of a set, one row per capture in set order.
type Table struct {
	Columns []string
	Rows    []Row
}

// Table exports the set. Band columns are taken from the first capture; any
// capture with a different band count is an *IntegrityError.
func (s *ImageSet) Table() (Table, error) {
	cols := append([]string(nil), BaseColumns...)
	if len(s.captures) == 0 {
		return Table{Columns: cols}, nil
	}

	first := s.captures[0]
	for _, wl := range first.CenterWavelengths() {
		cols = append(cols, "irr-"+strconv.FormatFloat(wl, 'f', -1, 64))
	}
	rows := make([]Row, 0, len(s.captures))
	for _, c := range s.captures {
		if c.BandCount() != first.BandCount() {
			return Table{}, &IntegrityError{
				CaptureID: c.ID(),
				Reason:    fmt.Sprintf("has %d bands, table expects %d", c.BandCount(), first.BandCount()),
			}
		}
		lat, lon, alt := c.Location()
		yaw, pitch, roll := c.Pose()
		rows = append(rows, Row{
			Timestamp:  c.Timestamp(),
			Latitude:   lat,
			Longitude:  lon,
			Altitude:   alt,
			CaptureID:  c.ID(),
			Yaw:        yaw,
			Pitch:      pitch,
			Roll:       roll,
			Irradiance: c.Irradiance(),
		})
	}
	return Table{Columns: cols, Rows: rows}, nil
}

// Records renders the rows as strings. Absent irradiance is an empty cell.
func (t Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		rec := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			formatFloat(r.Altitude),
			r.CaptureID,
			formatFloat(r.Yaw),
			formatFloat(r.Pitch),
			formatFloat(r.Roll),
		}
		for _, v := range r.Irradiance {
			rec = append(rec, formatFloat(v))
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes the header and every row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Records()); err != nil {
		return err
	}
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
