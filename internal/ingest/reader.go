// Package ingest reads reflectance readings from spectrometer exports.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/soilsense/internal/models"
)

// ErrNoReadings is returned when a file holds no data rows.
var ErrNoReadings = errors.New("no readings found")

// Sample is one reading from a file.
type Sample struct {
	// Label is the optional leading column (sample ID or reference value).
	Label string
	// Row is the 1-based row (or array index) the reading came from.
	Row         int
	Reflectance models.Spectrum
}

// Name returns the label, or "row N" when the sample has none.
func (s Sample) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("row %d", s.Row)
}

// Reader parses readings of a fixed width.
type Reader struct {
	width int
}

// NewReader returns a Reader for full-length spectra.
func NewReader() *Reader {
	return &Reader{width: models.SpectrumLength}
}

// Read reads the file at path and returns its readings.
// Supported formats: .csv and .txt (comma separated), .tsv, .xlsx (every sheet) and .json.
func (r *Reader) Read(path string) ([]Sample, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return r.ReadBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ReadBytes parses content according to ext, which includes the leading dot.
func (r *Reader) ReadBytes(content []byte, ext string) ([]Sample, error) {
	var (
		samples []Sample
		err     error
	)
	switch ext {
	case ".csv", ".txt", "":
		samples, err = r.readDelimited(content, ',')
	case ".tsv":
		samples, err = r.readDelimited(content, '\t')
	case ".xlsx":
		samples, err = r.readExcel(content)
	case ".json":
		samples, err = r.readJSON(content)
	default:
		return nil, fmt.Errorf("unsupported reading format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoReadings
	}
	return samples, nil
}

// parseRows turns table rows into samples. A row holds width values, optionally
// preceded by a label. A first row that does not parse is taken as a header.
func (r *Reader) parseRows(rows [][]string) ([]Sample, error) {
	var samples []Sample
	seenData := false
	for i, row := range rows {
		cells := trimRow(row)
		if len(cells) == 0 {
			continue
		}
		s, err := r.parseRow(cells)
		if err != nil {
			if !seenData {
				seenData = true
				continue
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		seenData = true
		s.Row = i + 1
		samples = append(samples, s)
	}
	return samples, nil
}

func (r *Reader) parseRow(cells []string) (Sample, error) {
	var s Sample
	switch len(cells) {
	case r.width:
	case r.width + 1:
		s.Label = cells[0]
		cells = cells[1:]
	default:
		return s, fmt.Errorf("got %d columns, want %d (or %d with a label)", len(cells), r.width, r.width+1)
	}
	s.Reflectance = make(models.Spectrum, len(cells))
	for j, c := range cells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return s, fmt.Errorf("column %d: %q is not a number", j+1, c)
		}
		s.Reflectance[j] = v
	}
	return s, nil
}

// trimRow trims every cell and drops trailing empty cells.
func trimRow(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
