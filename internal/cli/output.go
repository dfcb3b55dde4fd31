// Package cli provides output formatting for the soilsense command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hyperjump/soilsense/internal/models"
	"github.com/hyperjump/soilsense/internal/registry"
	"github.com/hyperjump/soilsense/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per reading.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// Prediction is the outcome for one input sample.
type Prediction struct {
	Sample    string `json:"sample"`
	ReadingID string `json:"reading_id,omitempty"`
	*models.PredictionBatch
	Error string `json:"error,omitempty"`
}

// Round rounds v half away from zero to places decimal places.
func Round(v float64, places int) float64 {
	return decimal.NewFromFloat(v).Round(int32(places)).InexactFloat64()
}

// RoundBatch returns a copy of b with every estimate rounded to places.
func RoundBatch(b *models.PredictionBatch, places int) *models.PredictionBatch {
	if b == nil {
		return nil
	}
	out := *b
	out.Results = make([]models.PredictionResult, len(b.Results))
	for i, r := range b.Results {
		out.Results[i] = models.PredictionResult{ElementName: r.ElementName, ElementValue: Round(r.ElementValue, places)}
	}
	out.Failures = append(make([]models.PredictionFailure, 0, len(b.Failures)), b.Failures...)
	return &out
}

func formatValue(v float64, places int) string {
	return decimal.NewFromFloat(v).StringFixed(int32(places))
}

// WritePredictions writes predictions to w in the given format. Estimates are
// rounded to places decimal places.
func WritePredictions(w io.Writer, preds []Prediction, format OutputFormat, places int) error {
	switch format {
	case OutputJSON:
		rounded := make([]Prediction, len(preds))
		for i, p := range preds {
			rounded[i] = p
			rounded[i].PredictionBatch = RoundBatch(p.PredictionBatch, places)
		}
		return writeJSON(w, rounded)
	case OutputCompact:
		for _, p := range preds {
			writePredictionCompact(w, p, places)
		}
		return nil
	default:
		for _, p := range preds {
			writePredictionText(w, p, places)
		}
		return nil
	}
}

func writePredictionText(w io.Writer, p Prediction, places int) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	if p.Error != "" || p.PredictionBatch == nil {
		fmt.Fprintf(w, "Sample: %s\nError: %s\n\n", p.Sample, p.Error)
		return
	}
	fmt.Fprintf(w, "Sample: %s | %d estimates, %d failed | %dms\n", p.Sample, len(p.Results), len(p.Failures), p.ElapsedMs)
	if p.ReadingID != "" {
		fmt.Fprintf(w, "Reading: %s\n", p.ReadingID)
	}
	fmt.Fprintln(w)
	for _, r := range p.Results {
		fmt.Fprintf(w, "  %-16s %s\n", r.ElementName, formatValue(r.ElementValue, places))
	}
	for _, f := range p.Failures {
		fmt.Fprintf(w, "  %-16s failed (%s): %s\n", f.ElementName, f.Kind, utils.Truncate(f.Reason, 120))
	}
	fmt.Fprintln(w)
}

func writePredictionCompact(w io.Writer, p Prediction, places int) {
	if p.Error != "" || p.PredictionBatch == nil {
		fmt.Fprintf(w, "%s\terror=%q\n", p.Sample, p.Error)
		return
	}
	fields := make([]string, 0, len(p.Results)+len(p.Failures)+1)
	fields = append(fields, p.Sample)
	for _, r := range p.Results {
		fields = append(fields, r.ElementName+"="+formatValue(r.ElementValue, places))
	}
	for _, f := range p.Failures {
		fields = append(fields, f.ElementName+"=!"+string(f.Kind))
	}
	fmt.Fprintln(w, strings.Join(fields, "\t"))
}

// WriteModels writes the model listing to w.
func WriteModels(w io.Writer, infos []registry.ModelInfo, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, infos)
	case OutputCompact:
		for _, m := range infos {
			fmt.Fprintf(w, "%s\t%s\t%t\n", m.Name, m.Format, m.Loaded)
		}
		return nil
	default:
		fmt.Fprintf(w, "%d model(s)\n\n", len(infos))
		for _, m := range infos {
			state := "not loaded"
			if m.Loaded {
				state = "loaded"
			}
			if m.LastError != "" {
				state = "error: " + utils.Truncate(m.LastError, 80)
			}
			fmt.Fprintf(w, "  %-16s %-6s %10d bytes  %-12s  %s\n", m.Name, m.Format, m.SizeBytes, m.Fingerprint, state)
		}
		return nil
	}
}

// WriteReadings writes stored readings to w.
func WriteReadings(w io.Writer, readings []*models.Reading, format OutputFormat, places int) error {
	switch format {
	case OutputJSON:
		out := make([]*models.Reading, len(readings))
		for i, r := range readings {
			c := *r
			c.Results = RoundBatch(&models.PredictionBatch{Results: r.Results}, places).Results
			out[i] = &c
		}
		return writeJSON(w, out)
	default:
		for _, r := range readings {
			preds := Prediction{
				Sample:          r.CreatedAt.Format("2006-01-02 15:04:05"),
				ReadingID:       r.ID,
				PredictionBatch: &models.PredictionBatch{Results: r.Results, Failures: r.Failures},
			}
			if r.Source != "" {
				preds.Sample += " " + r.Source
			}
			if format == OutputCompact {
				preds.Sample = r.ID
				writePredictionCompact(w, preds, places)
				continue
			}
			writePredictionText(w, preds, places)
		}
		return nil
	}
}

// WriteStatus writes a status report to w.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "models:             %d   # artifacts in the model directory\n", status.Models)
	fmt.Fprintf(w, "loaded_models:      %d   # models loaded so far\n", status.LoadedModels)
	if status.Readings != nil {
		fmt.Fprintf(w, "readings:           %d   # stored readings\n", *status.Readings)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # models + history on disk\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "models_directory:   %s\n", c.ModelsDirectory)
		fmt.Fprintf(w, "watch_models:       %t\n", c.WatchModels)
		fmt.Fprintf(w, "legacy_windowing:   %t\n", c.LegacyWindowing)
		fmt.Fprintf(w, "eval_timeout:       %s\n", c.EvalTimeout)
		fmt.Fprintf(w, "max_parallel:       %d\n", c.MaxParallel)
		fmt.Fprintf(w, "history_enabled:    %t\n", c.HistoryEnabled)
		if c.HistoryDriver != "" {
			fmt.Fprintf(w, "history_driver:     %s\n", c.HistoryDriver)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
