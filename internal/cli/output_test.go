package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/soilsense/internal/models"
	"github.com/hyperjump/soilsense/internal/registry"
)

func sampleBatch() *models.PredictionBatch {
	return &models.PredictionBatch{
		Results: []models.PredictionResult{
			{ElementName: "N", ElementValue: 0.123456},
			{ElementName: "P", ElementValue: 12.5},
		},
		Failures: []models.PredictionFailure{
			{ElementName: "K", Kind: models.FailureEvaluation, Reason: "tensor shape mismatch"},
		},
		ElapsedMs: 7,
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"text", "compact", "json", "JSON"} {
		if _, err := ParseOutputFormat(s); err != nil {
			t.Errorf("ParseOutputFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		v      float64
		places int
		want   float64
	}{
		{0.123456, 4, 0.1235},
		{5.45, 1, 5.5},
		{-5.45, 1, -5.5},
		{12.5, 0, 13},
		{2, 3, 2},
	}
	for _, tt := range tests {
		if got := Round(tt.v, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.v, tt.places, got, tt.want)
		}
	}
}

func TestRoundBatch_doesNotMutateInput(t *testing.T) {
	b := sampleBatch()
	out := RoundBatch(b, 2)
	if out.Results[0].ElementValue != 0.12 {
		t.Errorf("rounded N = %v", out.Results[0].ElementValue)
	}
	if b.Results[0].ElementValue != 0.123456 {
		t.Error("input batch was modified")
	}
	if RoundBatch(nil, 2) != nil {
		t.Error("nil batch should stay nil")
	}
}

func TestWritePredictions_JSON(t *testing.T) {
	var buf bytes.Buffer
	preds := []Prediction{
		{Sample: "S-01", PredictionBatch: sampleBatch()},
		{Sample: "row 2", Error: "invalid input: reading has 10 values, want 154"},
	}
	if err := WritePredictions(&buf, preds, OutputJSON, 3); err != nil {
		t.Fatal(err)
	}
	var decoded []struct {
		Sample   string                     `json:"sample"`
		Results  []models.PredictionResult  `json:"results"`
		Failures []models.PredictionFailure `json:"failures"`
		Error    string                     `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 || decoded[0].Sample != "S-01" {
		t.Fatalf("decoded = %+v", decoded)
	}
	if decoded[0].Results[0].ElementValue != 0.123 {
		t.Errorf("N = %v, want 0.123", decoded[0].Results[0].ElementValue)
	}
	if len(decoded[0].Failures) != 1 || decoded[0].Failures[0].Kind != models.FailureEvaluation {
		t.Errorf("failures = %+v", decoded[0].Failures)
	}
	if decoded[1].Error == "" || decoded[1].Results != nil {
		t.Errorf("error sample = %+v", decoded[1])
	}
}

func TestWritePredictions_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePredictions(&buf, []Prediction{{Sample: "S-01", PredictionBatch: sampleBatch()}}, OutputText, 4); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Sample: S-01", "2 estimates, 1 failed", "0.1235", "12.5000", "failed (evaluation): tensor shape mismatch"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWritePredictions_compact(t *testing.T) {
	var buf bytes.Buffer
	preds := []Prediction{
		{Sample: "S-01", PredictionBatch: sampleBatch()},
		{Sample: "S-02", Error: "boom"},
	}
	if err := WritePredictions(&buf, preds, OutputCompact, 2); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "S-01\tN=0.12\tP=12.50\tK=!evaluation" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if lines[1] != "S-02\terror=\"boom\"" {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestWriteModels(t *testing.T) {
	infos := []registry.ModelInfo{
		{Name: "K", Format: "onnx", SizeBytes: 2048, Fingerprint: "abcdef012345", LastError: "corrupt"},
		{Name: "N", Format: "json", SizeBytes: 100, Loaded: true},
	}
	var buf bytes.Buffer
	if err := WriteModels(&buf, infos, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2 model(s)") || !strings.Contains(out, "error: corrupt") || !strings.Contains(out, "loaded") {
		t.Errorf("unexpected text output:\n%s", out)
	}

	buf.Reset()
	if err := WriteModels(&buf, infos, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []registry.ModelInfo
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 2 {
		t.Errorf("json output: %v, %v", decoded, err)
	}
}

func TestWriteReadings(t *testing.T) {
	readings := []*models.Reading{{
		ID:        "r-1",
		Source:    "probe-7",
		Results:   []models.PredictionResult{{ElementName: "N", ElementValue: 1.23456}},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := WriteReadings(&buf, readings, OutputCompact, 2); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "r-1\tN=1.23" {
		t.Errorf("compact = %q", got)
	}

	buf.Reset()
	if err := WriteReadings(&buf, readings, OutputText, 2); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2024-05-01 12:00:00 probe-7") || !strings.Contains(buf.String(), "Reading: r-1") {
		t.Errorf("text = %s", buf.String())
	}

	buf.Reset()
	if err := WriteReadings(&buf, readings, OutputJSON, 2); err != nil {
		t.Fatal(err)
	}
	var decoded []models.Reading
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[0].Results[0].ElementValue != 1.23 || readings[0].Results[0].ElementValue != 1.23456 {
		t.Errorf("json rounding: %+v", decoded[0].Results)
	}
}

func TestWriteStatus(t *testing.T) {
	n := int64(3)
	status := &models.StatusResponse{
		Models:       2,
		LoadedModels: 1,
		Readings:     &n,
		Config:       &models.StatusConfig{ModelsDirectory: "/srv/models", EvalTimeout: "10s", HistoryDriver: "sqlite3"},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"models:             2", "readings:           3", "models_directory:   /srv/models", "history_driver:     sqlite3"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, buf.String())
		}
	}
}
