package models

import (
	"testing"
)

func TestInferenceRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *InferenceRequest
		wantErr bool
	}{
		{"empty reflectance", &InferenceRequest{}, true},
		{"short reading is left to the engine", &InferenceRequest{Reflectance: []float64{0.5}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHistoryQuery_Normalize(t *testing.T) {
	tests := []struct {
		name      string
		in        HistoryQuery
		wantLimit int
		wantOff   int
	}{
		{"defaults", HistoryQuery{}, 20, 0},
		{"caps limit at 100", HistoryQuery{Limit: 500}, 100, 0},
		{"negative offset", HistoryQuery{Offset: -3, Limit: 5}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.in
			q.Normalize()
			if q.Limit != tt.wantLimit || q.Offset != tt.wantOff {
				t.Errorf("Normalize() = %+v, want limit=%d offset=%d", q, tt.wantLimit, tt.wantOff)
			}
		})
	}
}

func TestPredictionBatch_Value(t *testing.T) {
	b := &PredictionBatch{Results: []PredictionResult{{"N", 1.5}, {"P", -0.2}}}
	if v, ok := b.Value("P"); !ok || v != -0.2 {
		t.Errorf("Value(P) = %v, %v", v, ok)
	}
	if _, ok := b.Value("K"); ok {
		t.Error("Value(K) should be absent")
	}
}
