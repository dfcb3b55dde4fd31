package models

import "time"

// Reading is a stored inference: the raw reflectance and what the models said.
type Reading struct {
	ID          string              `json:"id" db:"id"`
	Source      string              `json:"source,omitempty" db:"source"`
	Reflectance []float64           `json:"reflectance" db:"reflectance"`
	Results     []PredictionResult  `json:"results" db:"-"`
	Failures    []PredictionFailure `json:"failures,omitempty" db:"-"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// NewReading builds a Reading from a request and its batch. The reflectance is copied.
func NewReading(id string, req *InferenceRequest, batch *PredictionBatch) *Reading {
	r := &Reading{
		ID:          id,
		Source:      req.Source,
		Reflectance: append([]float64(nil), req.Reflectance...),
	}
	if batch != nil {
		r.Results = append([]PredictionResult(nil), batch.Results...)
		r.Failures = append([]PredictionFailure(nil), batch.Failures...)
	}
	return r
}
