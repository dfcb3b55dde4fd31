package models

import "fmt"

// InferenceRequest is the body of an inference call.
type InferenceRequest struct {
	Reflectance []float64 `json:"reflectance"`
	// Source optionally labels the reading (device or sample ID) for history.
	Source string `json:"source,omitempty"`
}

// Validate checks the request carries a reading. Length and value checks are
// left to the inference engine.
func (r *InferenceRequest) Validate() error {
	if len(r.Reflectance) == 0 {
		return fmt.Errorf("reflectance cannot be empty")
	}
	return nil
}

// InferenceResponse is the v1 API response for one reading.
type InferenceResponse struct {
	ReadingID string `json:"reading_id,omitempty"`
	*PredictionBatch
}

// LegacyOutput is the envelope of the legacy ProcessData endpoint.
type LegacyOutput struct {
	IsSucceed    bool               `json:"isSucceed"`
	Data         []PredictionResult `json:"data"`
	ErrorMessage string             `json:"errorMessage"`
}

// HistoryQuery pages through stored readings.
type HistoryQuery struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// Normalize applies the default page size and caps the limit at 100.
func (q *HistoryQuery) Normalize() {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
}
