package models

// PredictionResult is one nutrient estimate.
type PredictionResult struct {
	ElementName  string  `json:"elementName"`
	ElementValue float64 `json:"elementValue"`
}

// FailureKind classifies why a nutrient model produced no estimate.
type FailureKind string

const (
	// FailureLoad means the model artifact could not be loaded.
	FailureLoad FailureKind = "load"
	// FailureEvaluation means the loaded model failed while scoring.
	FailureEvaluation FailureKind = "evaluation"
	// FailureTimeout means loading or scoring exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
)

// PredictionFailure records a model that was skipped for one reading.
type PredictionFailure struct {
	ElementName string      `json:"elementName"`
	Kind        FailureKind `json:"kind"`
	Reason      string      `json:"failureReason"`
}

// PredictionBatch is the outcome of one inference call. Results and Failures
// are each sorted by element name.
type PredictionBatch struct {
	Results   []PredictionResult  `json:"results"`
	Failures  []PredictionFailure `json:"failures"`
	ElapsedMs int64               `json:"elapsed_ms"`
}

// Value returns the estimate for name, if present.
func (b *PredictionBatch) Value(name string) (float64, bool) {
	for _, r := range b.Results {
		if r.ElementName == name {
			return r.ElementValue, true
		}
	}
	return 0, false
}
