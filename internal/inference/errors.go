package inference

import "errors"

var (
	// ErrInvalidInput marks a reading rejected before any model ran: wrong length or
	// reflectance outside the absorbance domain.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelEvaluation marks a model that failed while scoring. It only appears in
	// failure reasons, never as a Predict error.
	ErrModelEvaluation = errors.New("model evaluation failed")
	// ErrTimeout marks a model that exceeded the evaluation timeout.
	ErrTimeout = errors.New("model evaluation timed out")
)
