package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/soilsense/internal/models"
)

// readJSON accepts one request object, an array of them, one bare array of
// values, or an array of arrays.
func (r *Reader) readJSON(content []byte) ([]Sample, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return nil, nil
	}
	if content[0] == '{' {
		var req models.InferenceRequest
		if err := json.Unmarshal(content, &req); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		return []Sample{{Label: req.Source, Row: 1, Reflectance: req.Reflectance}}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var values []float64
	if err := json.Unmarshal(content, &values); err == nil {
		return []Sample{{Row: 1, Reflectance: values}}, nil
	}

	samples := make([]Sample, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		s := Sample{Row: i + 1}
		var err error
		if len(item) > 0 && item[0] == '{' {
			var req models.InferenceRequest
			err = json.Unmarshal(item, &req)
			s.Label, s.Reflectance = req.Source, req.Reflectance
		} else {
			err = json.Unmarshal(item, &s.Reflectance)
		}
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}
