// Package storage persists served readings and their predictions.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/soilsense/internal/models"
)

// ErrNotFound is returned when no reading has the requested ID.
var ErrNotFound = errors.New("reading not found")

// Storage defines reading history operations.
type Storage interface {
	SaveReading(ctx context.Context, r *models.Reading) error
	GetReading(ctx context.Context, id string) (*models.Reading, error)
	ListReadings(ctx context.Context, q models.HistoryQuery) ([]*models.Reading, error)
	DeleteReading(ctx context.Context, id string) error
	CountReadings(ctx context.Context) (int64, error)

	Close() error
}
