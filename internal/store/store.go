package store

import (
	"context"
	"errors"

	"negosync/internal/models"
)

// ErrNotFound is returned when no negotiation has the requested id.
var ErrNotFound = errors.New("negotiation not found")

// Repository loads and saves negotiation records.
type Repository interface {
	Get(ctx context.Context, id string) (*models.Negotiation, error)
	List(ctx context.Context) ([]*models.Negotiation, error)
	Save(ctx context.Context, n *models.Negotiation) error
	Delete(ctx context.Context, id string) error
}
