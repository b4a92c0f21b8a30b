package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates no patient matches the requested ID or identifier.
var ErrNotFound = errors.New("patient not found")

// Repository persists the patient directory.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByDigitalIdentifier(ctx context.Context, digitalIdentifier string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
