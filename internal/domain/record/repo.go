package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates no record exists for the requested patient.
var ErrNotFound = errors.New("medical record not found")

// Repository persists encrypted medical records, one per patient.
type Repository interface {
	// Save inserts or replaces the patient's record.
	Save(ctx context.Context, rec *Record) error

	// GetByPatient returns the patient's record, or ErrNotFound.
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Record, error)
}
