package record

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/healthqr/healthqr/internal/platform/crypto"
)

// InMemoryRepo is a thread-safe in-memory Repository for development and
// tests.
type InMemoryRepo struct {
	mu        sync.RWMutex
	byPatient map[uuid.UUID]*Record
}

// NewInMemoryRepo creates an empty in-memory repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{byPatient: make(map[uuid.UUID]*Record)}
}

// Save implements Repository.
func (r *InMemoryRepo) Save(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPatient[rec.PatientID] = copyRecord(rec)
	return nil
}

// GetByPatient implements Repository.
func (r *InMemoryRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byPatient[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Fields = make(map[string]crypto.EncryptedField, len(rec.Fields))
	for name, field := range rec.Fields {
		f := field
		f.Ciphertext = append([]byte(nil), field.Ciphertext...)
		f.IV = append([]byte(nil), field.IV...)
		f.AuthTag = append([]byte(nil), field.AuthTag...)
		cp.Fields[name] = f
	}
	return &cp
}
