package patient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe in-memory Repository for development and
// tests.
type InMemoryRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*Patient
	byDID   map[string]uuid.UUID
	ordered []uuid.UUID
}

// NewInMemoryRepo creates an empty in-memory repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		byID:  make(map[uuid.UUID]*Patient),
		byDID: make(map[string]uuid.UUID),
	}
}

// Create implements Repository.
func (r *InMemoryRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *p
	r.byID[p.ID] = &cp
	r.byDID[p.DigitalIdentifier] = p.ID
	r.ordered = append(r.ordered, p.ID)
	return nil
}

// GetByID implements Repository.
func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByDigitalIdentifier implements Repository.
func (r *InMemoryRepo) GetByDigitalIdentifier(_ context.Context, digitalIdentifier string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byDID[digitalIdentifier]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// List implements Repository. Results are in insertion order.
func (r *InMemoryRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.ordered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	out := make([]*Patient, 0, end-offset)
	for _, id := range r.ordered[offset:end] {
		cp := *r.byID[id]
		out = append(out, &cp)
	}
	return out, total, nil
}
