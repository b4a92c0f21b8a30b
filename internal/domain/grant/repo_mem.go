package grant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe in-memory Repository. It is suitable for
// development, testing, and single-node deployments; the atomicity the
// engine requires comes from the repository mutex.
type InMemoryRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*Grant
	ordered []uuid.UUID // insertion order, for stable listing
}

// NewInMemoryRepo creates an empty in-memory repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{byID: make(map[uuid.UUID]*Grant)}
}

// CreateIfAbsent implements Repository.
func (r *InMemoryRepo) CreateIfAbsent(_ context.Context, g *Grant) (*Grant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.ordered {
		existing := r.byID[id]
		if existing.DeletedAt != nil {
			continue
		}
		if existing.PatientID == g.PatientID && existing.OrganizationID == g.OrganizationID && !existing.Status.Terminal() {
			return copyGrant(existing), false, nil
		}
	}

	cp := copyGrant(g)
	r.byID[cp.ID] = cp
	r.ordered = append(r.ordered, cp.ID)
	return copyGrant(cp), true, nil
}

// GetByID implements Repository.
func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[id]
	if !ok || g.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

// ListByPatient implements Repository.
func (r *InMemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Newest first: walk insertion order backwards.
	var matching []*Grant
	for i := len(r.ordered) - 1; i >= 0; i-- {
		g := r.byID[r.ordered[i]]
		if g.DeletedAt != nil {
			continue
		}
		if g.PatientID == patientID {
			matching = append(matching, g)
		}
	}

	total := len(matching)
	if offset > len(matching) {
		offset = len(matching)
	}
	matching = matching[offset:]
	if limit > 0 && limit < len(matching) {
		matching = matching[:limit]
	}

	result := make([]*Grant, len(matching))
	for i, g := range matching {
		result[i] = copyGrant(g)
	}
	return result, total, nil
}

// Transition implements Repository.
func (r *InMemoryRepo) Transition(_ context.Context, id uuid.UUID, from Status, update Update) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[id]
	if !ok || g.DeletedAt != nil {
		return nil, ErrNotFound
	}
	if g.Status != from {
		return nil, ErrInvalidState
	}

	g.Status = update.Status
	if update.GrantedAt != nil {
		g.GrantedAt = update.GrantedAt
	}
	if update.ExpiresAt != nil {
		g.ExpiresAt = update.ExpiresAt
	}
	if update.ApprovedBy != nil {
		g.ApprovedBy = update.ApprovedBy
	}
	if update.RevokedBy != nil {
		g.RevokedBy = update.RevokedBy
	}
	return copyGrant(g), nil
}

// SweepExpired implements Repository.
func (r *InMemoryRepo) SweepExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, g := range r.byID {
		if g.DeletedAt != nil || g.Status != StatusActive {
			continue
		}
		if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

// SoftDelete implements Repository.
func (r *InMemoryRepo) SoftDelete(_ context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[id]
	if !ok || g.DeletedAt != nil {
		return ErrNotFound
	}
	t := now
	g.DeletedAt = &t
	return nil
}

// copyGrant returns a deep copy so callers cannot mutate the store's copy
// through shared pointers.
func copyGrant(g *Grant) *Grant {
	cp := *g
	if g.RequestingPractitionerID != nil {
		v := *g.RequestingPractitionerID
		cp.RequestingPractitionerID = &v
	}
	if g.GrantedAt != nil {
		t := *g.GrantedAt
		cp.GrantedAt = &t
	}
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		cp.ExpiresAt = &t
	}
	if g.ApprovedBy != nil {
		v := *g.ApprovedBy
		cp.ApprovedBy = &v
	}
	if g.RevokedBy != nil {
		v := *g.RevokedBy
		cp.RevokedBy = &v
	}
	if g.Metadata.Location != nil {
		v := *g.Metadata.Location
		cp.Metadata.Location = &v
	}
	if g.DeletedAt != nil {
		t := *g.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
