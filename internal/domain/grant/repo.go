package grant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no grant exists with the requested ID.
	ErrNotFound = errors.New("authorization grant not found")

	// ErrInvalidState indicates a transition was attempted from a status
	// that no longer permits it. Surfaced as a conflict; the caller should
	// re-fetch the current grant.
	ErrInvalidState = errors.New("invalid grant state for transition")
)

// Update describes a status transition's effects. Fields left nil are not
// touched.
type Update struct {
	Status     Status
	GrantedAt  *time.Time
	ExpiresAt  *time.Time
	ApprovedBy *string
	RevokedBy  *string
}

// Repository is the persistence collaborator for authorization grants.
// Implementations must provide the two atomicity properties the engine's
// correctness rests on:
//
//  1. CreateIfAbsent is an atomic create-if-no-open-grant-exists for a
//     (patient, organization) pair, so concurrent scans cannot create two
//     open grants for the same pair.
//  2. Transition is a single conditional update keyed on the expected
//     prior status, rejecting with ErrInvalidState if the stored status
//     has already changed.
type Repository interface {
	// CreateIfAbsent inserts g unless an open (pending or active) grant
	// already exists for the same (patient, organization) pair. Returns
	// the stored grant and true when g was inserted, or the existing open
	// grant and false when it was not.
	CreateIfAbsent(ctx context.Context, g *Grant) (*Grant, bool, error)

	// GetByID returns the grant with the given ID, or ErrNotFound.
	// Soft-deleted grants are not returned.
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)

	// ListByPatient returns a patient's grants, newest first, with the
	// total count before pagination.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error)

	// Transition atomically applies update to the grant iff its stored
	// status equals from. Returns the updated grant, ErrNotFound, or
	// ErrInvalidState when the stored status differs from from.
	Transition(ctx context.Context, id uuid.UUID, from Status, update Update) (*Grant, error)

	// SweepExpired bulk-transitions active grants whose expiry has passed
	// to expired, returning how many were transitioned. Housekeeping only;
	// access checks never depend on it having run.
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// SoftDelete marks a grant deleted per retention policy. The row is
	// kept for audit references.
	SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error
}
