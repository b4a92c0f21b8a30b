package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/platform/clock"
	"github.com/healthqr/healthqr/internal/platform/qr"
)

// DefaultTimeWindowHours applies when a request names no explicit window.
const DefaultTimeWindowHours = 24

// PatientDirectory resolves the opaque digital identifier carried in a QR
// payload to a patient ID. Implemented by the excluded persistence/UI
// layer.
type PatientDirectory interface {
	ResolveDigitalIdentifier(ctx context.Context, digitalIdentifier string) (uuid.UUID, error)
}

// CreateRequestInput carries everything a practitioner's scan supplies.
type CreateRequestInput struct {
	PatientID                uuid.UUID
	OrganizationID           uuid.UUID
	RequestingPractitionerID *uuid.UUID
	// Scope defaults to DefaultScope when nil.
	Scope           *AccessScope
	TimeWindowHours int
	Metadata        RequestMetadata
}

// Engine drives the authorization grant state machine. The persisted grant
// is the only shared mutable resource; all atomicity is delegated to the
// Repository, so the engine itself holds no locks.
type Engine struct {
	repo     Repository
	patients PatientDirectory
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewEngine creates a grant engine. patients may be nil if the QR-driven
// entry point is not used.
func NewEngine(repo Repository, patients PatientDirectory, clk clock.Clock, logger zerolog.Logger) *Engine {
	return &Engine{repo: repo, patients: patients, clock: clk, logger: logger}
}

// CreateRequest creates a pending grant for (patient, organization), or
// returns the existing open grant for the pair unchanged if one is still
// within its validity window (idempotent-by-pair). A stale active grant
// found past its expiry is lazily transitioned to expired first.
func (e *Engine) CreateRequest(ctx context.Context, in CreateRequestInput) (*Grant, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("create request: patient id is required")
	}
	if in.OrganizationID == uuid.Nil {
		return nil, fmt.Errorf("create request: organization id is required")
	}

	scope := DefaultScope()
	if in.Scope != nil {
		scope = *in.Scope
	}
	window := in.TimeWindowHours
	if window <= 0 {
		window = DefaultTimeWindowHours
	}

	// A stale active grant blocks the pair's uniqueness slot; expire it and
	// retry the insert once.
	for attempt := 0; attempt < 2; attempt++ {
		g := &Grant{
			ID:                       uuid.New(),
			PatientID:                in.PatientID,
			OrganizationID:           in.OrganizationID,
			RequestingPractitionerID: in.RequestingPractitionerID,
			Scope:                    scope,
			Status:                   StatusPending,
			TimeWindowHours:          window,
			RequestedAt:              e.clock.Now(),
			Metadata:                 in.Metadata,
		}

		stored, created, err := e.repo.CreateIfAbsent(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if created {
			e.logger.Info().
				Str("grant_id", stored.ID.String()).
				Str("patient_id", stored.PatientID.String()).
				Str("organization_id", stored.OrganizationID.String()).
				Msg("authorization request created")
			return stored, nil
		}

		if e.withinValidityWindow(stored) {
			return stored, nil
		}

		if _, err := e.repo.Transition(ctx, stored.ID, StatusActive, Update{Status: StatusExpired}); err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
				// Someone else already moved it; retry the insert.
				continue
			}
			return nil, fmt.Errorf("create request: expire stale grant: %w", err)
		}
	}

	return nil, fmt.Errorf("create request: could not settle open grant for pair")
}

// CreateRequestFromScan is the QR-driven entry point: it resolves the
// scanned payload's digital identifier through the patient directory and
// creates (or returns) the grant for the requesting organization. The
// payload must already have passed qr.Codec.Decode.
func (e *Engine) CreateRequestFromScan(ctx context.Context, payload *qr.Payload, in CreateRequestInput) (*Grant, error) {
	if payload == nil {
		return nil, fmt.Errorf("create request from scan: payload is required")
	}
	if e.patients == nil {
		return nil, fmt.Errorf("create request from scan: no patient directory configured")
	}

	patientID, err := e.patients.ResolveDigitalIdentifier(ctx, payload.DigitalIdentifier)
	if err != nil {
		return nil, fmt.Errorf("create request from scan: resolve patient: %w", err)
	}
	in.PatientID = patientID
	return e.CreateRequest(ctx, in)
}

// Approve transitions a pending grant to active, setting grantedAt to now
// and expiresAt to now plus the grant's time window. Any other starting
// status is ErrInvalidState.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID, approvedBy string) (*Grant, error) {
	g, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}

	now := e.clock.Now()
	expiresAt := now.Add(time.Duration(g.TimeWindowHours) * time.Hour)

	updated, err := e.repo.Transition(ctx, id, StatusPending, Update{
		Status:     StatusActive,
		GrantedAt:  &now,
		ExpiresAt:  &expiresAt,
		ApprovedBy: &approvedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}

	e.logger.Info().
		Str("grant_id", id.String()).
		Time("expires_at", expiresAt).
		Msg("authorization grant approved")
	return updated, nil
}

// Deny transitions a pending grant to denied.
func (e *Engine) Deny(ctx context.Context, id uuid.UUID) (*Grant, error) {
	updated, err := e.repo.Transition(ctx, id, StatusPending, Update{Status: StatusDenied})
	if err != nil {
		return nil, fmt.Errorf("deny: %w", err)
	}

	e.logger.Info().Str("grant_id", id.String()).Msg("authorization grant denied")
	return updated, nil
}

// Revoke transitions an active grant to revoked, effective immediately for
// any in-flight access check. Revoking a grant that is not active is
// ErrInvalidState; a revoke racing an approve fails until the approve is
// durably visible, then succeeds.
func (e *Engine) Revoke(ctx context.Context, id uuid.UUID, revokedBy string) (*Grant, error) {
	updated, err := e.repo.Transition(ctx, id, StatusActive, Update{
		Status:    StatusRevoked,
		RevokedBy: &revokedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("revoke: %w", err)
	}

	e.logger.Info().Str("grant_id", id.String()).Str("revoked_by", revokedBy).Msg("authorization grant revoked")
	return updated, nil
}

// CheckAccess is the authoritative real-time gate: true iff the grant is
// active, unexpired as of now, and its scope includes the required flag.
// Expiry is recomputed here, so an active grant past its expiry is denied
// even before the background sweep transitions its stored status. The
// stored status is advisory for reporting only.
func (e *Engine) CheckAccess(ctx context.Context, id uuid.UUID, flag ScopeFlag) (bool, error) {
	g, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check access: %w", err)
	}

	if g.Status != StatusActive {
		return false, nil
	}
	if g.ExpiresAt == nil || !g.ExpiresAt.After(e.clock.Now()) {
		return false, nil
	}
	return g.Scope.Allows(flag), nil
}

// Get returns a grant by ID.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Grant, error) {
	return e.repo.GetByID(ctx, id)
}

// ListByPatient returns a patient's grants for the approval surface.
func (e *Engine) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return e.repo.ListByPatient(ctx, patientID, limit, offset)
}

// SweepExpired bulk-transitions active grants past expiry to expired.
// Best-effort housekeeping; CheckAccess never depends on it.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	count, err := e.repo.SweepExpired(ctx, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	if count > 0 {
		e.logger.Info().Int("count", count).Msg("expired authorization grants swept")
	}
	return count, nil
}

// withinValidityWindow reports whether an existing open grant should be
// returned as-is by CreateRequest. Pending grants wait for the patient
// indefinitely; active grants are valid until their expiry.
func (e *Engine) withinValidityWindow(g *Grant) bool {
	switch g.Status {
	case StatusPending:
		return true
	case StatusActive:
		return g.ExpiresAt != nil && g.ExpiresAt.After(e.clock.Now())
	}
	return false
}
