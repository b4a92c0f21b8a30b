package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// repoPG persists grants in PostgreSQL. The uniqueness invariant is
// enforced by a partial unique index on (patient_id, organization_id)
// WHERE status IN ('pending','active'), and every status transition is a
// single conditional UPDATE keyed on the expected prior status.
type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG creates a PostgreSQL-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const grantCols = `id, patient_id, organization_id, requesting_practitioner_id,
	can_view_medical_history, can_view_prescriptions, can_create_encounters, can_view_audit_logs,
	status, time_window_hours, requested_at, granted_at, expires_at,
	approved_by, revoked_by, ip_address, user_agent, location, deleted_at`

// CreateIfAbsent implements Repository. The insert races against the
// partial unique index: ON CONFLICT DO NOTHING plus a follow-up read keeps
// the operation atomic without an advisory lock. If the blocking grant
// turns terminal between the insert miss and the read, the pair's slot is
// free again, so the insert is retried rather than surfacing a spurious
// not-found.
func (r *repoPG) CreateIfAbsent(ctx context.Context, g *Grant) (*Grant, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO authorization_grant (
				id, patient_id, organization_id, requesting_practitioner_id,
				can_view_medical_history, can_view_prescriptions, can_create_encounters, can_view_audit_logs,
				status, time_window_hours, requested_at, ip_address, user_agent, location
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (patient_id, organization_id) WHERE status IN ('pending','active')
			DO NOTHING`,
			g.ID, g.PatientID, g.OrganizationID, g.RequestingPractitionerID,
			g.Scope.CanViewMedicalHistory, g.Scope.CanViewPrescriptions, g.Scope.CanCreateEncounters, g.Scope.CanViewAuditLogs,
			g.Status, g.TimeWindowHours, g.RequestedAt, g.Metadata.IPAddress, g.Metadata.UserAgent, g.Metadata.Location,
		)
		if err != nil {
			return nil, false, fmt.Errorf("grant create: %w", err)
		}

		if tag.RowsAffected() == 1 {
			stored, err := r.GetByID(ctx, g.ID)
			if err != nil {
				return nil, false, fmt.Errorf("grant create: read back: %w", err)
			}
			return stored, true, nil
		}

		existing, err := r.findOpenByPair(ctx, g.PatientID, g.OrganizationID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("grant create: find existing: %w", err)
		}
		return existing, false, nil
	}

	return nil, false, fmt.Errorf("grant create: could not settle open grant for pair")
}

func (r *repoPG) findOpenByPair(ctx context.Context, patientID, organizationID uuid.UUID) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+grantCols+`
		FROM authorization_grant
		WHERE patient_id = $1 AND organization_id = $2
		  AND status IN ('pending','active') AND deleted_at IS NULL`,
		patientID, organizationID,
	)
	return scanGrant(row)
}

// GetByID implements Repository.
func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+grantCols+`
		FROM authorization_grant
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanGrant(row)
}

// ListByPatient implements Repository.
func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM authorization_grant
		WHERE patient_id = $1 AND deleted_at IS NULL`,
		patientID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("grant list: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+grantCols+`
		FROM authorization_grant
		WHERE patient_id = $1 AND deleted_at IS NULL
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("grant list: %w", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("grant list: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, total, rows.Err()
}

// Transition implements Repository.
func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, from Status, update Update) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE authorization_grant SET
			status = $3,
			granted_at = COALESCE($4, granted_at),
			expires_at = COALESCE($5, expires_at),
			approved_by = COALESCE($6, approved_by),
			revoked_by = COALESCE($7, revoked_by)
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
		RETURNING `+grantCols,
		id, from, update.Status, update.GrantedAt, update.ExpiresAt, update.ApprovedBy, update.RevokedBy,
	)

	g, err := scanGrant(row)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// No row matched: distinguish a missing grant from a status conflict.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidState
}

// SweepExpired implements Repository.
func (r *repoPG) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE authorization_grant
		SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1 AND deleted_at IS NULL`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("grant sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SoftDelete implements Repository.
func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE authorization_grant SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("grant soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(
		&g.ID, &g.PatientID, &g.OrganizationID, &g.RequestingPractitionerID,
		&g.Scope.CanViewMedicalHistory, &g.Scope.CanViewPrescriptions, &g.Scope.CanCreateEncounters, &g.Scope.CanViewAuditLogs,
		&g.Status, &g.TimeWindowHours, &g.RequestedAt, &g.GrantedAt, &g.ExpiresAt,
		&g.ApprovedBy, &g.RevokedBy, &g.Metadata.IPAddress, &g.Metadata.UserAgent, &g.Metadata.Location, &g.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	return &g, nil
}
