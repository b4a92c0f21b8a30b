package grant

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an authorization grant.
//
// Transitions: pending -> {active, denied}; active -> {expired, revoked}.
// Denied, expired, and revoked are terminal; a new grant must be created
// for any subsequent request.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDenied  Status = "denied"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Terminal reports whether a grant in this status can never transition
// again. Pending and active grants are the only open (non-terminal) ones;
// the uniqueness invariant is defined over them.
func (s Status) Terminal() bool {
	switch s {
	case StatusDenied, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// ScopeFlag names one of the four access scope booleans.
type ScopeFlag string

const (
	ScopeViewMedicalHistory ScopeFlag = "canViewMedicalHistory"
	ScopeViewPrescriptions  ScopeFlag = "canViewPrescriptions"
	ScopeCreateEncounters   ScopeFlag = "canCreateEncounters"
	ScopeViewAuditLogs      ScopeFlag = "canViewAuditLogs"
)

// AccessScope is the set of capabilities a grant confers.
type AccessScope struct {
	CanViewMedicalHistory bool `db:"can_view_medical_history" json:"canViewMedicalHistory"`
	CanViewPrescriptions  bool `db:"can_view_prescriptions" json:"canViewPrescriptions"`
	CanCreateEncounters   bool `db:"can_create_encounters" json:"canCreateEncounters"`
	CanViewAuditLogs      bool `db:"can_view_audit_logs" json:"canViewAuditLogs"`
}

// DefaultScope is the least-privilege default applied when a request names
// no explicit scope: read access to history and prescriptions, nothing
// else. The two false flags are never upgraded silently.
func DefaultScope() AccessScope {
	return AccessScope{
		CanViewMedicalHistory: true,
		CanViewPrescriptions:  true,
		CanCreateEncounters:   false,
		CanViewAuditLogs:      false,
	}
}

// Allows reports whether the scope includes the named capability. Unknown
// flags are denied.
func (s AccessScope) Allows(flag ScopeFlag) bool {
	switch flag {
	case ScopeViewMedicalHistory:
		return s.CanViewMedicalHistory
	case ScopeViewPrescriptions:
		return s.CanViewPrescriptions
	case ScopeCreateEncounters:
		return s.CanCreateEncounters
	case ScopeViewAuditLogs:
		return s.CanViewAuditLogs
	}
	return false
}

// RequestMetadata captures where a request came from, for the patient's
// approval screen and the audit trail.
type RequestMetadata struct {
	IPAddress string  `db:"ip_address" json:"ipAddress"`
	UserAgent string  `db:"user_agent" json:"userAgent"`
	Location  *string `db:"location" json:"location,omitempty"`
}

// Grant is a time-boxed, scope-limited permission record linking one
// patient and one organization. It is owned by the patient and mutated
// only by the Engine. Retention soft-deletes; grants referenced by audit
// records are never hard-deleted.
type Grant struct {
	ID                       uuid.UUID       `db:"id" json:"id"`
	PatientID                uuid.UUID       `db:"patient_id" json:"patient_id"`
	OrganizationID           uuid.UUID       `db:"organization_id" json:"organization_id"`
	RequestingPractitionerID *uuid.UUID      `db:"requesting_practitioner_id" json:"requesting_practitioner_id,omitempty"`
	Scope                    AccessScope     `json:"access_scope"`
	Status                   Status          `db:"status" json:"status"`
	TimeWindowHours          int             `db:"time_window_hours" json:"time_window_hours"`
	RequestedAt              time.Time       `db:"requested_at" json:"requested_at"`
	GrantedAt                *time.Time      `db:"granted_at" json:"granted_at,omitempty"`
	ExpiresAt                *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	ApprovedBy               *string         `db:"approved_by" json:"approved_by,omitempty"`
	RevokedBy                *string         `db:"revoked_by" json:"revoked_by,omitempty"`
	Metadata                 RequestMetadata `json:"request_metadata"`
	DeletedAt                *time.Time      `db:"deleted_at" json:"-"`
}
