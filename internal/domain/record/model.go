package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthqr/healthqr/internal/platform/crypto"
)

// Record holds a patient's sensitive fields encrypted at rest. Only field
// values are encrypted; the surrounding metadata stays queryable.
type Record struct {
	ID        uuid.UUID                         `db:"id" json:"id"`
	PatientID uuid.UUID                         `db:"patient_id" json:"patient_id"`
	Fields    map[string]crypto.EncryptedField  `db:"fields" json:"fields"`
	CreatedAt time.Time                         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time                         `db:"updated_at" json:"updated_at"`
}
