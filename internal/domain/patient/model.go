package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Demographics are deliberately thin:
// this directory exists to bind a durable opaque digital identifier to a
// patient ID, not to be a master patient index.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	DigitalIdentifier string     `db:"digital_identifier" json:"digital_identifier"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Active            bool       `db:"active" json:"active"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
