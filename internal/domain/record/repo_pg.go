package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthqr/healthqr/internal/platform/crypto"
)

// repoPG persists records in PostgreSQL with the encrypted field map as a
// JSONB document. The values inside are already ciphertext, so the column
// needs no protection of its own.
type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG creates a PostgreSQL-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// Save implements Repository.
func (r *repoPG) Save(ctx context.Context, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("record save: marshal fields: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO medical_record (id, patient_id, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.PatientID, fields, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record save: %w", err)
	}
	return nil
}

// GetByPatient implements Repository.
func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	var rec Record
	var fields []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, fields, created_at, updated_at
		FROM medical_record
		WHERE patient_id = $1`,
		patientID,
	).Scan(&rec.ID, &rec.PatientID, &fields, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record get: %w", err)
	}

	rec.Fields = make(map[string]crypto.EncryptedField)
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("record get: unmarshal fields: %w", err)
	}
	return &rec, nil
}
