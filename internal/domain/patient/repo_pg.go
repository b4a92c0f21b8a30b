package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// repoPG is the PostgreSQL-backed patient directory. Uniqueness of the
// digital identifier is enforced by a unique index on the column.
type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG creates a PostgreSQL-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// Create implements Repository.
func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient (id, digital_identifier, first_name, last_name, birth_date, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.DigitalIdentifier, p.FirstName, p.LastName, p.BirthDate, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByDigitalIdentifier implements Repository.
func (r *repoPG) GetByDigitalIdentifier(ctx context.Context, digitalIdentifier string) (*Patient, error) {
	return r.get(ctx, `WHERE digital_identifier = $1`, digitalIdentifier)
}

func (r *repoPG) get(ctx context.Context, where string, arg any) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, digital_identifier, first_name, last_name, birth_date, active, created_at, updated_at
		FROM patient `+where,
		arg,
	).Scan(&p.ID, &p.DigitalIdentifier, &p.FirstName, &p.LastName, &p.BirthDate, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patient get: %w", err)
	}
	return &p, nil
}

// List implements Repository.
func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient list: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, digital_identifier, first_name, last_name, birth_date, active, created_at, updated_at
		FROM patient
		ORDER BY created_at
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.DigitalIdentifier, &p.FirstName, &p.LastName, &p.BirthDate, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("patient list: scan: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	return out, total, nil
}
