package patient

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/platform/clock"
	"github.com/healthqr/healthqr/internal/platform/qr"
)

// digitalIdentifierBytes is the entropy behind each digital identifier.
// 16 random bytes keep the identifier unguessable while staying short
// enough for a comfortable QR density.
const digitalIdentifierBytes = 16

// Service registers patients, binds each to an opaque digital identifier,
// and resolves scanned identifiers back to patient IDs. It satisfies the
// grant engine's PatientDirectory collaborator.
type Service struct {
	repo   Repository
	codec  *qr.Codec
	clock  clock.Clock
	logger zerolog.Logger
}

// NewService wires the patient directory.
func NewService(repo Repository, codec *qr.Codec, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{repo: repo, codec: codec, clock: clk, logger: logger}
}

// Register creates a patient and assigns a fresh digital identifier.
func (s *Service) Register(ctx context.Context, firstName, lastName string) (*Patient, error) {
	if firstName == "" || lastName == "" {
		return nil, fmt.Errorf("register patient: first and last name are required")
	}

	did, err := newDigitalIdentifier()
	if err != nil {
		return nil, fmt.Errorf("register patient: %w", err)
	}

	now := s.clock.Now()
	p := &Patient{
		ID:                uuid.New(),
		DigitalIdentifier: did,
		FirstName:         firstName,
		LastName:          lastName,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("register patient: %w", err)
	}

	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient registered")
	return p, nil
}

// ResolveDigitalIdentifier maps a scanned digital identifier to a patient
// ID. Inactive patients do not resolve.
func (s *Service) ResolveDigitalIdentifier(ctx context.Context, digitalIdentifier string) (uuid.UUID, error) {
	if digitalIdentifier == "" {
		return uuid.Nil, fmt.Errorf("resolve digital identifier: identifier is required")
	}

	p, err := s.repo.GetByDigitalIdentifier(ctx, digitalIdentifier)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve digital identifier: %w", err)
	}
	if !p.Active {
		return uuid.Nil, fmt.Errorf("resolve digital identifier: %w", ErrNotFound)
	}
	return p.ID, nil
}

// Get returns a patient by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns directory entries in registration order.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// IdentityQR produces the encoded identity envelope a patient's client
// embeds in their "present my ID" QR code.
func (s *Service) IdentityQR(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("identity qr: %w", err)
	}
	encoded, err := s.codec.Encode(s.codec.NewIdentityPayload(p.DigitalIdentifier))
	if err != nil {
		return "", fmt.Errorf("identity qr: %w", err)
	}
	return encoded, nil
}

// newDigitalIdentifier draws a fresh opaque identifier from crypto/rand.
func newDigitalIdentifier() (string, error) {
	raw := make([]byte, digitalIdentifierBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate digital identifier: %w", err)
	}
	return "hid_" + hex.EncodeToString(raw), nil
}
