package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/domain/grant"
	"github.com/healthqr/healthqr/internal/platform/clock"
	"github.com/healthqr/healthqr/internal/platform/crypto"
	"github.com/healthqr/healthqr/internal/platform/token"
)

// ErrAccessDenied indicates the presented grant does not authorize the
// requested read. The reason (missing grant, expired, wrong scope) is not
// distinguished to the caller.
var ErrAccessDenied = errors.New("access denied")

// AccessChecker is the slice of the grant engine the record service needs.
type AccessChecker interface {
	CheckAccess(ctx context.Context, id uuid.UUID, flag grant.ScopeFlag) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*grant.Grant, error)
}

// AuthorizedFields is a successful read: decrypted fields plus a scoped
// claim token downstream callers present on follow-up requests.
type AuthorizedFields struct {
	Fields      map[string]string `json:"fields"`
	AccessToken string            `json:"access_token"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Service is the downstream consumer of the authorization core: it stores
// patients' sensitive fields encrypted and gates every read through a
// real-time grant check before decrypting.
type Service struct {
	records Repository
	access  AccessChecker
	enc     *crypto.EncryptionService
	tokens  *token.Service
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewService wires the record service.
func NewService(records Repository, access AccessChecker, enc *crypto.EncryptionService, tokens *token.Service, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{records: records, access: access, enc: enc, tokens: tokens, clock: clk, logger: logger}
}

// PutFields encrypts and stores a patient's sensitive fields. Empty values
// are omitted rather than stored as encrypted empty strings. An existing
// record's fields are merged, newest value winning.
func (s *Service) PutFields(ctx context.Context, patientID uuid.UUID, fields map[string]string) (*Record, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("put fields: patient id is required")
	}

	encrypted, err := s.enc.EncryptFields(fields)
	if err != nil {
		return nil, fmt.Errorf("put fields: %w", err)
	}

	now := s.clock.Now()
	rec, err := s.records.GetByPatient(ctx, patientID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Record{
			ID:        uuid.New(),
			PatientID: patientID,
			Fields:    encrypted,
			CreatedAt: now,
			UpdatedAt: now,
		}
	case err != nil:
		return nil, fmt.Errorf("put fields: %w", err)
	default:
		for name, field := range encrypted {
			rec.Fields[name] = field
		}
		rec.UpdatedAt = now
	}

	if err := s.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("put fields: %w", err)
	}
	return rec, nil
}

// Fields returns a patient's decrypted fields for the holder of an active
// grant with medical-history scope, together with a short-lived claim
// token scoped to the grant. Any authorization failure is ErrAccessDenied
// without further detail.
func (s *Service) Fields(ctx context.Context, grantID uuid.UUID) (*AuthorizedFields, error) {
	ok, err := s.access.CheckAccess(ctx, grantID, grant.ScopeViewMedicalHistory)
	if err != nil {
		return nil, fmt.Errorf("record fields: %w", err)
	}
	if !ok {
		s.logger.Debug().Str("grant_id", grantID.String()).Msg("record read denied")
		return nil, ErrAccessDenied
	}

	g, err := s.access.Get(ctx, grantID)
	if err != nil {
		if errors.Is(err, grant.ErrNotFound) {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("record fields: %w", err)
	}

	rec, err := s.records.GetByPatient(ctx, g.PatientID)
	if err != nil {
		return nil, fmt.Errorf("record fields: %w", err)
	}

	fields, err := s.enc.DecryptFields(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("record fields: %w", err)
	}

	issued, err := s.tokens.IssueClaimToken(map[string]any{
		"subjectIdentifier": g.PatientID.String(),
		"grantId":           g.ID.String(),
	}, token.PurposeHealthcareAuthorization, 0)
	if err != nil {
		return nil, fmt.Errorf("record fields: %w", err)
	}

	return &AuthorizedFields{
		Fields:      fields,
		AccessToken: issued.Token,
		ExpiresAt:   issued.ExpiresAt,
	}, nil
}

// ReEncrypt migrates every field of a patient's record that was written
// under an older key version to the current one. Returns how many fields
// were migrated. A no-op when rotation is disabled or everything is
// current.
func (s *Service) ReEncrypt(ctx context.Context, patientID uuid.UUID) (int, error) {
	rec, err := s.records.GetByPatient(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("re-encrypt record: %w", err)
	}

	migrated := 0
	for name, field := range rec.Fields {
		if !s.enc.NeedsReEncryption(field) {
			continue
		}
		fresh, err := s.enc.ReEncryptField(field)
		if err != nil {
			return migrated, fmt.Errorf("re-encrypt record: field %q: %w", name, err)
		}
		rec.Fields[name] = fresh
		migrated++
	}

	if migrated == 0 {
		return 0, nil
	}

	rec.UpdatedAt = s.clock.Now()
	if err := s.records.Save(ctx, rec); err != nil {
		return migrated, fmt.Errorf("re-encrypt record: %w", err)
	}

	s.logger.Info().
		Str("patient_id", patientID.String()).
		Int("fields", migrated).
		Msg("record fields migrated to current key version")
	return migrated, nil
}
