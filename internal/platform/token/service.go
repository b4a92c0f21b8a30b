package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/platform/clock"
)

// Token purposes. A claim token issued for one purpose never verifies
// against another, preventing cross-purpose reuse.
const (
	PurposeHealthcareAuthorization = "healthcare_authorization"
	PurposeQRCode                  = "qr_code"
	PurposeRecordAccess            = "record_access"
)

// ErrTokenGeneration indicates a token could not be produced, either
// because the randomness source errored or signing failed. This is a hard
// failure; there is no fallback to weaker randomness.
var ErrTokenGeneration = errors.New("token generation failed")

const (
	// opaqueTokenBytes is the amount of secure randomness behind each
	// opaque token value (hex-encoded to 64 chars).
	opaqueTokenBytes = 32

	// DefaultOpaqueTTL applies when IssueOpaqueToken is called with a
	// non-positive TTL.
	DefaultOpaqueTTL = time.Hour

	// DefaultClaimTTL applies when IssueClaimToken is called with a
	// non-positive TTL.
	DefaultClaimTTL = 15 * time.Minute
)

// OpaqueToken is an unguessable random value with an absolute expiry. It
// carries no claims; callers keep the value-to-context mapping themselves
// (see Store).
type OpaqueToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ClaimToken is a signed, self-describing token plus its absolute expiry.
type ClaimToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service issues and verifies both token kinds. Expiry is always absolute:
// computed once at issuance, embedded or stored, and compared against the
// injected clock at verification time.
//
// Issuance is pure with respect to shared state and safe for arbitrary
// concurrent use.
type Service struct {
	signingKey []byte
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewService creates a token service. signingKey is the HMAC-SHA256 key for
// claim tokens and must be non-empty.
func NewService(signingKey []byte, clk clock.Clock, logger zerolog.Logger) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("token service: signing key must not be empty")
	}
	return &Service{signingKey: signingKey, clock: clk, logger: logger}, nil
}

// IssueOpaqueToken generates a 64-character lowercase-hex token from 32
// bytes of secure randomness. A randomness failure is ErrTokenGeneration.
func (s *Service) IssueOpaqueToken(ttl time.Duration) (OpaqueToken, error) {
	if ttl <= 0 {
		ttl = DefaultOpaqueTTL
	}

	b := make([]byte, opaqueTokenBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return OpaqueToken{}, fmt.Errorf("%w: read randomness: %v", ErrTokenGeneration, err)
	}

	return OpaqueToken{
		Value:     hex.EncodeToString(b),
		ExpiresAt: s.clock.Now().Add(ttl),
	}, nil
}

// IssueClaimToken signs an HS256 JWT embedding the caller's claims plus
// purpose, iat, and exp. The caller supplies structured claims such as
// subjectIdentifier and grantId; purpose, iat, and exp always win over
// caller-supplied values of the same name.
func (s *Service) IssueClaimToken(claims map[string]any, purpose string, ttl time.Duration) (ClaimToken, error) {
	if purpose == "" {
		return ClaimToken{}, fmt.Errorf("%w: purpose must not be empty", ErrTokenGeneration)
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}

	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	payload := jwt.MapClaims{}
	for name, value := range claims {
		payload[name] = value
	}
	payload["purpose"] = purpose
	payload["iat"] = jwt.NewNumericDate(now)
	payload["exp"] = jwt.NewNumericDate(expiresAt)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(s.signingKey)
	if err != nil {
		return ClaimToken{}, fmt.Errorf("%w: sign: %v", ErrTokenGeneration, err)
	}

	return ClaimToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// VerifyClaimToken checks the signature, expiry, and purpose of a claim
// token. It returns (nil, false) for any failure — malformed token, bad
// signature, expired, or purpose mismatch — without distinguishing the
// cause to the caller; the reason appears only in server-side debug logs.
// Callers must treat false as "not authorized" and never inspect partial
// claims.
func (s *Service) VerifyClaimToken(tokenStr, expectedPurpose string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		s.logger.Debug().Err(err).Msg("claim token rejected")
		return nil, false
	}

	purpose, _ := claims["purpose"].(string)
	if purpose != expectedPurpose {
		s.logger.Debug().Str("expected_purpose", expectedPurpose).Msg("claim token purpose mismatch")
		return nil, false
	}

	return claims, true
}
