package qr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/platform/clock"
)

// Payload types. A QR code either presents a patient's durable digital
// identity or references a one-shot access request (grant).
const (
	TypeIdentity      = "health_identity"
	TypeAccessRequest = "health_access_request"
)

// Version is the only envelope version this codec produces or accepts.
const Version = "1.0"

// identityStaleAfter is the freshness threshold for identity QR codes.
// Identity codes are long-lived display artifacts, so staleness past this
// threshold is logged as a warning but the payload still decodes.
const identityStaleAfter = 24 * time.Hour

// Payload is the JSON envelope embedded in a QR image. The surrounding
// image encode/decode belongs to the scanner; this codec handles only the
// envelope. Payloads are generated on demand, never persisted server-side.
type Payload struct {
	Type              string     `json:"type"`
	Version           string     `json:"version"`
	DigitalIdentifier string     `json:"digitalIdentifier"`
	Timestamp         time.Time  `json:"timestamp"`
	GrantID           string     `json:"grantId,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// Codec builds and parses QR payload envelopes.
type Codec struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// NewCodec creates a codec using clk for freshness checks.
func NewCodec(clk clock.Clock, logger zerolog.Logger) *Codec {
	return &Codec{clock: clk, logger: logger}
}

// NewIdentityPayload builds a fresh identity envelope for a patient's
// digital identifier.
func (c *Codec) NewIdentityPayload(digitalIdentifier string) Payload {
	return Payload{
		Type:              TypeIdentity,
		Version:           Version,
		DigitalIdentifier: digitalIdentifier,
		Timestamp:         c.clock.Now(),
	}
}

// NewAccessRequestPayload builds a one-shot access-request envelope
// referencing a grant. ttl bounds how long the QR may be scanned.
func (c *Codec) NewAccessRequestPayload(digitalIdentifier, grantID string, ttl time.Duration) Payload {
	now := c.clock.Now()
	expiresAt := now.Add(ttl)
	return Payload{
		Type:              TypeAccessRequest,
		Version:           Version,
		DigitalIdentifier: digitalIdentifier,
		Timestamp:         now,
		GrantID:           grantID,
		ExpiresAt:         &expiresAt,
	}
}

// Encode serializes a payload to the JSON wire form. Type, version, and
// digital identifier are required; a zero timestamp is stamped with the
// current time.
func (c *Codec) Encode(p Payload) (string, error) {
	if p.Type != TypeIdentity && p.Type != TypeAccessRequest {
		return "", fmt.Errorf("qr encode: unknown payload type %q", p.Type)
	}
	if p.DigitalIdentifier == "" {
		return "", fmt.Errorf("qr encode: digital identifier is required")
	}
	if p.Version == "" {
		p.Version = Version
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = c.clock.Now()
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	return string(raw), nil
}

// Decode parses and validates a scanned envelope against the expected
// type. A forged, stale, or malformed QR is an expected outcome, not a
// system fault, so Decode reports (nil, false) instead of an error for:
// JSON parse failure, type or version mismatch, missing required fields,
// or an access-request payload past its expiry.
//
// Identity payloads older than 24 hours decode with a logged warning
// rather than rejection; identity QR codes are durable display artifacts
// while access-request codes are one-shot.
func (c *Codec) Decode(raw, expectedType string) (*Payload, bool) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		c.logger.Debug().Err(err).Msg("qr payload rejected: invalid json")
		return nil, false
	}

	if p.Type != expectedType {
		c.logger.Debug().Str("type", p.Type).Str("expected", expectedType).Msg("qr payload rejected: type mismatch")
		return nil, false
	}
	if p.Version != Version {
		c.logger.Debug().Str("version", p.Version).Msg("qr payload rejected: unsupported version")
		return nil, false
	}
	if p.DigitalIdentifier == "" || p.Timestamp.IsZero() {
		c.logger.Debug().Msg("qr payload rejected: missing required fields")
		return nil, false
	}

	now := c.clock.Now()
	switch p.Type {
	case TypeIdentity:
		if age := now.Sub(p.Timestamp); age >= identityStaleAfter {
			c.logger.Warn().Dur("age", age).Msg("identity qr payload is stale")
		}
	case TypeAccessRequest:
		if p.GrantID == "" {
			c.logger.Debug().Msg("qr payload rejected: access request without grant reference")
			return nil, false
		}
		if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
			c.logger.Debug().Time("expires_at", *p.ExpiresAt).Msg("qr payload rejected: access request expired")
			return nil, false
		}
	}

	return &p, true
}
