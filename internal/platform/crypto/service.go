package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// EncryptionService provides AES-256-GCM field-level encryption keyed by a
// KeyRing. Field-level (rather than record-level) encryption keeps sensitive
// content opaque at rest while non-sensitive metadata stays queryable.
//
// All operations are pure with respect to shared state and safe for
// arbitrary concurrent use.
type EncryptionService struct {
	keys   *KeyRing
	logger zerolog.Logger
}

// Metadata describes the service's current encryption configuration.
// Introspection only; no side effects.
type Metadata struct {
	Algorithm          string `json:"algorithm"`
	KeyVersion         int    `json:"keyVersion"`
	KeyRotationEnabled bool   `json:"keyRotationEnabled"`
}

// NewEncryptionService creates a field encryption service backed by keys.
func NewEncryptionService(keys *KeyRing, logger zerolog.Logger) *EncryptionService {
	return &EncryptionService{keys: keys, logger: logger}
}

// EncryptField encrypts a single plaintext value under the current key
// version. A fresh random 12-byte IV is generated per call, so two calls
// with identical plaintext yield different ciphertexts.
//
// Empty plaintext is ErrInvalidInput: absent values are omitted from
// storage, never encrypted as empty strings.
func (s *EncryptionService) EncryptField(plaintext string) (EncryptedField, error) {
	if plaintext == "" {
		return EncryptedField{}, fmt.Errorf("%w: plaintext must not be empty", ErrInvalidInput)
	}

	version := s.keys.CurrentVersion()
	aead, err := s.keys.Resolve(version)
	if err != nil {
		return EncryptedField{}, fmt.Errorf("encrypt field: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedField{}, fmt.Errorf("encrypt field: generate iv: %w", err)
	}

	// Seal returns ciphertext||tag; the tag is stored separately.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - authTagSize

	return EncryptedField{
		Ciphertext: sealed[:split],
		IV:         iv,
		AuthTag:    sealed[split:],
		KeyVersion: version,
		Algorithm:  AlgorithmAESGCM,
	}, nil
}

// DecryptField authenticates and decrypts a field. Any failure — malformed
// field, unknown key version, or tag mismatch — surfaces as
// ErrDecryptionFailed without distinguishing the cause; the detail is
// logged server-side only. No partial plaintext is ever returned.
func (s *EncryptionService) DecryptField(field EncryptedField) (string, error) {
	if err := field.validate(); err != nil {
		s.logger.Debug().Err(err).Int("key_version", field.KeyVersion).Msg("reject malformed encrypted field")
		return "", ErrDecryptionFailed
	}

	aead, err := s.keys.Resolve(field.KeyVersion)
	if err != nil {
		s.logger.Debug().Err(err).Msg("reject field with unresolvable key version")
		return "", ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(field.Ciphertext)+authTagSize)
	sealed = append(sealed, field.Ciphertext...)
	sealed = append(sealed, field.AuthTag...)

	plaintext, err := aead.Open(nil, field.IV, sealed, nil)
	if err != nil {
		s.logger.Debug().Int("key_version", field.KeyVersion).Msg("field authentication failed")
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// EncryptFields encrypts every non-empty value in fields. Keys whose values
// are empty are omitted from the result rather than encrypted as empty
// strings; this is the storage contract, not an oversight.
func (s *EncryptionService) EncryptFields(fields map[string]string) (map[string]EncryptedField, error) {
	out := make(map[string]EncryptedField, len(fields))
	for name, value := range fields {
		if value == "" {
			continue
		}
		enc, err := s.EncryptField(value)
		if err != nil {
			return nil, fmt.Errorf("encrypt fields: %q: %w", name, err)
		}
		out[name] = enc
	}
	return out, nil
}

// DecryptFields decrypts every field in the map, returning plaintexts under
// the same key set as the input.
func (s *EncryptionService) DecryptFields(fields map[string]EncryptedField) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, field := range fields {
		plaintext, err := s.DecryptField(field)
		if err != nil {
			return nil, fmt.Errorf("decrypt fields: %q: %w", name, err)
		}
		out[name] = plaintext
	}
	return out, nil
}

// NeedsReEncryption reports whether a field was produced under an older key
// version and rotation is enabled, i.e. whether it is a migration candidate.
func (s *EncryptionService) NeedsReEncryption(field EncryptedField) bool {
	return s.keys.RotationEnabled() && field.KeyVersion < s.keys.CurrentVersion()
}

// ReEncryptField decrypts a field under its recorded key version and
// produces a brand-new field under the current version. The input field is
// never mutated.
func (s *EncryptionService) ReEncryptField(field EncryptedField) (EncryptedField, error) {
	plaintext, err := s.DecryptField(field)
	if err != nil {
		return EncryptedField{}, fmt.Errorf("re-encrypt field: %w", err)
	}
	return s.EncryptField(plaintext)
}

// GetEncryptionMetadata returns the active algorithm, key version, and
// rotation flag.
func (s *EncryptionService) GetEncryptionMetadata() Metadata {
	return Metadata{
		Algorithm:          AlgorithmAESGCM,
		KeyVersion:         s.keys.CurrentVersion(),
		KeyRotationEnabled: s.keys.RotationEnabled(),
	}
}
