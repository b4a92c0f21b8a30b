package crypto

import "errors"

// AlgorithmAESGCM is the only algorithm this platform produces or accepts.
const AlgorithmAESGCM = "aes-256-gcm"

const (
	// ivSize is the GCM nonce length in bytes.
	ivSize = 12

	// authTagSize is the GCM authentication tag length in bytes.
	authTagSize = 16
)

// Sentinel errors for the encryption platform.
var (
	// ErrInvalidInput indicates the caller supplied empty or malformed
	// plaintext. Never retried; surfaced to the caller.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDecryptionFailed indicates a ciphertext could not be authenticated
	// and decrypted. Tampering, truncation, and unknown key versions are
	// deliberately not distinguished in this error; the distinction exists
	// only in server-side logs.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnknownKeyVersion indicates the key ring holds no key for the
	// requested version.
	ErrUnknownKeyVersion = errors.New("unknown key version")
)

// EncryptedField is a single encrypted field value as stored at rest.
// It is immutable once produced: re-encryption always yields a fresh
// EncryptedField, never an in-place mutation.
type EncryptedField struct {
	Ciphertext []byte `json:"data"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
	KeyVersion int    `json:"keyVersion"`
	Algorithm  string `json:"algorithm"`
}

// validate checks the structural invariants a field must satisfy before
// decryption is even attempted.
func (f EncryptedField) validate() error {
	if f.Algorithm != AlgorithmAESGCM {
		return errors.New("unsupported algorithm")
	}
	if len(f.IV) != ivSize {
		return errors.New("iv must be 12 bytes")
	}
	if len(f.AuthTag) != authTagSize {
		return errors.New("auth tag must be 16 bytes")
	}
	if len(f.Ciphertext) == 0 {
		return errors.New("empty ciphertext")
	}
	return nil
}
