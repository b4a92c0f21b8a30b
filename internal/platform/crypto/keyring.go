package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"sync"
)

// KeyRingConfig is the explicit configuration a KeyRing is built from.
// There is no ambient or process-wide key state; callers construct a
// KeyRing and pass it where it is needed.
type KeyRingConfig struct {
	// CurrentKey is the active encryption key as a 64-character hex string
	// (32 bytes decoded).
	CurrentKey string

	// CurrentVersion identifies CurrentKey. Versions are assigned by the
	// operator and must only ever increase across rotations.
	CurrentVersion int

	// PreviousKeys maps retired key versions to their hex-encoded keys.
	// They are decrypt-only: nothing is ever encrypted under them again.
	PreviousKeys map[int]string

	// RotationEnabled controls whether NeedsReEncryption reports old
	// ciphertexts as migration candidates.
	RotationEnabled bool
}

// KeyRing resolves a key version number to a ready-to-use AEAD. The current
// version is used for all new encryption; previous versions exist only so
// that data written before a rotation can still be decrypted.
type KeyRing struct {
	mu         sync.RWMutex
	current    cipher.AEAD
	currentVer int
	previous   map[int]cipher.AEAD
	rotation   bool
}

// NewKeyRing builds a KeyRing from cfg. Every configured key must be a
// valid 64-character hex string encoding 32 bytes; a misconfigured key is
// an error so the application refuses to start rather than running with a
// partial ring.
func NewKeyRing(cfg KeyRingConfig) (*KeyRing, error) {
	if cfg.CurrentVersion < 1 {
		return nil, fmt.Errorf("key ring: current version must be >= 1, got %d", cfg.CurrentVersion)
	}

	current, err := aeadFromHex(cfg.CurrentKey)
	if err != nil {
		return nil, fmt.Errorf("key ring: current key: %w", err)
	}

	previous := make(map[int]cipher.AEAD, len(cfg.PreviousKeys))
	for version, hexKey := range cfg.PreviousKeys {
		if version >= cfg.CurrentVersion {
			return nil, fmt.Errorf("key ring: previous key v%d is not older than current v%d", version, cfg.CurrentVersion)
		}
		aead, err := aeadFromHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("key ring: previous key v%d: %w", version, err)
		}
		previous[version] = aead
	}

	return &KeyRing{
		current:    current,
		currentVer: cfg.CurrentVersion,
		previous:   previous,
		rotation:   cfg.RotationEnabled,
	}, nil
}

// AddPreviousKey registers a retired key after construction, for deployments
// that load historical keys lazily.
func (k *KeyRing) AddPreviousKey(hexKey string, version int) error {
	aead, err := aeadFromHex(hexKey)
	if err != nil {
		return fmt.Errorf("key ring: previous key v%d: %w", version, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if version >= k.currentVer {
		return fmt.Errorf("key ring: previous key v%d is not older than current v%d", version, k.currentVer)
	}
	k.previous[version] = aead
	return nil
}

// Resolve returns the AEAD for the given key version, or ErrUnknownKeyVersion
// if no key with that version is configured.
func (k *KeyRing) Resolve(version int) (cipher.AEAD, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if version == k.currentVer {
		return k.current, nil
	}
	if aead, ok := k.previous[version]; ok {
		return aead, nil
	}
	return nil, fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version)
}

// CurrentVersion returns the version new ciphertexts are produced under.
func (k *KeyRing) CurrentVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.currentVer
}

// RotationEnabled reports whether key rotation is configured.
func (k *KeyRing) RotationEnabled() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.rotation
}

// aeadFromHex decodes a 64-character hex key and wraps it in an AES-256-GCM
// AEAD.
func aeadFromHex(hexKey string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}
