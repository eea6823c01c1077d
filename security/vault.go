package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-social/core"
)

const envelopePrefix = "social.credential.v1:"

// ErrCorruptCredential wraps every decrypt failure so callers can treat a
// damaged or tampered ciphertext as one condition regardless of which layer
// of the envelope broke.
var ErrCorruptCredential = errors.New("security: corrupt credential")

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type keyEntry struct {
	id      string
	version int
	key     []byte
}

// KeyringVault encrypts credential payloads with AES-256-GCM under the
// newest registered key and can decrypt payloads sealed under any key it
// still holds. Rotation is additive: register a new version, keep the old
// ones until every stored credential has been re-encrypted.
type KeyringVault struct {
	mu      sync.RWMutex
	keyID   string
	entries []keyEntry
}

type Option func(*KeyringVault)

func WithKeyID(id string) Option {
	return func(vault *KeyringVault) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			vault.keyID = trimmed
		}
	}
}

func NewKeyringVault(keyMaterial []byte, opts ...Option) (*KeyringVault, error) {
	vault := &KeyringVault{keyID: "app-key"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	if err := vault.AddKeyVersion(1, keyMaterial); err != nil {
		return nil, err
	}
	return vault, nil
}

func NewKeyringVaultFromString(key string, opts ...Option) (*KeyringVault, error) {
	return NewKeyringVault([]byte(key), opts...)
}

// AddKeyVersion registers key material under a version number. The highest
// version becomes the encryption key; every registered version stays
// available for decryption.
func (v *KeyringVault) AddKeyVersion(version int, keyMaterial []byte) error {
	if v == nil {
		return fmt.Errorf("security: vault is nil")
	}
	if version <= 0 {
		return fmt.Errorf("security: key version must be positive")
	}
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return fmt.Errorf("security: key material is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, entry := range v.entries {
		if entry.version == version {
			return fmt.Errorf("security: key version %d already registered", version)
		}
	}
	v.entries = append(v.entries, keyEntry{
		id:      v.keyID,
		version: version,
		key:     normalizeKey(key),
	})
	sort.Slice(v.entries, func(i, j int) bool {
		return v.entries[i].version < v.entries[j].version
	})
	return nil
}

func (v *KeyringVault) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}

	entry, err := v.currentKey()
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(entry.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	data, err := json.Marshal(envelope{
		KeyID:      entry.id,
		Version:    entry.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (v *KeyringVault) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: ciphertext is empty", ErrCorruptCredential)
	}

	payload := string(ciphertext)
	if !strings.HasPrefix(payload, envelopePrefix) {
		return nil, fmt.Errorf("%w: unknown envelope prefix", ErrCorruptCredential)
	}
	payload = strings.TrimPrefix(payload, envelopePrefix)

	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrCorruptCredential, err)
	}
	if parsed.Algorithm != "" && parsed.Algorithm != "aes-256-gcm" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrCorruptCredential, parsed.Algorithm)
	}

	entry, err := v.keyForVersion(parsed.Version)
	if err != nil {
		return nil, err
	}
	if parsed.KeyID != "" && parsed.KeyID != entry.id {
		return nil, fmt.Errorf("%w: key id mismatch: got %q want %q", ErrCorruptCredential, parsed.KeyID, entry.id)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrCorruptCredential, err)
	}
	encryptedPayload, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext payload: %v", ErrCorruptCredential, err)
	}

	gcm, err := newGCM(entry.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, encryptedPayload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrCorruptCredential)
	}
	return plaintext, nil
}

func (v *KeyringVault) KeyID() string {
	if v == nil {
		return ""
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keyID
}

// CurrentVersion reports the version new ciphertexts are sealed under.
func (v *KeyringVault) CurrentVersion() int {
	entry, err := v.currentKey()
	if err != nil {
		return 0
	}
	return entry.version
}

func (v *KeyringVault) currentKey() (keyEntry, error) {
	if v == nil {
		return keyEntry{}, fmt.Errorf("security: vault is nil")
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.entries) == 0 {
		return keyEntry{}, fmt.Errorf("security: no key material registered")
	}
	return v.entries[len(v.entries)-1], nil
}

func (v *KeyringVault) keyForVersion(version int) (keyEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if version <= 0 {
		if len(v.entries) == 0 {
			return keyEntry{}, fmt.Errorf("security: no key material registered")
		}
		return v.entries[len(v.entries)-1], nil
	}
	for _, entry := range v.entries {
		if entry.version == version {
			return entry, nil
		}
	}
	return keyEntry{}, fmt.Errorf("%w: no key for version %d", ErrCorruptCredential, version)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*KeyringVault)(nil)
