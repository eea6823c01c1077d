package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const DefaultStateTokenTTL = 10 * time.Minute

var (
	ErrStateMalformed        = errors.New("core: oauth state token is malformed")
	ErrStateExpired          = errors.New("core: oauth state token expired")
	ErrStatePlatformMismatch = errors.New("core: oauth state token platform mismatch")
)

// StatePayload is the sealed content of a state token. It is never
// persisted; the token itself is the only carrier.
type StatePayload struct {
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`
	IssuedAt  int64  `json:"issued_at"`
	Nonce     string `json:"nonce"`
}

// StateTokenCodec issues and validates the signed, time-boxed opaque
// tokens that protect the authorization handshake. Tokens are AES-GCM
// sealed so tampering fails authentication, and base64url encoded so
// they survive a browser redirect.
type StateTokenCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type StateTokenOption func(*StateTokenCodec)

func WithStateTokenTTL(ttl time.Duration) StateTokenOption {
	return func(c *StateTokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithStateTokenClock(now func() time.Time) StateTokenOption {
	return func(c *StateTokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewStateTokenCodec builds a codec from raw key material. Missing key
// material is a construction error, not a per-call failure.
func NewStateTokenCodec(keyMaterial []byte, opts ...StateTokenOption) (*StateTokenCodec, error) {
	if len(strings.TrimSpace(string(keyMaterial))) == 0 {
		return nil, fmt.Errorf("core: state token key material is required")
	}
	codec := &StateTokenCodec{
		key: normalizeStateKey(keyMaterial),
		ttl: DefaultStateTokenTTL,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(codec)
	}
	return codec, nil
}

func (c *StateTokenCodec) Issue(accountID string, platform string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("core: state token codec is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("core: account id is required")
	}
	platform = strings.TrimSpace(strings.ToLower(platform))
	if platform == "" {
		return "", fmt.Errorf("core: platform is required")
	}

	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("core: state nonce generation failed: %w", err)
	}
	payload, err := json.Marshal(StatePayload{
		AccountID: accountID,
		Platform:  platform,
		IssuedAt:  c.now().UTC().Unix(),
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("core: encode state payload: %w", err)
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	sealNonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, sealNonce); err != nil {
		return "", fmt.Errorf("core: state nonce generation failed: %w", err)
	}
	sealed := gcm.Seal(nil, sealNonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(append(sealNonce, sealed...)), nil
}

// Validate authenticates and decodes a state token. The three rejection
// kinds are distinguishable sentinels so callers can log and message each
// correctly; all three are terminal for the authorization attempt.
func (c *StateTokenCodec) Validate(token string, expectedPlatform string) (StatePayload, error) {
	if c == nil {
		return StatePayload{}, fmt.Errorf("core: state token codec is not configured")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return StatePayload{}, fmt.Errorf("%w: %v", ErrStateMalformed, err)
	}
	gcm, err := c.aead()
	if err != nil {
		return StatePayload{}, err
	}
	if len(raw) <= gcm.NonceSize() {
		return StatePayload{}, fmt.Errorf("%w: token too short", ErrStateMalformed)
	}

	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return StatePayload{}, fmt.Errorf("%w: authentication failed", ErrStateMalformed)
	}
	payload := StatePayload{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return StatePayload{}, fmt.Errorf("%w: %v", ErrStateMalformed, err)
	}
	if strings.TrimSpace(payload.AccountID) == "" || strings.TrimSpace(payload.Platform) == "" {
		return StatePayload{}, fmt.Errorf("%w: incomplete payload", ErrStateMalformed)
	}

	issuedAt := time.Unix(payload.IssuedAt, 0).UTC()
	if c.now().UTC().Sub(issuedAt) > c.ttl {
		return StatePayload{}, fmt.Errorf("%w: issued at %s", ErrStateExpired, issuedAt.Format(time.RFC3339))
	}
	if !strings.EqualFold(payload.Platform, strings.TrimSpace(expectedPlatform)) {
		return StatePayload{}, fmt.Errorf(
			"%w: token for %q, callback for %q",
			ErrStatePlatformMismatch, payload.Platform, expectedPlatform,
		)
	}
	return payload, nil
}

func (c *StateTokenCodec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("core: state cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("core: state gcm: %w", err)
	}
	return gcm, nil
}

func normalizeStateKey(value []byte) []byte {
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
