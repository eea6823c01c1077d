package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")
	ErrConnectionNotFound                = errors.New("core: connection not found")
	ErrRevisionConflict                  = errors.New("core: connection revision conflict")
	ErrRefreshNotSupported               = errors.New("core: platform does not support refresh")
)

type ConnectionStatus string

const (
	ConnectionStatusActive        ConnectionStatus = "active"
	ConnectionStatusDisconnected  ConnectionStatus = "disconnected"
	ConnectionStatusReplaced      ConnectionStatus = "replaced"
	ConnectionStatusErrored       ConnectionStatus = "errored"
	ConnectionStatusPendingReauth ConnectionStatus = "pending_reauth"
)

// Connection links one account to one external platform identity. The
// credential travels encrypted; expiry and refreshability are mirrored
// outside the ciphertext so the scheduler can scan without decrypting.
type Connection struct {
	ID                  string
	AccountID           string
	Platform            string
	ExternalID          string
	DisplayName         string
	EncryptedCredential []byte
	ExpiresAt           *time.Time
	Refreshable         bool
	Status              ConnectionStatus
	RefreshFailures     int
	LastError           string
	Revision            int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (c Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

func (c *Connection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastError = strings.TrimSpace(reason)
	}
	if status == ConnectionStatusActive {
		c.LastError = ""
		c.RefreshFailures = 0
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusDisconnected:  {},
			ConnectionStatusReplaced:      {},
			ConnectionStatusErrored:       {},
			ConnectionStatusPendingReauth: {},
		},
		ConnectionStatusErrored: {
			ConnectionStatusActive:        {},
			ConnectionStatusDisconnected:  {},
			ConnectionStatusReplaced:      {},
			ConnectionStatusPendingReauth: {},
		},
		ConnectionStatusPendingReauth: {
			ConnectionStatusActive:       {},
			ConnectionStatusDisconnected: {},
			ConnectionStatusReplaced:     {},
		},
		ConnectionStatusDisconnected: {},
		ConnectionStatusReplaced:     {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Credential is the plaintext token material. It only exists in memory
// inside a single operation; at rest it lives as Connection.EncryptedCredential.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

func (c Credential) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("core: credential access token is required")
	}
	return nil
}

func (c Credential) Refreshable() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// Identity is the external account identity resolved after code exchange.
type Identity struct {
	ExternalID  string
	DisplayName string
}

// PublishContent is the platform-neutral content payload. Platforms apply
// their own length and attachment rules before any network call.
type PublishContent struct {
	Body      string
	Link      string
	ImageURLs []string
}

func (c PublishContent) IsZero() bool {
	return strings.TrimSpace(c.Body) == "" && strings.TrimSpace(c.Link) == "" && len(c.ImageURLs) == 0
}

type PublishRequest struct {
	AccountID string
	Platforms []string
	Content   PublishContent
	Overrides map[string]PublishContent
}

func (r PublishRequest) Validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return fmt.Errorf("core: account id is required")
	}
	if len(r.Platforms) == 0 {
		return fmt.Errorf("core: at least one target platform is required")
	}
	return nil
}

// ContentFor resolves the per-platform override, falling back to the default.
func (r PublishRequest) ContentFor(platform string) PublishContent {
	if override, ok := r.Overrides[platform]; ok && !override.IsZero() {
		return override
	}
	return r.Content
}

// PublishOutcome reports one platform's result. Dispatch always produces
// exactly one outcome per request entry, failures included; duplicate
// entries carry copies of the shared result.
type PublishOutcome struct {
	Platform     string
	Success      bool
	PostID       string
	ConnectionID string
	Error        string
	Retryable    bool
}
