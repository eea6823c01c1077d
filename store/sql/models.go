package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-social/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:social_connections,alias:sc"`

	ID                  string     `bun:"id,pk"`
	AccountID           string     `bun:"account_id,notnull"`
	Platform            string     `bun:"platform,notnull"`
	ExternalID          string     `bun:"external_id,notnull"`
	DisplayName         string     `bun:"display_name"`
	EncryptedCredential []byte     `bun:"encrypted_credential,notnull"`
	ExpiresAt           *time.Time `bun:"expires_at,nullzero"`
	Refreshable         bool       `bun:"refreshable,notnull"`
	Status              string     `bun:"status,notnull"`
	RefreshFailures     int        `bun:"refresh_failures,notnull"`
	LastError           string     `bun:"last_error"`
	Revision            int64      `bun:"revision,notnull"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newConnectionRecord(in core.CreateConnectionInput, now time.Time) *connectionRecord {
	return &connectionRecord{
		ID:                  uuid.NewString(),
		AccountID:           strings.TrimSpace(in.AccountID),
		Platform:            strings.TrimSpace(strings.ToLower(in.Platform)),
		ExternalID:          strings.TrimSpace(in.ExternalID),
		DisplayName:         strings.TrimSpace(in.DisplayName),
		EncryptedCredential: append([]byte(nil), in.EncryptedCredential...),
		ExpiresAt:           in.ExpiresAt,
		Refreshable:         in.Refreshable,
		Status:              string(in.Status),
		Revision:            1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func recordFromDomain(conn core.Connection) *connectionRecord {
	return &connectionRecord{
		ID:                  conn.ID,
		AccountID:           conn.AccountID,
		Platform:            conn.Platform,
		ExternalID:          conn.ExternalID,
		DisplayName:         conn.DisplayName,
		EncryptedCredential: append([]byte(nil), conn.EncryptedCredential...),
		ExpiresAt:           conn.ExpiresAt,
		Refreshable:         conn.Refreshable,
		Status:              string(conn.Status),
		RefreshFailures:     conn.RefreshFailures,
		LastError:           conn.LastError,
		Revision:            conn.Revision,
		CreatedAt:           conn.CreatedAt,
		UpdatedAt:           conn.UpdatedAt,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:                  r.ID,
		AccountID:           r.AccountID,
		Platform:            r.Platform,
		ExternalID:          r.ExternalID,
		DisplayName:         r.DisplayName,
		EncryptedCredential: append([]byte(nil), r.EncryptedCredential...),
		ExpiresAt:           r.ExpiresAt,
		Refreshable:         r.Refreshable,
		Status:              core.ConnectionStatus(r.Status),
		RefreshFailures:     r.RefreshFailures,
		LastError:           r.LastError,
		Revision:            r.Revision,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
