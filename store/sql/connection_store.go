package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-social/core"
	"github.com/uptrace/bun"
)

// ConnectionStore persists connections in SQL through bun. Create supersedes
// the previous active row inside one transaction, and Update guards every
// write with a revision predicate, so both invariants hold across processes
// sharing the database.
type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func (s *ConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	accountID := strings.TrimSpace(in.AccountID)
	platform := strings.TrimSpace(strings.ToLower(in.Platform))
	if accountID == "" || platform == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: account id and platform are required")
	}
	if len(in.EncryptedCredential) == 0 {
		return core.Connection{}, fmt.Errorf("sqlstore: encrypted credential is required")
	}
	if in.Status == "" {
		in.Status = core.ConnectionStatusActive
	}

	now := time.Now().UTC()
	record := newConnectionRecord(in, now)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if in.Status == core.ConnectionStatusActive {
			_, err := tx.NewUpdate().
				Model((*connectionRecord)(nil)).
				Set("status = ?", string(core.ConnectionStatusReplaced)).
				Set("last_error = ?", "superseded by a newer connection").
				Set("revision = revision + 1").
				Set("updated_at = ?", now).
				Where("account_id = ?", accountID).
				Where("platform = ?", platform).
				Where("status = ?", string(core.ConnectionStatusActive)).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Connection{}, core.ErrConnectionNotFound
		}
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) FindActive(ctx context.Context, accountID string, platform string) (core.Connection, bool, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("account_id", "=", strings.TrimSpace(accountID)),
		repository.SelectBy("platform", "=", strings.TrimSpace(strings.ToLower(platform))),
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return core.Connection{}, false, err
	}
	if len(records) == 0 {
		return core.Connection{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *ConnectionStore) Update(ctx context.Context, conn core.Connection) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	id := strings.TrimSpace(conn.ID)
	if id == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: connection id is required")
	}

	record := recordFromDomain(conn)
	record.Revision = conn.Revision + 1
	record.UpdatedAt = time.Now().UTC()

	result, err := s.db.NewUpdate().
		Model(record).
		Column(
			"external_id", "display_name", "encrypted_credential", "expires_at",
			"refreshable", "status", "refresh_failures", "last_error",
			"revision", "updated_at",
		).
		Where("id = ?", id).
		Where("revision = ?", conn.Revision).
		Exec(ctx)
	if err != nil {
		return core.Connection{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Connection{}, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return core.Connection{}, getErr
		}
		return core.Connection{}, fmt.Errorf(
			"%w: connection %s moved past revision %d", core.ErrRevisionConflict, id, conn.Revision,
		)
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := current.TransitionTo(status, reason, time.Now().UTC()); err != nil {
		return err
	}
	_, err = s.Update(ctx, current)
	return err
}

func (s *ConnectionStore) ListNearExpiry(ctx context.Context, before time.Time) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.expires_at IS NOT NULL").
				Where("?TableAlias.expires_at <= ?", before)
		}),
		repository.OrderBy("expires_at ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

var _ core.ConnectionStore = (*ConnectionStore)(nil)
