package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConnectionStore keeps connections in process memory. It honors the
// same contract as the SQL store: Create supersedes the previous active row
// for the (account, platform) pair in the same critical section, and Update
// applies compare-and-swap on Revision.
type MemoryConnectionStore struct {
	mu          sync.RWMutex
	connections map[string]Connection
	nowFn       func() time.Time
}

func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		connections: make(map[string]Connection),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryConnectionStore) Create(_ context.Context, in CreateConnectionInput) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: connection store is not configured")
	}
	accountID := strings.TrimSpace(in.AccountID)
	platform := strings.TrimSpace(strings.ToLower(in.Platform))
	if accountID == "" || platform == "" {
		return Connection{}, fmt.Errorf("core: account id and platform are required")
	}
	if len(in.EncryptedCredential) == 0 {
		return Connection{}, fmt.Errorf("core: encrypted credential is required")
	}
	status := in.Status
	if status == "" {
		status = ConnectionStatusActive
	}

	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == ConnectionStatusActive {
		for id, existing := range s.connections {
			if existing.AccountID == accountID && existing.Platform == platform && existing.IsActive() {
				existing.Status = ConnectionStatusReplaced
				existing.LastError = "superseded by a newer connection"
				existing.Revision++
				existing.UpdatedAt = now
				s.connections[id] = existing
			}
		}
	}

	conn := Connection{
		ID:                  uuid.NewString(),
		AccountID:           accountID,
		Platform:            platform,
		ExternalID:          strings.TrimSpace(in.ExternalID),
		DisplayName:         strings.TrimSpace(in.DisplayName),
		EncryptedCredential: append([]byte(nil), in.EncryptedCredential...),
		ExpiresAt:           cloneTime(in.ExpiresAt),
		Refreshable:         in.Refreshable,
		Status:              status,
		Revision:            1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.connections[conn.ID] = conn
	return cloneConnection(conn), nil
}

func (s *MemoryConnectionStore) Get(_ context.Context, id string) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.RLock()
	conn, ok := s.connections[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}
	return cloneConnection(conn), nil
}

func (s *MemoryConnectionStore) FindActive(_ context.Context, accountID string, platform string) (Connection, bool, error) {
	if s == nil {
		return Connection{}, false, fmt.Errorf("core: connection store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	platform = strings.TrimSpace(strings.ToLower(platform))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.connections {
		if conn.AccountID == accountID && conn.Platform == platform && conn.IsActive() {
			return cloneConnection(conn), true, nil
		}
	}
	return Connection{}, false, nil
}

func (s *MemoryConnectionStore) Update(_ context.Context, conn Connection) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.connections[conn.ID]
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}
	if current.Revision != conn.Revision {
		return Connection{}, fmt.Errorf(
			"%w: have %d, want %d", ErrRevisionConflict, current.Revision, conn.Revision,
		)
	}

	updated := conn
	updated.CreatedAt = current.CreatedAt
	updated.Revision = current.Revision + 1
	updated.UpdatedAt = s.nowFn()
	updated.EncryptedCredential = append([]byte(nil), conn.EncryptedCredential...)
	updated.ExpiresAt = cloneTime(conn.ExpiresAt)
	s.connections[updated.ID] = updated
	return cloneConnection(updated), nil
}

func (s *MemoryConnectionStore) UpdateStatus(_ context.Context, id string, status ConnectionStatus, reason string) error {
	if s == nil {
		return fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[strings.TrimSpace(id)]
	if !ok {
		return ErrConnectionNotFound
	}
	if err := conn.TransitionTo(status, reason, s.nowFn()); err != nil {
		return err
	}
	conn.Revision++
	s.connections[conn.ID] = conn
	return nil
}

// ListNearExpiry returns active connections whose expiry is known and falls
// at or before the cutoff, ordered soonest first. Refresh capability is not
// filtered here; the scan decides whether to refresh or park each candidate.
func (s *MemoryConnectionStore) ListNearExpiry(_ context.Context, before time.Time) ([]Connection, error) {
	if s == nil {
		return nil, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Connection, 0)
	for _, conn := range s.connections {
		if !conn.IsActive() || conn.ExpiresAt == nil {
			continue
		}
		if conn.ExpiresAt.After(before) {
			continue
		}
		matches = append(matches, cloneConnection(conn))
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ExpiresAt.Before(*matches[j].ExpiresAt)
	})
	return matches, nil
}

func cloneConnection(conn Connection) Connection {
	copied := conn
	copied.EncryptedCredential = append([]byte(nil), conn.EncryptedCredential...)
	copied.ExpiresAt = cloneTime(conn.ExpiresAt)
	return copied
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

var _ ConnectionStore = (*MemoryConnectionStore)(nil)
