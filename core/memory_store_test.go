package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTestConnection(t *testing.T, store *MemoryConnectionStore, accountID, platform string) Connection {
	t.Helper()
	expiresAt := time.Now().UTC().Add(time.Hour)
	conn, err := store.Create(context.Background(), CreateConnectionInput{
		AccountID:           accountID,
		Platform:            platform,
		ExternalID:          "ext-1",
		EncryptedCredential: []byte("sealed"),
		ExpiresAt:           &expiresAt,
		Refreshable:         true,
	})
	if err != nil {
		t.Fatalf("expected connection, got error: %v", err)
	}
	return conn
}

func TestMemoryStoreCreateSupersedesActive(t *testing.T) {
	store := NewMemoryConnectionStore()
	ctx := context.Background()

	first := createTestConnection(t, store, "acct-1", "facebook")
	second := createTestConnection(t, store, "acct-1", "facebook")

	replaced, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("expected first connection, got error: %v", err)
	}
	if replaced.Status != ConnectionStatusReplaced {
		t.Fatalf("expected first connection replaced, got %s", replaced.Status)
	}

	active, found, err := store.FindActive(ctx, "acct-1", "facebook")
	if err != nil || !found {
		t.Fatalf("expected active connection, found=%v err=%v", found, err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected newest connection active, got %s", active.ID)
	}
}

func TestMemoryStoreCreateLeavesOtherPairsAlone(t *testing.T) {
	store := NewMemoryConnectionStore()
	ctx := context.Background()

	fb := createTestConnection(t, store, "acct-1", "facebook")
	createTestConnection(t, store, "acct-1", "x")
	createTestConnection(t, store, "acct-2", "facebook")

	got, err := store.Get(ctx, fb.ID)
	if err != nil {
		t.Fatalf("expected connection, got error: %v", err)
	}
	if !got.IsActive() {
		t.Fatalf("expected facebook connection to stay active, got %s", got.Status)
	}
}

func TestMemoryStoreUpdateRevisionConflict(t *testing.T) {
	store := NewMemoryConnectionStore()
	ctx := context.Background()

	conn := createTestConnection(t, store, "acct-1", "x")

	stale := conn
	fresh := conn
	fresh.DisplayName = "first writer"
	if _, err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("expected first update to pass, got %v", err)
	}

	stale.DisplayName = "second writer"
	if _, err := store.Update(ctx, stale); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
}

func TestMemoryStoreUpdateStatusEnforcesTransitions(t *testing.T) {
	store := NewMemoryConnectionStore()
	ctx := context.Background()

	conn := createTestConnection(t, store, "acct-1", "pinterest")
	if err := store.UpdateStatus(ctx, conn.ID, ConnectionStatusDisconnected, "done"); err != nil {
		t.Fatalf("expected disconnect, got %v", err)
	}
	err := store.UpdateStatus(ctx, conn.ID, ConnectionStatusActive, "")
	if !errors.Is(err, ErrInvalidConnectionStatusTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryConnectionStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}
}

func TestMemoryStoreListNearExpiry(t *testing.T) {
	store := NewMemoryConnectionStore()
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.Add(30 * time.Minute)
	far := now.Add(48 * time.Hour)

	expiring, err := store.Create(ctx, CreateConnectionInput{
		AccountID:           "acct-1",
		Platform:            "x",
		EncryptedCredential: []byte("sealed"),
		ExpiresAt:           &soon,
		Refreshable:         true,
	})
	if err != nil {
		t.Fatalf("expected connection, got error: %v", err)
	}
	if _, err := store.Create(ctx, CreateConnectionInput{
		AccountID:           "acct-2",
		Platform:            "x",
		EncryptedCredential: []byte("sealed"),
		ExpiresAt:           &far,
		Refreshable:         true,
	}); err != nil {
		t.Fatalf("expected connection, got error: %v", err)
	}
	if _, err := store.Create(ctx, CreateConnectionInput{
		AccountID:           "acct-3",
		Platform:            "facebook",
		EncryptedCredential: []byte("sealed"),
	}); err != nil {
		t.Fatalf("expected connection, got error: %v", err)
	}

	matches, err := store.ListNearExpiry(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("expected matches, got error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 near-expiry connection, got %d", len(matches))
	}
	if matches[0].ID != expiring.ID {
		t.Fatalf("expected %s, got %s", expiring.ID, matches[0].ID)
	}
}
