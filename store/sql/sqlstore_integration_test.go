package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-social/core"
	sqlstore "github.com/goliatone/go-social/store/sql"
	"github.com/uptrace/bun"
)

func newSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:social-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	db, err := sqlstore.Open(sqlstore.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := sqlstore.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newSQLiteStore(t *testing.T) core.ConnectionStore {
	t.Helper()

	factory, err := sqlstore.NewRepositoryFactoryFromDB(newSQLiteDB(t))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.ConnectionStore()
	if store == nil {
		t.Fatalf("expected connection store from factory")
	}
	return store
}

func createSQLiteConnection(t *testing.T, store core.ConnectionStore, accountID string, platform string) core.Connection {
	t.Helper()

	conn, err := store.Create(context.Background(), core.CreateConnectionInput{
		AccountID:           accountID,
		Platform:            platform,
		ExternalID:          "ext-" + accountID,
		EncryptedCredential: []byte("sealed-credential"),
		Refreshable:         true,
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func TestSchemaCreatesConnectionsTable(t *testing.T) {
	db := newSQLiteDB(t)

	// A second run must be a no-op.
	if err := sqlstore.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("recreate schema: %v", err)
	}

	var tableName string
	if err := db.NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"social_connections",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "social_connections" {
		t.Fatalf("expected social_connections table, got %q", tableName)
	}
}

func TestSQLiteStoreCreateSupersedesActive(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	first := createSQLiteConnection(t, store, "acct-1", "facebook")
	second := createSQLiteConnection(t, store, "acct-1", "facebook")

	replaced, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get superseded connection: %v", err)
	}
	if replaced.Status != core.ConnectionStatusReplaced {
		t.Fatalf("expected replaced status, got %s", replaced.Status)
	}

	active, found, err := store.FindActive(ctx, "acct-1", "facebook")
	if err != nil || !found {
		t.Fatalf("expected an active connection, got found=%v err=%v", found, err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected newest connection active, got %s", active.ID)
	}
}

func TestSQLiteStoreUpdateRevisionConflict(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	conn := createSQLiteConnection(t, store, "acct-1", "x")
	stale := conn

	conn.DisplayName = "fresh write"
	updated, err := store.Update(ctx, conn)
	if err != nil {
		t.Fatalf("expected fresh update, got error: %v", err)
	}
	if updated.Revision != conn.Revision+1 {
		t.Fatalf("expected revision bump, got %d", updated.Revision)
	}

	stale.DisplayName = "stale write"
	if _, err := store.Update(ctx, stale); !errors.Is(err, core.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newSQLiteStore(t)

	if _, err := store.Get(context.Background(), "11111111-1111-1111-1111-111111111111"); !errors.Is(err, core.ErrConnectionNotFound) {
		t.Fatalf("expected connection not found, got %v", err)
	}
}

func TestSQLiteStoreListNearExpiry(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	soon := time.Now().Add(30 * time.Minute).UTC()
	far := time.Now().Add(72 * time.Hour).UTC()

	expiring, err := store.Create(ctx, core.CreateConnectionInput{
		AccountID:           "acct-1",
		Platform:            "facebook",
		ExternalID:          "ext-1",
		EncryptedCredential: []byte("sealed-credential"),
		Refreshable:         true,
		ExpiresAt:           &soon,
	})
	if err != nil {
		t.Fatalf("create expiring connection: %v", err)
	}
	if _, err := store.Create(ctx, core.CreateConnectionInput{
		AccountID:           "acct-1",
		Platform:            "pinterest",
		ExternalID:          "ext-2",
		EncryptedCredential: []byte("sealed-credential"),
		Refreshable:         true,
		ExpiresAt:           &far,
	}); err != nil {
		t.Fatalf("create far connection: %v", err)
	}
	if _, err := store.Create(ctx, core.CreateConnectionInput{
		AccountID:           "acct-1",
		Platform:            "x",
		ExternalID:          "ext-3",
		EncryptedCredential: []byte("sealed-credential"),
	}); err != nil {
		t.Fatalf("create connection without expiry: %v", err)
	}

	due, err := store.ListNearExpiry(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("list near expiry: %v", err)
	}
	if len(due) != 1 || due[0].ID != expiring.ID {
		t.Fatalf("expected only the expiring connection, got %+v", due)
	}
}
