package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/tokenslot/internal/database"
	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

func setupStore(t *testing.T) *database.SQLStore {
	t.Helper()
	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// in-memory store is created successfully
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewSQLiteStore_CreatesSchema(t *testing.T) {
	t.Parallel()
	store := setupStore(t)
	ctx := context.Background()

	// schema is created - insert and retrieve works
	identity := service.Identity{ID: "id-1", Username: "test-user", Secret: []byte("secret-hash")}
	if err := store.InsertIdentity(ctx, identity); err != nil {
		t.Fatalf("schema not created - InsertIdentity failed: %v", err)
	}

	got, err := store.GetIdentity(ctx, "test-user")
	if err != nil {
		t.Fatalf("schema not created - GetIdentity failed: %v", err)
	}
	if string(got.Secret) != "secret-hash" {
		t.Errorf("unexpected secret: %s", string(got.Secret))
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokenslot.db")

	// write a record, close the database
	store, err := database.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	identity := service.Identity{ID: "id-1", Username: "alice", Secret: []byte("s")}
	if err := store.InsertIdentity(ctx, identity); err != nil {
		t.Fatalf("InsertIdentity failed: %v", err)
	}
	expiresAt := time.UnixMilli(1_900_000_000_000)
	if err := store.PutRecord(ctx, "id-1", "hash", expiresAt, time.UnixMilli(1_800_000_000_000)); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// reopening migrates idempotently and sees the same record
	store, err = database.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	record, err := store.GetRecord(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.TokenHash != "hash" || !record.ExpiresAt.Equal(expiresAt) {
		t.Errorf("record = %+v, want hash and %v", record, expiresAt)
	}
}

func TestSQLiteStore_Close(t *testing.T) {
	t.Parallel()
	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	// closing store succeeds without error
	if err := store.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

func TestSQLiteStore_Accessors(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// IdentityStore and RecordStore return the same store instance
	if identityStore := store.IdentityStore(); identityStore != store {
		t.Error("IdentityStore() should return the same store")
	}
	if recordStore := store.RecordStore(); recordStore != store {
		t.Error("RecordStore() should return the same store")
	}
}

func TestSQLiteStore_SharedFileGuardsSlot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokenslot.db")

	// two handles on one file, as two server processes would hold
	first, err := database.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	second, err := database.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	identity := service.Identity{ID: "id-1", Username: "alice", Secret: []byte("s")}
	if err := first.InsertIdentity(ctx, identity); err != nil {
		t.Fatalf("InsertIdentity failed: %v", err)
	}

	// both saw an empty slot at the same instant; only one write lands
	now := time.UnixMilli(1_800_000_000_000)
	expiresAt := now.Add(time.Hour)
	if err := first.PutRecord(ctx, "id-1", "hash-1", expiresAt, now); err != nil {
		t.Fatalf("first PutRecord failed: %v", err)
	}
	err = second.PutRecord(ctx, "id-1", "hash-2", expiresAt, now)
	if !errors.Is(err, service.ErrTokenStillValid) {
		t.Fatalf("second PutRecord error = %v, want ErrTokenStillValid", err)
	}

	record, err := second.GetRecord(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.TokenHash != "hash-1" {
		t.Errorf("TokenHash = %s, want hash-1", record.TokenHash)
	}
}

func TestOpen_Drivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// sqlite and memory drivers open
	for _, driver := range []string{database.DriverSQLite, database.DriverMemory} {
		store, err := database.Open(ctx, driver, ":memory:")
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", driver, err)
		}
		_ = store.Close()
	}

	// unknown driver fails
	if _, err := database.Open(ctx, "oracle", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}
