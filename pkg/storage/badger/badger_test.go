package badger

import (
	"context"
	"errors"
	"os"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/storage"
)

// TestBadgerStorageSuite runs the full record store suite against BadgerStorage.
func TestBadgerStorageSuite(t *testing.T) {
	suite := &storage.RecordStoreTestSuite{
		NewStore: func(t *testing.T) memory.RecordStore {
			db, _ := setupTestDB(t)
			return db
		},
	}

	suite.RunAllTests(t)
}

func setupTestDB(t *testing.T) (*BadgerStorage, string) {
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	config := &Config{
		Path:              tmpDir,
		SyncWrites:        false,   // Faster for tests
		ValueLogFileSize:  1 << 20, // 1MB
		NumVersionsToKeep: 1,
	}

	db, err := NewBadgerStorage(config)
	if err != nil {
		t.Fatalf("Failed to create BadgerStorage: %v", err)
	}
	return db, tmpDir
}

func TestBadgerStorage_InMemory(t *testing.T) {
	db, err := NewBadgerStorage(&Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create in-memory BadgerStorage: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.SaveRecord(ctx, memory.Record{ID: "r1", UserID: "u1", Text: "hello"}); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	rec, err := db.GetRecord(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Text != "hello" {
		t.Errorf("expected text hello, got %q", rec.Text)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	db, dir := setupTestDB(t)
	ctx := context.Background()

	if err := db.SaveRecord(ctx, memory.Record{ID: "r1", UserID: "u1", Text: "persisted"}); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	if err := db.SaveSnapshot(ctx, "u1", []byte{7, 7}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewBadgerStorage(&Config{Path: dir, NumVersionsToKeep: 1})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.GetRecord(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("GetRecord after reopen failed: %v", err)
	}
	if rec.Text != "persisted" {
		t.Errorf("expected persisted text, got %q", rec.Text)
	}
	snap, err := reopened.LoadSnapshot(ctx, "u1")
	if err != nil || len(snap) != 2 {
		t.Errorf("expected snapshot to survive reopen, got %v, %v", snap, err)
	}
	users, _ := reopened.Users(ctx)
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("expected [u1], got %v", users)
	}
}

func TestBadgerStorage_CorruptValue(t *testing.T) {
	db, _ := setupTestDB(t)
	defer db.Close()

	if err := db.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set(recordKey("u1", "bad"), []byte("{not json"))
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := db.GetRecord(context.Background(), "u1", "bad")
	var serr *storage.SerializationError
	if !errors.As(err, &serr) {
		t.Errorf("expected SerializationError, got %v", err)
	}
}

func TestNewBadgerStorage_Unavailable(t *testing.T) {
	file, err := os.CreateTemp("", "badger-not-a-dir-*")
	if err != nil {
		t.Fatal(err)
	}
	file.Close()
	defer os.Remove(file.Name())

	_, err = NewBadgerStorage(&Config{Path: file.Name()})
	var uerr *storage.StorageUnavailableError
	if !errors.As(err, &uerr) {
		t.Errorf("expected StorageUnavailableError, got %v", err)
	}
}
