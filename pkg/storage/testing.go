package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// RecordStoreTestSuite defines a test suite that can be run against any
// memory.RecordStore implementation.
type RecordStoreTestSuite struct {
	NewStore func(t *testing.T) memory.RecordStore
}

// RunAllTests runs all record store tests against the provided implementation.
func (s *RecordStoreTestSuite) RunAllTests(t *testing.T) {
	t.Run("RecordCRUD", s.TestRecordCRUD)
	t.Run("UserIsolation", s.TestUserIsolation)
	t.Run("ListPagination", s.TestListPagination)
	t.Run("DeleteUser", s.TestDeleteUser)
	t.Run("Users", s.TestUsers)
	t.Run("Snapshots", s.TestSnapshots)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("ErrorHandling", s.TestErrorHandling)
}

var suiteEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func suiteRecord(user, id string, minute int) memory.Record {
	return memory.Record{
		ID:        id,
		UserID:    user,
		Text:      fmt.Sprintf("%s text for %s", id, user),
		Metadata:  map[string]string{"type": "fact"},
		CreatedAt: suiteEpoch.Add(time.Duration(minute) * time.Minute),
	}
}

// TestRecordCRUD tests save, get, overwrite and delete.
func (s *RecordStoreTestSuite) TestRecordCRUD(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := suiteRecord("u1", "r1", 0)

	if err := store.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	got, err := store.GetRecord(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Text != rec.Text || got.UserID != "u1" {
		t.Errorf("expected %+v, got %+v", rec, got)
	}
	if got.Metadata["type"] != "fact" {
		t.Errorf("expected metadata to round-trip, got %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected CreatedAt %v, got %v", rec.CreatedAt, got.CreatedAt)
	}

	// Callers must not be able to mutate stored state through returned values.
	got.Metadata["type"] = "changed"
	again, _ := store.GetRecord(ctx, "u1", "r1")
	if again.Metadata["type"] != "fact" {
		t.Error("stored metadata was mutated through a returned record")
	}

	rec.Text = "updated text"
	if err := store.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord (update) failed: %v", err)
	}
	updated, err := store.GetRecord(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("GetRecord (after update) failed: %v", err)
	}
	if updated.Text != "updated text" {
		t.Errorf("expected updated text, got %q", updated.Text)
	}

	if err := store.DeleteRecord(ctx, "u1", "r1"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if _, err := store.GetRecord(ctx, "u1", "r1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestUserIsolation verifies that records are keyed by (user, id).
func (s *RecordStoreTestSuite) TestUserIsolation(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, rec := range []memory.Record{
		suiteRecord("a", "same", 0),
		suiteRecord("a:b", "same", 1),
		suiteRecord("a:b", "other", 2),
	} {
		if err := store.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
	}

	got, err := store.GetRecord(ctx, "a", "same")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.UserID != "a" {
		t.Errorf("expected record of user a, got %q", got.UserID)
	}

	all, err := store.AllRecords(ctx, "a")
	if err != nil {
		t.Fatalf("AllRecords failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record for user a, got %d", len(all))
	}
	for _, rec := range all {
		if rec.UserID != "a" {
			t.Errorf("user a received record of %q", rec.UserID)
		}
	}

	if _, err := store.GetRecord(ctx, "b", "same"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user, got %v", err)
	}
}

// TestListPagination tests ordering, totals and page boundaries.
func (s *RecordStoreTestSuite) TestListPagination(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	// Saved out of order; listing sorts by CreatedAt.
	for _, minute := range []int{3, 0, 4, 1, 2} {
		if err := store.SaveRecord(ctx, suiteRecord("u1", fmt.Sprintf("r%d", minute), minute)); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
	}

	page, total, err := store.ListRecords(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 2 || page[0].ID != "r0" || page[1].ID != "r1" {
		t.Errorf("unexpected first page: %+v", page)
	}

	page, _, err = store.ListRecords(ctx, "u1", 2, 4)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "r4" {
		t.Errorf("unexpected last page: %+v", page)
	}

	page, total, err = store.ListRecords(ctx, "u1", 10, 50)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(page) != 0 || total != 5 {
		t.Errorf("expected empty page with total 5, got %d records, total %d", len(page), total)
	}

	page, total, err = store.ListRecords(ctx, "nobody", 10, 0)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(page) != 0 || total != 0 {
		t.Errorf("expected nothing for unknown user, got %d records", len(page))
	}
}

// TestDeleteUser verifies that a user's records and snapshot go together.
func (s *RecordStoreTestSuite) TestDeleteUser(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.SaveRecord(ctx, suiteRecord("u1", fmt.Sprintf("r%d", i), i)); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
	}
	if err := store.SaveRecord(ctx, suiteRecord("u2", "keep", 0)); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	if err := store.SaveSnapshot(ctx, "u1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	n, err := store.DeleteUser(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted records, got %d", n)
	}

	all, _ := store.AllRecords(ctx, "u1")
	if len(all) != 0 {
		t.Errorf("expected no records after DeleteUser, got %d", len(all))
	}
	if _, err := store.LoadSnapshot(ctx, "u1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected snapshot to be deleted, got %v", err)
	}
	if _, err := store.GetRecord(ctx, "u2", "keep"); err != nil {
		t.Errorf("other users must be untouched: %v", err)
	}

	n, err = store.DeleteUser(ctx, "nobody")
	if err != nil || n != 0 {
		t.Errorf("expected (0, nil) for unknown user, got (%d, %v)", n, err)
	}
}

// TestUsers tests the user listing used for hydration.
func (s *RecordStoreTestSuite) TestUsers(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, user := range []string{"carol", "alice", "bob", "alice"} {
		if err := store.SaveRecord(ctx, suiteRecord(user, "r-"+user, 0)); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
	}

	users, err := store.Users(ctx)
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if fmt.Sprint(users) != fmt.Sprint(want) {
		t.Errorf("expected users %v, got %v", want, users)
	}

	if err := store.DeleteRecord(ctx, "bob", "r-bob"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	users, _ = store.Users(ctx)
	if fmt.Sprint(users) != fmt.Sprint([]string{"alice", "carol"}) {
		t.Errorf("expected users without records to be dropped, got %v", users)
	}
}

// TestSnapshots tests opaque snapshot persistence.
func (s *RecordStoreTestSuite) TestSnapshots(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	if _, err := store.LoadSnapshot(ctx, "u1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound before save, got %v", err)
	}

	data := []byte{0, 1, 2, 3, 255}
	if err := store.SaveSnapshot(ctx, "u1", data); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	data[0] = 9

	got, err := store.LoadSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if fmt.Sprint(got) != fmt.Sprint([]byte{0, 1, 2, 3, 255}) {
		t.Errorf("unexpected snapshot %v", got)
	}
}

// TestConcurrentAccess tests concurrent writes and reads.
func (s *RecordStoreTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			if err := store.SaveRecord(ctx, suiteRecord("u1", fmt.Sprintf("r%d", n), n)); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, _, err := store.ListRecords(ctx, "u1", 10, 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent access error: %v", err)
	}

	all, err := store.AllRecords(ctx, "u1")
	if err != nil {
		t.Fatalf("AllRecords failed: %v", err)
	}
	if len(all) != 50 {
		t.Errorf("expected 50 records, got %d", len(all))
	}
}

// TestErrorHandling tests validation and not-found errors.
func (s *RecordStoreTestSuite) TestErrorHandling(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRecord(ctx, memory.Record{ID: "r1"}); !errors.Is(err, memory.ErrInvalidUserID) {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
	if err := store.SaveRecord(ctx, memory.Record{UserID: "u1"}); !errors.Is(err, memory.ErrInvalidRecordID) {
		t.Errorf("expected ErrInvalidRecordID, got %v", err)
	}

	err := store.DeleteRecord(ctx, "u1", "missing")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected *NotFoundError, got %T", err)
	} else if nf.EntityType != "record" || nf.ID != "missing" {
		t.Errorf("unexpected NotFoundError fields: %+v", nf)
	}
}
