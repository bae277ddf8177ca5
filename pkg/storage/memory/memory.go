// Package memory provides an in-memory implementation of memory.RecordStore.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/storage"
)

// MemoryStorage implements memory.RecordStore using in-memory maps.
type MemoryStorage struct {
	mu        sync.RWMutex
	records   map[string]map[string]memory.Record // userID -> recordID -> Record
	snapshots map[string][]byte
}

var _ memory.RecordStore = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:   make(map[string]map[string]memory.Record),
		snapshots: make(map[string][]byte),
	}
}

// copyRecord deep copies a record to avoid external modifications.
func copyRecord(rec memory.Record) memory.Record {
	copied := rec
	if rec.Metadata != nil {
		copied.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			copied.Metadata[k] = v
		}
	}
	return copied
}

// SaveRecord inserts or replaces a record.
func (m *MemoryStorage) SaveRecord(ctx context.Context, rec memory.Record) error {
	if err := storage.ValidateRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	userRecords, ok := m.records[rec.UserID]
	if !ok {
		userRecords = make(map[string]memory.Record)
		m.records[rec.UserID] = userRecords
	}
	userRecords[rec.ID] = copyRecord(rec)
	return nil
}

// GetRecord retrieves a record by user and ID.
func (m *MemoryStorage) GetRecord(ctx context.Context, userID, id string) (memory.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[userID][id]
	if !exists {
		return memory.Record{}, &storage.NotFoundError{EntityType: "record", ID: id}
	}
	return copyRecord(rec), nil
}

// DeleteRecord deletes a record.
func (m *MemoryStorage) DeleteRecord(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	userRecords := m.records[userID]
	if _, exists := userRecords[id]; !exists {
		return &storage.NotFoundError{EntityType: "record", ID: id}
	}
	delete(userRecords, id)
	if len(userRecords) == 0 {
		delete(m.records, userID)
	}
	return nil
}

// ListRecords returns one page of the user's records ordered by creation time.
func (m *MemoryStorage) ListRecords(ctx context.Context, userID string, limit, offset int) ([]memory.Record, int, error) {
	all, err := m.AllRecords(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return storage.Paginate(all, limit, offset), len(all), nil
}

// AllRecords returns every record of the user ordered by creation time.
func (m *MemoryStorage) AllRecords(ctx context.Context, userID string) ([]memory.Record, error) {
	m.mu.RLock()
	records := make([]memory.Record, 0, len(m.records[userID]))
	for _, rec := range m.records[userID] {
		records = append(records, copyRecord(rec))
	}
	m.mu.RUnlock()

	storage.SortRecords(records)
	return records, nil
}

// DeleteUser removes the user's records and snapshot.
func (m *MemoryStorage) DeleteUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.records[userID])
	delete(m.records, userID)
	delete(m.snapshots, userID)
	return n, nil
}

// Users returns every user with at least one record, sorted.
func (m *MemoryStorage) Users(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]string, 0, len(m.records))
	for userID := range m.records {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// SaveSnapshot stores a copy of the user's vector snapshot.
func (m *MemoryStorage) SaveSnapshot(ctx context.Context, userID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[userID] = append([]byte(nil), data...)
	return nil
}

// LoadSnapshot returns the user's vector snapshot.
func (m *MemoryStorage) LoadSnapshot(ctx context.Context, userID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[userID]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "snapshot", ID: userID}
	}
	return append([]byte(nil), data...), nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}
