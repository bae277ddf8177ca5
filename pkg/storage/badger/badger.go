// Package badger provides a Badger-based implementation of memory.RecordStore.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	InMemory          bool
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// BadgerStorage implements memory.RecordStore using Badger.
//
// Key layout, with user IDs query-escaped so one user's prefix can never
// match another's:
//
//	record:{user}:{id}  -> JSON record
//	user:{user}         -> empty marker, present while the user has records
//	snapshot:{user}     -> opaque vector snapshot
type BadgerStorage struct {
	db     *badger.DB
	config *Config
}

var _ memory.RecordStore = (*BadgerStorage)(nil)

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

// Key generation functions
func escapeUser(userID string) string {
	return url.QueryEscape(userID)
}

func recordPrefix(userID string) []byte {
	return []byte("record:" + escapeUser(userID) + ":")
}

func recordKey(userID, id string) []byte {
	return append(recordPrefix(userID), id...)
}

func userKey(userID string) []byte {
	return []byte("user:" + escapeUser(userID))
}

func snapshotKey(userID string) []byte {
	return []byte("snapshot:" + escapeUser(userID))
}

// Serialization helpers
func serialize(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{
			Operation: "marshal",
			Cause:     err,
		}
	}
	return data, nil
}

func deserialize(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{
			Operation: "unmarshal",
			Cause:     err,
		}
	}
	return nil
}

// SaveRecord inserts or replaces a record.
func (b *BadgerStorage) SaveRecord(ctx context.Context, rec memory.Record) error {
	if err := storage.ValidateRecord(rec); err != nil {
		return err
	}
	data, err := serialize(rec)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.UserID, rec.ID), data); err != nil {
			return err
		}
		return txn.Set(userKey(rec.UserID), []byte{})
	})
}

// GetRecord retrieves a record by user and ID.
func (b *BadgerStorage) GetRecord(ctx context.Context, userID, id string) (memory.Record, error) {
	var rec memory.Record

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(userID, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{EntityType: "record", ID: id}
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return deserialize(val, &rec)
		})
	})
	if err != nil {
		return memory.Record{}, err
	}
	return rec, nil
}

// DeleteRecord deletes a record, dropping the user marker with the last one.
func (b *BadgerStorage) DeleteRecord(ctx context.Context, userID, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := recordKey(userID, id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{EntityType: "record", ID: id}
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}

		if countKeys(txn, recordPrefix(userID)) == 0 {
			return txn.Delete(userKey(userID))
		}
		return nil
	})
}

// countKeys counts keys under prefix without fetching values. Pending
// deletes in txn are already excluded.
func countKeys(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// ListRecords returns one page of the user's records ordered by creation time.
func (b *BadgerStorage) ListRecords(ctx context.Context, userID string, limit, offset int) ([]memory.Record, int, error) {
	all, err := b.AllRecords(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return storage.Paginate(all, limit, offset), len(all), nil
}

// AllRecords returns every record of the user ordered by creation time.
func (b *BadgerStorage) AllRecords(ctx context.Context, userID string) ([]memory.Record, error) {
	records := []memory.Record{}

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix(userID)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec memory.Record
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	storage.SortRecords(records)
	return records, nil
}

// DeleteUser removes the user's records, marker and snapshot.
func (b *BadgerStorage) DeleteUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := b.db.View(func(txn *badger.Txn) error {
		n = countKeys(txn, recordPrefix(userID))
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := b.db.DropPrefix(recordPrefix(userID)); err != nil {
		return 0, &storage.StorageUnavailableError{Cause: err}
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(userKey(userID)); err != nil {
			return err
		}
		return txn.Delete(snapshotKey(userID))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Users returns every user with at least one record, sorted.
func (b *BadgerStorage) Users(ctx context.Context) ([]string, error) {
	users := []string{}

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("user:")
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			escaped := strings.TrimPrefix(string(it.Item().Key()), "user:")
			userID, err := url.QueryUnescape(escaped)
			if err != nil {
				return &storage.SerializationError{Operation: "decode user key", Cause: err}
			}
			users = append(users, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(users)
	return users, nil
}

// SaveSnapshot stores the user's vector snapshot.
func (b *BadgerStorage) SaveSnapshot(ctx context.Context, userID string, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(userID), append([]byte(nil), data...))
	})
}

// LoadSnapshot returns the user's vector snapshot.
func (b *BadgerStorage) LoadSnapshot(ctx context.Context, userID string) ([]byte, error) {
	var data []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{EntityType: "snapshot", ID: userID}
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	// Run garbage collection before closing; ErrNoRewrite just means there was nothing to collect.
	if !b.config.InMemory {
		_ = b.db.RunValueLogGC(0.5)
	}

	return b.db.Close()
}
