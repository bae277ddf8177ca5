package memory

import (
	"context"
)

// RecordStore is the durable record boundary consumed by the Hub. Records
// are keyed by (user, id); implementations must never return a record of a
// different user than the one requested.
type RecordStore interface {
	SaveRecord(ctx context.Context, record Record) error
	GetRecord(ctx context.Context, userID, id string) (Record, error)
	DeleteRecord(ctx context.Context, userID, id string) error
	ListRecords(ctx context.Context, userID string, limit, offset int) ([]Record, int, error)
	AllRecords(ctx context.Context, userID string) ([]Record, error)
	DeleteUser(ctx context.Context, userID string) (int, error)
	Users(ctx context.Context) ([]string, error)

	// SaveSnapshot and LoadSnapshot persist an opaque vector index snapshot
	// per user. LoadSnapshot returns an error matching ErrNotFound when
	// no snapshot exists.
	SaveSnapshot(ctx context.Context, userID string, data []byte) error
	LoadSnapshot(ctx context.Context, userID string) ([]byte, error)

	Close() error
}
