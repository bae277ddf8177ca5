// Package storage provides durable record storage for the retrieval engine.
// Backends implement memory.RecordStore; this package holds the shared
// error types, ordering rules and a conformance suite.
package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goclaw/recall/pkg/memory"
)

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// Unwrap lets callers match memory.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return memory.ErrNotFound
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Cause
}

// IsUnavailable reports whether err stems from an unreachable backend.
func IsUnavailable(err error) bool {
	var unavailable *StorageUnavailableError
	return errors.As(err, &unavailable)
}

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// ValidateRecord checks the fields every backend keys on.
func ValidateRecord(record memory.Record) error {
	if record.UserID == "" {
		return memory.ErrInvalidUserID
	}
	if record.ID == "" {
		return memory.ErrInvalidRecordID
	}
	return nil
}

// SortRecords orders records by creation time, then ID.
func SortRecords(records []memory.Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// Paginate returns the page of sorted records selected by limit and offset.
// A non-positive limit returns everything after offset.
func Paginate(records []memory.Record, limit, offset int) []memory.Record {
	if offset < 0 {
		offset = 0
	}
	if offset > len(records) {
		offset = len(records)
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}
