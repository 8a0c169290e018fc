package conversion

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record lookup matches nothing.
var ErrNotFound = errors.New("conversion: record not found")

// Repository persists conversion attempts. Records are immutable once
// written; there is no update path.
type Repository interface {
	// Create inserts a record. A concurrent insert of the same hl7_hash
	// must not fail the call: implementations keep the first row and
	// leave the new one unwritten.
	Create(ctx context.Context, rec *Record) error
	// GetByHash returns the record for a content hash, or ErrNotFound.
	GetByHash(ctx context.Context, hash string) (*Record, error)
	// List returns records newest first plus the total count.
	List(ctx context.Context, limit, offset int) ([]*Record, int, error)
}
