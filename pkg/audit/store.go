package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an audit record does not exist
var ErrNotFound = errors.New("audit record not found")

// Store persists audit records. Append is the only write operation: records
// are never updated or deleted individually, only expired wholesale through
// Cleanup.
type Store interface {
	// Append assigns the record its chain position (sequence, previous hash,
	// previous record id, hash) and persists it. Implementations must
	// serialize appends per org scope so two concurrent writers cannot both
	// read the same chain head.
	Append(ctx context.Context, rec *Record) error

	// List returns records for a scope in ascending chain order
	List(ctx context.Context, orgID string, limit, offset int) ([]*Record, error)

	// Search returns records matching the filter in ascending chain order
	Search(ctx context.Context, f Filter) ([]*Record, error)

	// Scopes returns all org scopes that have at least one record
	Scopes(ctx context.Context) ([]string, error)

	// Cleanup deletes records older than the cutoff and returns how many
	// were removed. This is the out-of-band archival path, not a mutation of
	// the chain: callers are expected to export before cleaning up.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}
