package port

import (
	"context"

	"pricemux/internal/domain"
)

// SnapshotStore persists the engine's snapshot map for cold-start
// population and last-resort fallback. Implementations enforce the TTL on
// load: a stale record is reported as absent, not as an error.
type SnapshotStore interface {
	SaveRecord(ctx context.Context, rec domain.CacheRecord) error

	// LoadRecord returns (record, true) only when a record exists and is
	// within its TTL.
	LoadRecord(ctx context.Context) (domain.CacheRecord, bool, error)

	Close() error
}
