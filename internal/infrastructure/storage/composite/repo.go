package composite

import (
	"context"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

// Repo fans a save out to every tier and serves loads from the first tier
// holding a fresh record.
type Repo struct {
	stores []port.SnapshotStore
}

func New(stores ...port.SnapshotStore) *Repo {
	// nil stores are allowed; filter in constructor for safety
	out := make([]port.SnapshotStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Repo{stores: out}
}

func (r *Repo) SaveRecord(ctx context.Context, rec domain.CacheRecord) error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.SaveRecord(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) LoadRecord(ctx context.Context) (domain.CacheRecord, bool, error) {
	var firstErr error
	for _, s := range r.stores {
		rec, ok, err := s.LoadRecord(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return rec, true, nil
		}
	}
	return domain.CacheRecord{}, false, firstErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.SnapshotStore = (*Repo)(nil)
