package redis

import (
	"context"
	"encoding/json"
	"time"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Repo keeps the latest cache record under one key with a server-side TTL,
// so expiry needs no bookkeeping on our side.
type Repo struct {
	rdb      *redis.Client
	keyCache string // prefix + ":cache"
	ttl      time.Duration
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	return &Repo{
		rdb:      rdb,
		keyCache: prefix + ":cache",
		ttl:      ttl,
	}
}

func (r *Repo) SaveRecord(ctx context.Context, rec domain.CacheRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.keyCache, string(b), r.ttl).Err()
}

func (r *Repo) LoadRecord(ctx context.Context) (domain.CacheRecord, bool, error) {
	s, err := r.rdb.Get(ctx, r.keyCache).Result()
	if err == redis.Nil {
		return domain.CacheRecord{}, false, nil
	}
	if err != nil {
		return domain.CacheRecord{}, false, err
	}

	var rec domain.CacheRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return domain.CacheRecord{}, false, err
	}
	return rec, true, nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.SnapshotStore = (*Repo)(nil)
