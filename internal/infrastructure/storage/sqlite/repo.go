package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

// Repo is the embedded snapshot cache. One row holds the latest cache
// record; older records are overwritten, the TTL is enforced on load.
type Repo struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func New(path string, ttl time.Duration) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, ttl: ttl, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshot_cache (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  ts_ms INTEGER NOT NULL,
  payload TEXT NOT NULL
);
`)
	return err
}

func (r *Repo) SaveRecord(ctx context.Context, rec domain.CacheRecord) error {
	payload, err := json.Marshal(rec.Snapshots)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshot_cache(id, ts_ms, payload)
		VALUES(1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		ts_ms=excluded.ts_ms, payload=excluded.payload
	`, rec.Ts, string(payload))
	return err
}

func (r *Repo) LoadRecord(ctx context.Context) (domain.CacheRecord, bool, error) {
	var ts int64
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT ts_ms, payload FROM snapshot_cache WHERE id=1`).
		Scan(&ts, &payload)
	if err == sql.ErrNoRows {
		return domain.CacheRecord{}, false, nil
	}
	if err != nil {
		return domain.CacheRecord{}, false, err
	}

	if r.ttl > 0 && r.now().UnixMilli()-ts >= r.ttl.Milliseconds() {
		return domain.CacheRecord{}, false, nil
	}

	var snaps []domain.PriceSnapshot
	if err := json.Unmarshal([]byte(payload), &snaps); err != nil {
		return domain.CacheRecord{}, false, err
	}
	return domain.CacheRecord{Ts: ts, Snapshots: snaps}, true, nil
}

var _ port.SnapshotStore = (*Repo)(nil)
