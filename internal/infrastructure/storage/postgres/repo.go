package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

// Repo archives every saved cache record. It is append-only history for
// offline analysis; cold-start loads come from the sqlite/redis tiers, so
// LoadRecord always reports absent.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshot_history (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshot_history_ts ON snapshot_history(ts_ms);
`)
	return err
}

func (r *Repo) SaveRecord(ctx context.Context, rec domain.CacheRecord) error {
	payload, err := json.Marshal(rec.Snapshots)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshot_history(ts_ms, payload) VALUES($1, $2)`,
		rec.Ts, string(payload))
	return err
}

func (r *Repo) LoadRecord(ctx context.Context) (domain.CacheRecord, bool, error) {
	// archive tier only
	return domain.CacheRecord{}, false, nil
}

var _ port.SnapshotStore = (*Repo)(nil)
