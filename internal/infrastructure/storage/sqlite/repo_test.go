package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"pricemux/internal/domain"
)

func TestSQLiteCacheRoundTrip(t *testing.T) {
	dbPath := "test_cache.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	rec := domain.CacheRecord{
		Ts: time.Now().UnixMilli(),
		Snapshots: []domain.PriceSnapshot{
			{Symbol: "BTC", Price: 45000, DisplayPrice: 45000, Volume: 54000000, Source: "binance"},
		},
	}
	if err := repo.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	got, ok, err := repo.LoadRecord(ctx)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected record within TTL")
	}
	if len(got.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(got.Snapshots))
	}
	if got.Snapshots[0].Price != 45000 || got.Snapshots[0].Volume != 54000000 {
		t.Errorf("round trip mismatch: %+v", got.Snapshots[0])
	}
}

func TestSQLiteCacheExpired(t *testing.T) {
	dbPath := "test_expired.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	rec := domain.CacheRecord{
		Ts:        time.Now().UnixMilli(),
		Snapshots: []domain.PriceSnapshot{{Symbol: "BTC", Price: 45000}},
	}
	if err := repo.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	// pretend two hours have passed
	repo.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok, err := repo.LoadRecord(ctx)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if ok {
		t.Errorf("expected expired record to be absent")
	}
}

func TestSQLiteCacheEmpty(t *testing.T) {
	dbPath := "test_empty.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	_, ok, err := repo.LoadRecord(context.Background())
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if ok {
		t.Errorf("expected no record in fresh store")
	}
}

func TestSQLiteCacheOverwrite(t *testing.T) {
	dbPath := "test_overwrite.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath, time.Hour)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	repo.SaveRecord(ctx, domain.CacheRecord{Ts: 1, Snapshots: []domain.PriceSnapshot{{Symbol: "BTC", Price: 1}}})
	repo.SaveRecord(ctx, domain.CacheRecord{Ts: time.Now().UnixMilli(), Snapshots: []domain.PriceSnapshot{{Symbol: "BTC", Price: 2}}})

	got, ok, _ := repo.LoadRecord(ctx)
	if !ok || got.Snapshots[0].Price != 2 {
		t.Errorf("expected latest record to win, got %+v ok=%v", got, ok)
	}
}
