package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

type stubRest struct {
	tick  port.RawTick
	err   error
	calls int
}

func (s *stubRest) Name() string { return "stub" }

func (s *stubRest) FetchTicker(ctx context.Context, symbol string) (port.RawTick, error) {
	s.calls++
	if s.err != nil {
		return port.RawTick{}, s.err
	}
	return s.tick, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, coin, venue string) (string, bool) {
	return strings.ToUpper(coin) + "USDT", true
}

func (stubResolver) Coverage(ctx context.Context, coin string, venueOrder []string) []string {
	return venueOrder
}

type stubStatus struct {
	open map[string]bool
}

func (s *stubStatus) IsOpen(venue string) bool { return s.open[venue] }

type stubStore struct {
	rec domain.CacheRecord
	ok  bool
	err error
}

func (s *stubStore) SaveRecord(ctx context.Context, rec domain.CacheRecord) error { return nil }

func (s *stubStore) LoadRecord(ctx context.Context) (domain.CacheRecord, bool, error) {
	return s.rec, s.ok, s.err
}

func (s *stubStore) Close() error { return nil }

func newTestFallback(rest *stubRest, status *stubStatus, store *stubStore) (*Fallback, *Reconciler, *fakeClock) {
	rec, clk := newTestReconciler(ReconcilerConfig{})
	f := NewFallback(
		FallbackConfig{
			FailLimit:      2,
			LivenessWindow: 30 * time.Second,
			VenueOrder:     []string{"binance"},
		},
		[]string{"BTC"},
		rec,
		map[string]port.RestSource{"binance": rest},
		stubResolver{},
		status,
		store,
	)
	f.now = clk.now
	return f, rec, clk
}

func TestSweepSkipsLiveAsset(t *testing.T) {
	rest := &stubRest{}
	f, rec, _ := newTestFallback(rest, &stubStatus{open: map[string]bool{"binance": true}}, &stubStore{})

	rec.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	f.Sweep(context.Background())

	if rest.calls != 0 {
		t.Errorf("live asset should not be polled, calls = %d", rest.calls)
	}
}

func TestSweepPollsRestWhenStreamDown(t *testing.T) {
	rest := &stubRest{tick: port.RawTick{Price: 42, Change24h: 1.2}}
	f, rec, _ := newTestFallback(rest, &stubStatus{open: map[string]bool{}}, &stubStore{})

	f.Sweep(context.Background())

	if rest.calls != 1 {
		t.Fatalf("rest calls = %d, want 1", rest.calls)
	}
	snap, ok := rec.Snapshot("BTC")
	if !ok || snap.Price != 42 {
		t.Fatalf("rest tick not ingested: %+v", snap)
	}
	if snap.Source != "binance" {
		t.Errorf("source = %q, want binance", snap.Source)
	}
}

func TestSweepPollsRestWhenSnapshotStale(t *testing.T) {
	rest := &stubRest{tick: port.RawTick{Price: 50}}
	f, rec, clk := newTestFallback(rest, &stubStatus{open: map[string]bool{"binance": true}}, &stubStore{})

	rec.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	clk.advance(time.Minute)
	f.Sweep(context.Background())

	if rest.calls != 1 {
		t.Errorf("stale snapshot should trigger rest poll, calls = %d", rest.calls)
	}
}

func TestSweepServesCacheAfterRepeatedFailures(t *testing.T) {
	rest := &stubRest{err: errors.New("rate limited")}
	store := &stubStore{
		rec: domain.CacheRecord{
			Snapshots: []domain.PriceSnapshot{{Symbol: "BTC", Price: 99, DisplayPrice: 99}},
		},
		ok: true,
	}
	f, rec, _ := newTestFallback(rest, &stubStatus{open: map[string]bool{}}, store)

	ctx := context.Background()
	f.Sweep(ctx) // first failure, under the limit
	if _, ok := rec.Snapshot("BTC"); ok {
		t.Fatal("no snapshot expected before the fail limit")
	}

	f.Sweep(ctx) // second failure reaches the limit
	snap, ok := rec.Snapshot("BTC")
	if !ok {
		t.Fatal("cache tier should have served BTC")
	}
	if snap.Source != domain.SourceCache {
		t.Errorf("source = %q, want %q", snap.Source, domain.SourceCache)
	}
	if snap.Price != 99 {
		t.Errorf("price = %v, want 99", snap.Price)
	}
}

func TestSweepMarksUnsupportedWhenCacheEmpty(t *testing.T) {
	rest := &stubRest{err: errors.New("down")}
	f, rec, _ := newTestFallback(rest, &stubStatus{open: map[string]bool{}}, &stubStore{})

	ctx := context.Background()
	f.Sweep(ctx)
	f.Sweep(ctx)

	snap, ok := rec.Snapshot("BTC")
	if !ok || !snap.Unsupported {
		t.Fatalf("expected unsupported, got %+v ok=%v", snap, ok)
	}
}

func TestPollRestHonorsVenueOrder(t *testing.T) {
	primary := &stubRest{err: errors.New("down")}
	secondary := &stubRest{tick: port.RawTick{Price: 7}}

	rec, clk := newTestReconciler(ReconcilerConfig{})
	f := NewFallback(
		FallbackConfig{
			FailLimit:      2,
			LivenessWindow: 30 * time.Second,
			VenueOrder:     []string{"binance", "bybit"},
		},
		[]string{"BTC"},
		rec,
		map[string]port.RestSource{"binance": primary, "bybit": secondary},
		stubResolver{},
		&stubStatus{open: map[string]bool{}},
		&stubStore{},
	)
	f.now = clk.now

	f.Sweep(context.Background())

	if primary.calls != 1 {
		t.Errorf("primary venue should be tried first, calls = %d", primary.calls)
	}
	snap, ok := rec.Snapshot("BTC")
	if !ok || snap.Source != "bybit" || snap.Price != 7 {
		t.Fatalf("expected secondary venue to serve, got %+v", snap)
	}
}

func TestRestSuccessResetsFailureStreak(t *testing.T) {
	rest := &stubRest{err: errors.New("down")}
	f, rec, _ := newTestFallback(rest, &stubStatus{open: map[string]bool{}}, &stubStore{})

	ctx := context.Background()
	f.Sweep(ctx) // failure #1
	rest.err = nil
	rest.tick = port.RawTick{Price: 10}
	f.Sweep(ctx) // success resets the streak
	rest.err = errors.New("down again")
	f.Sweep(ctx) // failure #1 again, still under the limit

	snap, _ := rec.Snapshot("BTC")
	if snap.Unsupported {
		t.Error("streak should have reset after a successful poll")
	}
}
