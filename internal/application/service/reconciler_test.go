package service

import (
	"math"
	"testing"
	"time"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReconciler(cfg ReconcilerConfig) (*Reconciler, *fakeClock) {
	r := NewReconciler(cfg)
	clk := newFakeClock()
	r.now = clk.now
	return r, clk
}

func TestIngestDiscardsAllNonPositive(t *testing.T) {
	r, _ := newTestReconciler(ReconcilerConfig{})

	if r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: -1, Volume: 0}) {
		t.Fatal("tick with no positive fields should be discarded")
	}
	if _, ok := r.Snapshot("BTC"); ok {
		t.Fatal("discarded tick must not create a snapshot")
	}
}

func TestIngestStripsNonPositiveFieldsKeepsRest(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100, High24h: 110, Low24h: 90, Volume: 1000})

	// second tick carries bogus price/high/low but a usable volume
	clk.advance(2 * time.Second)
	if !r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 0, High24h: -5, Low24h: 0, Volume: 2000}) {
		t.Fatal("tick with one positive field should still apply")
	}

	snap, ok := r.Snapshot("BTC")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.High24h != 110 || snap.Low24h != 90 {
		t.Errorf("non-positive fields must not overwrite: high=%v low=%v", snap.High24h, snap.Low24h)
	}
	if snap.Price != 100 {
		t.Errorf("price overwritten by zero: %v", snap.Price)
	}
}

func TestThrottleLatestWins(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{ThrottleWindow: time.Second})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})

	// both inside the window: only the second survives as pending
	clk.advance(100 * time.Millisecond)
	r.Ingest(port.RawTick{Venue: "bybit", Symbol: "BTC", Price: 100.01})
	clk.advance(100 * time.Millisecond)
	r.Ingest(port.RawTick{Venue: "okx", Symbol: "BTC", Price: 100.02})

	snap, _ := r.Snapshot("BTC")
	if snap.Price != 100 {
		t.Fatalf("throttled tick applied early: %v", snap.Price)
	}

	clk.advance(time.Second)
	r.FlushPending()

	snap, _ = r.Snapshot("BTC")
	if snap.Price != 100.02 {
		t.Errorf("pending should be latest tick, got price %v", snap.Price)
	}
	if snap.Source != "okx" {
		t.Errorf("source = %q, want okx", snap.Source)
	}
}

func TestDirectApplyDropsOlderPending(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{ThrottleWindow: time.Second})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	clk.advance(100 * time.Millisecond)
	r.Ingest(port.RawTick{Venue: "bybit", Symbol: "BTC", Price: 101}) // parked

	clk.advance(time.Second)
	if !r.Ingest(port.RawTick{Venue: "okx", Symbol: "BTC", Price: 102}) {
		t.Fatal("tick past the window should apply directly")
	}

	// the stale parked tick must not come back on the next flush
	clk.advance(2 * time.Second)
	r.FlushPending()

	snap, _ := r.Snapshot("BTC")
	if snap.Price != 102 {
		t.Errorf("older pending tick resurfaced: price=%v", snap.Price)
	}
	if snap.Source != "okx" {
		t.Errorf("source = %q, want okx", snap.Source)
	}
}

func TestPrioritySymbolUsesShorterWindow(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{
		ThrottleWindow:         2 * time.Second,
		PriorityThrottleWindow: 200 * time.Millisecond,
		PrioritySymbols:        []string{"btc"},
	})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "ETH", Price: 10})

	clk.advance(300 * time.Millisecond)
	if !r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100.001}) {
		t.Error("priority symbol should accept after its short window")
	}
	if r.Ingest(port.RawTick{Venue: "binance", Symbol: "ETH", Price: 10.001}) {
		t.Error("non-priority symbol should still be throttled")
	}
}

func TestClampBoundsSingleTickJump(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{
		MaxChangeFraction: 0.10,
		InterpSteps:       1,
	})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 200})
	r.StepInterpolations()

	snap, _ := r.Snapshot("BTC")
	if snap.Price != 200 {
		t.Errorf("raw price must stay authoritative: %v", snap.Price)
	}
	if math.Abs(snap.DisplayPrice-110) > 1e-9 {
		t.Errorf("display should clamp to 110, got %v", snap.DisplayPrice)
	}

	// downward jump clamps symmetrically
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 1})
	r.StepInterpolations()

	snap, _ = r.Snapshot("BTC")
	if math.Abs(snap.DisplayPrice-99) > 1e-9 {
		t.Errorf("display should clamp to 99, got %v", snap.DisplayPrice)
	}
}

func TestFirstTickSetsDisplayInstantly(t *testing.T) {
	r, _ := newTestReconciler(ReconcilerConfig{})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100, Change24h: 2.5})

	snap, _ := r.Snapshot("BTC")
	if snap.DisplayPrice != 100 {
		t.Errorf("first tick should display without animation, got %v", snap.DisplayPrice)
	}
	if snap.DisplayChange24h != 2.5 {
		t.Errorf("display change = %v, want 2.5", snap.DisplayChange24h)
	}
	if len(r.interp) != 0 {
		t.Error("no interpolation expected on first tick")
	}
}

func TestSignificantChangeInterpolates(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{
		SignificanceFraction: 0.0005,
		InterpSteps:          4,
	})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 101})

	snap, _ := r.Snapshot("BTC")
	if snap.DisplayPrice != 100 {
		t.Fatalf("display should not jump before stepping, got %v", snap.DisplayPrice)
	}
	if snap.Direction != domain.DirectionUp {
		t.Errorf("direction = %v, want up", snap.Direction)
	}

	for i := 0; i < 4; i++ {
		r.StepInterpolations()
	}
	snap, _ = r.Snapshot("BTC")
	if snap.DisplayPrice != 101 {
		t.Errorf("display should land exactly on target, got %v", snap.DisplayPrice)
	}
	if len(r.interp) != 0 {
		t.Error("finished interpolation should be dropped")
	}
}

func TestInsignificantChangeSnapsDirectly(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{
		SignificanceFraction: 0.001,
	})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100000})
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100001})

	snap, _ := r.Snapshot("BTC")
	if snap.DisplayPrice != 100001 {
		t.Errorf("sub-threshold change should apply directly, got %v", snap.DisplayPrice)
	}
	if len(r.interp) != 0 {
		t.Error("no interpolation expected for insignificant change")
	}
}

func TestNewTickReplacesInFlightInterpolation(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{InterpSteps: 10})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 105})
	r.StepInterpolations()
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 101})

	st := r.interp["BTC"]
	if st == nil {
		t.Fatal("replacement interpolation missing")
	}
	if st.EndPrice != 101 {
		t.Errorf("new interpolation should target 101, got %v", st.EndPrice)
	}
	if st.Step != 0 {
		t.Errorf("replacement should restart, step = %d", st.Step)
	}
}

func TestVolumeBlending(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{
		VolumeLowRatio:  0.1,
		VolumeHighRatio: 2.0,
	})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100, Volume: 1000})

	// far below the low ratio: keep existing
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "bybit", Symbol: "BTC", Price: 100, Volume: 50})
	snap, _ := r.Snapshot("BTC")
	if snap.Volume != 1000 {
		t.Errorf("tiny volume should be discarded, got %v", snap.Volume)
	}

	// above the high ratio: accept outright
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "bybit", Symbol: "BTC", Price: 100, Volume: 3000})
	snap, _ = r.Snapshot("BTC")
	if snap.Volume != 3000 {
		t.Errorf("large volume should replace aggregate, got %v", snap.Volume)
	}

	// middle range: weighted blend, w = (ratio-low)/(high-low)
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "okx", Symbol: "BTC", Price: 100, Volume: 1500})
	snap, _ = r.Snapshot("BTC")
	// ratio = 0.5, w = (0.5-0.1)/1.9
	w := (0.5 - 0.1) / 1.9
	want := 3000*(1-w) + 1500*w
	if math.Abs(snap.Volume-want) > 1e-9 {
		t.Errorf("blended volume = %v, want %v", snap.Volume, want)
	}
}

func TestRestoreDoesNotOverwriteLive(t *testing.T) {
	r, _ := newTestReconciler(ReconcilerConfig{})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	r.Restore(domain.CacheRecord{
		Ts: time.Now().UnixMilli(),
		Snapshots: []domain.PriceSnapshot{
			{Symbol: "BTC", Price: 50, DisplayPrice: 50},
			{Symbol: "ETH", Price: 10, DisplayPrice: 10},
		},
	}, domain.SourceRestored)

	btc, _ := r.Snapshot("BTC")
	if btc.Price != 100 {
		t.Errorf("restore must not clobber live data, got %v", btc.Price)
	}
	eth, ok := r.Snapshot("ETH")
	if !ok || eth.Price != 10 {
		t.Fatalf("missing asset should be seeded from cache: %+v", eth)
	}
	if eth.Source != domain.SourceRestored {
		t.Errorf("restored source = %q", eth.Source)
	}
}

func TestMarkUnsupportedAndRecovery(t *testing.T) {
	r, _ := newTestReconciler(ReconcilerConfig{})

	r.MarkUnsupported("DOGE")
	snap, ok := r.Snapshot("DOGE")
	if !ok || !snap.Unsupported {
		t.Fatalf("expected unsupported snapshot, got %+v", snap)
	}

	// a later valid tick clears the flag
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "DOGE", Price: 0.1})
	snap, _ = r.Snapshot("DOGE")
	if snap.Unsupported {
		t.Error("valid tick should clear unsupported")
	}
}

func TestPersistableSnapshotsFilter(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "ETH", Price: 10})
	r.MarkUnsupported("DOGE")

	got := r.PersistableSnapshots()
	if len(got) != 2 {
		t.Fatalf("persistable count = %d, want 2", len(got))
	}
	for _, s := range got {
		if s.Unsupported || s.Price <= 0 {
			t.Errorf("unexpected persistable snapshot %+v", s)
		}
	}
}

func TestSubscribeNotifiedAndUnsubscribe(t *testing.T) {
	r, clk := newTestReconciler(ReconcilerConfig{})

	var got []string
	cancel := r.Subscribe(func(s domain.PriceSnapshot) {
		got = append(got, s.Symbol)
	})

	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 100})
	if len(got) != 1 || got[0] != "BTC" {
		t.Fatalf("subscriber not notified: %v", got)
	}

	cancel()
	clk.advance(2 * time.Second)
	r.Ingest(port.RawTick{Venue: "binance", Symbol: "BTC", Price: 101})
	if len(got) != 1 {
		t.Errorf("unsubscribed callback still invoked: %v", got)
	}
}
