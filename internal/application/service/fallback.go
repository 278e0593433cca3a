package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

// SymbolResolver maps an asset symbol to a venue-specific instrument id and
// reports which venues can serve an asset at all.
type SymbolResolver interface {
	Resolve(ctx context.Context, coin, venue string) (string, bool)
	Coverage(ctx context.Context, coin string, venueOrder []string) []string
}

// VenueStatus reports whether a venue's streaming session is currently open.
type VenueStatus interface {
	IsOpen(venue string) bool
}

type FallbackConfig struct {
	PollInterval   time.Duration
	FailLimit      int           // consecutive sweep failures before the cache tier
	LivenessWindow time.Duration // max age for a snapshot to count as live
	VenueOrder     []string      // REST polling priority
}

func (c *FallbackConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.FailLimit <= 0 {
		c.FailLimit = 2
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 30 * time.Second
	}
}

// Fallback keeps every tracked asset fed when its streams go quiet. Each
// sweep walks the tiers in order: a fresh live snapshot needs nothing, then
// REST polling across venues, then the persisted cache, and only when all
// three fail is the asset marked unsupported.
type Fallback struct {
	cfg      FallbackConfig
	symbols  []string
	rec      *Reconciler
	rest     map[string]port.RestSource
	resolver SymbolResolver
	status   VenueStatus
	store    port.SnapshotStore

	failures map[string]int
	now      func() time.Time
}

func NewFallback(
	cfg FallbackConfig,
	symbols []string,
	rec *Reconciler,
	rest map[string]port.RestSource,
	resolver SymbolResolver,
	status VenueStatus,
	store port.SnapshotStore,
) *Fallback {
	cfg.applyDefaults()
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm = append(norm, strings.ToUpper(strings.TrimSpace(s)))
	}
	return &Fallback{
		cfg:      cfg,
		symbols:  norm,
		rec:      rec,
		rest:     rest,
		resolver: resolver,
		status:   status,
		store:    store,
		failures: make(map[string]int),
		now:      time.Now,
	}
}

// Run sweeps on the configured cadence until the context ends.
func (f *Fallback) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Sweep(ctx)
		}
	}
}

// Sweep checks every tracked asset once and escalates the ones that need it.
func (f *Fallback) Sweep(ctx context.Context) {
	var cached *domain.CacheRecord

	for _, sym := range f.symbols {
		if snap, ok := f.rec.Snapshot(sym); ok && f.isLive(snap) {
			f.failures[sym] = 0
			continue
		}

		if f.pollRest(ctx, sym) {
			f.failures[sym] = 0
			continue
		}

		f.failures[sym]++
		if f.failures[sym] < f.cfg.FailLimit {
			continue
		}

		// cache tier: load once per sweep
		if cached == nil {
			rec, ok, err := f.store.LoadRecord(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("fallback: cache load failed")
			}
			if !ok {
				rec = domain.CacheRecord{}
			}
			cached = &rec
		}
		if s, ok := findSnapshot(cached.Snapshots, sym); ok {
			f.rec.RestoreSymbol(s, domain.SourceCache)
			log.Info().Str("symbol", sym).Msg("serving cached price")
			continue
		}

		f.rec.MarkUnsupported(sym)
		log.Warn().Str("symbol", sym).Msg("no price source available")
	}
}

// isLive holds when the snapshot came from a venue whose session is open
// and the data is recent enough.
func (f *Fallback) isLive(s domain.PriceSnapshot) bool {
	if s.Price <= 0 || s.Unsupported {
		return false
	}
	if !f.status.IsOpen(s.Source) {
		return false
	}
	age := f.now().UnixMilli() - s.LastUpdate
	return age >= 0 && age <= f.cfg.LivenessWindow.Milliseconds()
}

func (f *Fallback) pollRest(ctx context.Context, sym string) bool {
	for _, venue := range f.resolver.Coverage(ctx, sym, f.cfg.VenueOrder) {
		src := f.rest[venue]
		if src == nil {
			continue
		}
		// cached by the resolver, so this is a map hit after Coverage
		inst, ok := f.resolver.Resolve(ctx, sym, venue)
		if !ok {
			continue
		}
		t, err := src.FetchTicker(ctx, inst)
		if err != nil {
			log.Debug().Err(err).Str("venue", venue).Str("symbol", sym).
				Msg("rest poll failed")
			continue
		}
		t.Venue = venue
		t.Symbol = sym
		f.rec.Ingest(t)
		return true
	}
	return false
}

func findSnapshot(snaps []domain.PriceSnapshot, sym string) (domain.PriceSnapshot, bool) {
	for _, s := range snaps {
		if strings.EqualFold(s.Symbol, sym) {
			return s, true
		}
	}
	return domain.PriceSnapshot{}, false
}
