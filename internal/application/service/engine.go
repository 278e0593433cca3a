package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

// BoardRenderer turns the current snapshot set into one printable line.
type BoardRenderer interface {
	RenderLine(snaps []domain.PriceSnapshot, liveVenues []string, live bool) string
}

// VenueLister reports which venues currently hold an open session.
type VenueLister interface {
	LiveVenues() []string
}

type EngineConfig struct {
	Symbols       []string
	StepInterval  time.Duration // pending flush + interpolation cadence
	SaveInterval  time.Duration
	PrintInterval time.Duration // periodic history line
}

func (c *EngineConfig) applyDefaults() {
	if c.StepInterval <= 0 {
		c.StepInterval = 100 * time.Millisecond
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 30 * time.Second
	}
	if c.PrintInterval <= 0 {
		c.PrintInterval = time.Minute
	}
}

// Engine owns the main loop: it fans every venue stream into one channel,
// feeds the reconciler, drives animation and persistence cadences, and
// renders the board. All reconciler mutation happens on this goroutine or
// inside reconciler methods, never from feed goroutines directly.
type Engine struct {
	cfg      EngineConfig
	feeds    []port.PriceFeed
	rec      *Reconciler
	fallback *Fallback
	store    port.SnapshotStore
	sink     port.Sink
	renderer BoardRenderer
	venues   VenueLister
}

func NewEngine(
	cfg EngineConfig,
	feeds []port.PriceFeed,
	rec *Reconciler,
	fallback *Fallback,
	store port.SnapshotStore,
	sink port.Sink,
	renderer BoardRenderer,
	venues VenueLister,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		feeds:    feeds,
		rec:      rec,
		fallback: fallback,
		store:    store,
		sink:     sink,
		renderer: renderer,
		venues:   venues,
	}
}

// Run blocks until the context ends. A cold start is served from the cache
// before any stream connects, so consumers never wait on a handshake.
func (e *Engine) Run(ctx context.Context) error {
	if rec, ok, err := e.store.LoadRecord(ctx); err != nil {
		log.Warn().Err(err).Msg("cache restore failed, starting empty")
	} else if ok {
		e.rec.Restore(rec, domain.SourceRestored)
		log.Info().Int("symbols", len(rec.Snapshots)).Msg("restored snapshots from cache")
	}

	merged := make(chan port.RawTick, 1024)
	for _, feed := range e.feeds {
		ch, err := feed.Subscribe(ctx, e.cfg.Symbols)
		if err != nil {
			log.Error().Err(err).Str("venue", feed.Name()).Msg("subscribe failed")
			continue
		}
		go func(name string, ch <-chan port.RawTick) {
			for t := range ch {
				select {
				case merged <- t:
				case <-ctx.Done():
					return
				}
			}
			log.Debug().Str("venue", name).Msg("feed channel closed")
		}(feed.Name(), ch)
	}

	if e.fallback != nil {
		go e.fallback.Run(ctx)
	}

	step := time.NewTicker(e.cfg.StepInterval)
	save := time.NewTicker(e.cfg.SaveInterval)
	hist := time.NewTicker(e.cfg.PrintInterval)
	defer step.Stop()
	defer save.Stop()
	defer hist.Stop()

	for {
		select {
		case <-ctx.Done():
			e.persist(context.Background())
			if e.sink != nil {
				_ = e.sink.NewLine()
			}
			log.Info().Msg("engine stopped")
			return nil

		case t := <-merged:
			e.rec.Ingest(t)

		case <-step.C:
			e.rec.FlushPending()
			e.rec.StepInterpolations()
			e.renderLive()

		case <-save.C:
			e.persist(ctx)

		case <-hist.C:
			e.printHistory()
		}
	}
}

func (e *Engine) renderLive() {
	if e.sink == nil || e.renderer == nil {
		return
	}
	line := e.renderer.RenderLine(e.rec.Snapshots(), e.liveVenues(), true)
	if err := e.sink.WriteLive(line); err != nil {
		log.Debug().Err(err).Msg("live render failed")
	}
}

func (e *Engine) printHistory() {
	if e.sink == nil || e.renderer == nil {
		return
	}
	line := e.renderer.RenderLine(e.rec.Snapshots(), e.liveVenues(), false)
	if err := e.sink.WriteSnapshot(time.Now(), line); err != nil {
		log.Debug().Err(err).Msg("history render failed")
	}
}

func (e *Engine) liveVenues() []string {
	if e.venues == nil {
		return nil
	}
	return e.venues.LiveVenues()
}

// persist writes the current persistable snapshot set. Failures are logged
// and retried on the next cadence, never fatal.
func (e *Engine) persist(ctx context.Context) {
	snaps := e.rec.PersistableSnapshots()
	if len(snaps) == 0 {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec := domain.CacheRecord{Ts: time.Now().UnixMilli(), Snapshots: snaps}
	if err := e.store.SaveRecord(cctx, rec); err != nil {
		log.Warn().Err(err).Msg("snapshot save failed")
		return
	}
	log.Debug().Int("symbols", len(snaps)).Msg("snapshots persisted")
}

// GetSnapshot returns one asset's current snapshot.
func (e *Engine) GetSnapshot(symbol string) (domain.PriceSnapshot, bool) {
	return e.rec.Snapshot(symbol)
}

// Snapshots returns the full board, sorted by symbol.
func (e *Engine) Snapshots() []domain.PriceSnapshot {
	return e.rec.Snapshots()
}

// Subscribe registers a snapshot-change callback.
func (e *Engine) Subscribe(fn func(domain.PriceSnapshot)) func() {
	return e.rec.Subscribe(fn)
}

// ConnectionStatus reports whether any streaming session is open and which
// venues hold one.
func (e *Engine) ConnectionStatus() (bool, []string) {
	live := e.liveVenues()
	return len(live) > 0, live
}
