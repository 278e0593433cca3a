package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pricemux/internal/application"
	"pricemux/internal/application/port"
	"pricemux/internal/application/service"
	"pricemux/internal/infrastructure/config"
	"pricemux/internal/infrastructure/exchange"
	"pricemux/internal/infrastructure/exchange/binance"
	_ "pricemux/internal/infrastructure/exchange/bitget"
	"pricemux/internal/infrastructure/exchange/bybit"
	"pricemux/internal/infrastructure/exchange/okx"
	"pricemux/internal/infrastructure/pricefeed"
	compositerepo "pricemux/internal/infrastructure/storage/composite"
	pgrepo "pricemux/internal/infrastructure/storage/postgres"
	redisrepo "pricemux/internal/infrastructure/storage/redis"
	sqliterepo "pricemux/internal/infrastructure/storage/sqlite"
	"pricemux/internal/interfaces/console"
	"pricemux/presentation"
)

// ServiceContext builds and owns every runtime dependency. It is the only
// place wiring happens; main just loads config and hands it over.
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	store    port.SnapshotStore
	status   *exchange.StatusTable
	registry *exchange.Registry
	rest     map[string]port.RestSource
	feeds    []port.PriceFeed

	Sink port.Sink

	engine *service.Engine

	closerChain []func() error
}

func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:    ctx,
		Config: cfg,
		status: exchange.NewStatusTable(),
		rest:   make(map[string]port.RestSource),
		Sink:   console.NewSink(),
	}

	if err := sc.initStorage(); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	sc.initVenues()
	if len(sc.feeds) == 0 {
		_ = sc.Close()
		return nil, ErrNoFeedsEnabled
	}
	sc.initEngine()

	log.Info().
		Int("feeds", len(sc.feeds)).
		Int("rest_sources", len(sc.rest)).
		Msg("all components initialized")
	return sc, nil
}

func (sc *ServiceContext) initStorage() error {
	ttl := sc.Config.CacheTTL()
	var tiers []port.SnapshotStore

	if sc.Config.Cache.Redis.Enabled {
		rdb := redisclient.NewClient(&redisclient.Options{
			Addr: sc.Config.Cache.Redis.Addr,
		})

		pctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		repo := redisrepo.New(rdb, sc.Config.Cache.Redis.Prefix, ttl)
		tiers = append(tiers, repo)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing redis connection")
			return repo.Close()
		})
		log.Info().Str("addr", sc.Config.Cache.Redis.Addr).Msg("redis cache tier initialized")
	}

	repo, err := sqliterepo.New(sc.Config.Cache.SqlitePath, ttl)
	if err != nil {
		return fmt.Errorf("sqlite open failed: %w", err)
	}
	tiers = append(tiers, repo)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	log.Info().Str("path", sc.Config.Cache.SqlitePath).Msg("sqlite cache tier initialized")

	if sc.Config.Cache.Postgres.Enabled {
		pg, err := pgrepo.New(sc.Config.Cache.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres open failed: %w", err)
		}
		tiers = append(tiers, pg)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return pg.Close()
		})
		log.Info().Msg("postgres archive tier initialized")
	}

	sc.store = compositerepo.New(tiers...)
	return nil
}

// initVenues builds the symbol registry, REST sources and streaming feeds
// for every enabled venue. Feeds come from the factory registry, so a venue
// package only needs an init() to participate.
func (sc *ServiceContext) initVenues() {
	sc.registry = exchange.NewRegistry(sc.Config.NegativeTTL())

	session := exchange.SessionSettings{
		ConnectTimeout: time.Duration(sc.Config.Session.ConnectTimeoutSec) * time.Second,
		PingInterval:   time.Duration(sc.Config.Session.PingSec) * time.Second,
		HealthInterval: time.Duration(sc.Config.Session.HealthSec) * time.Second,
		MaxAge:         time.Duration(sc.Config.Session.MaxAgeMin) * time.Minute,
		Backoff: exchange.Backoff{
			Base:        time.Duration(sc.Config.Session.BackoffBaseMs) * time.Millisecond,
			Max:         time.Duration(sc.Config.Session.BackoffMaxSec) * time.Second,
			Jitter:      time.Duration(sc.Config.Session.BackoffJitterMs) * time.Millisecond,
			MaxAttempts: sc.Config.Session.MaxAttempts,
		},
	}

	for name, vcfg := range sc.Config.Venues {
		if !vcfg.Enabled {
			continue
		}

		sc.addVenueResolver(name, vcfg)

		factory, ok := pricefeed.Get(name)
		if !ok {
			log.Warn().Str("venue", name).Msg("no feed factory registered, skipping")
			continue
		}
		sc.feeds = append(sc.feeds, factory(pricefeed.FeedConfig{
			WsURL:   vcfg.WsURL,
			Quote:   vcfg.Quote,
			Session: session,
			Status:  sc.status,
		}))
		log.Info().Str("venue", name).Msg("feed initialized")
	}

	for _, m := range sc.Config.Symbols.Map {
		sc.registry.AddMapping(m.Coin, m.Venue, m.Instrument)
	}
}

// addVenueResolver wires the venue's converter, REST source and instrument
// finder into the registry. Venues without a REST client still resolve
// through their converter.
func (sc *ServiceContext) addVenueResolver(name string, vcfg config.VenueConfig) {
	switch name {
	case application.VenueBinance:
		rc := binance.NewRestClient(vcfg.RestURL, vcfg.Quote)
		sc.rest[name] = rc
		sc.registry.AddVenue(name, exchange.NewSuffixSymbolConverter(vcfg.Quote), rc)
	case application.VenueBybit:
		rc := bybit.NewRestClient(vcfg.RestURL, vcfg.Quote)
		sc.rest[name] = rc
		sc.registry.AddVenue(name, exchange.NewSuffixSymbolConverter(vcfg.Quote), rc)
	case application.VenueOKX:
		rc := okx.NewRestClient(vcfg.RestURL, vcfg.Quote)
		sc.rest[name] = rc
		sc.registry.AddVenue(name, exchange.NewSeparatedSymbolConverter(vcfg.Quote, "-"), rc)
	default:
		// stream-only venue
		sc.registry.AddVenue(name, exchange.NewSuffixSymbolConverter(vcfg.Quote), nil)
	}
}

func (sc *ServiceContext) initEngine() {
	rec := service.NewReconciler(service.ReconcilerConfig{
		ThrottleWindow:         sc.Config.ThrottleWindow(),
		PriorityThrottleWindow: sc.Config.PriorityThrottleWindow(),
		PrioritySymbols:        sc.Config.Symbols.Priority,
		MaxChangeFraction:      sc.Config.Engine.MaxChangeFraction,
		SignificanceFraction:   sc.Config.Engine.SignificanceFraction,
		InterpSteps:            sc.Config.Engine.InterpSteps,
		VolumeLowRatio:         sc.Config.Engine.VolumeLowRatio,
		VolumeHighRatio:        sc.Config.Engine.VolumeHighRatio,
	})

	venueOrder := sc.Config.Fallback.VenueOrder
	if len(venueOrder) == 0 {
		venueOrder = application.AllVenues
	}

	fb := service.NewFallback(
		service.FallbackConfig{
			PollInterval:   sc.Config.FallbackPoll(),
			FailLimit:      sc.Config.Fallback.FailLimit,
			LivenessWindow: sc.Config.LivenessWindow(),
			VenueOrder:     venueOrder,
		},
		sc.Config.Symbols.List,
		rec,
		sc.rest,
		sc.registry,
		sc.status,
		sc.store,
	)

	sc.engine = service.NewEngine(
		service.EngineConfig{
			Symbols:       sc.Config.Symbols.List,
			StepInterval:  sc.Config.StepInterval(),
			SaveInterval:  sc.Config.SaveInterval(),
			PrintInterval: sc.Config.PrintInterval(),
		},
		sc.feeds,
		rec,
		fb,
		sc.store,
		sc.Sink,
		presentation.NewRenderer(),
		sc.status,
	)
}

// Engine returns the fully wired engine.
func (sc *ServiceContext) Engine() *service.Engine { return sc.engine }

// Close releases resources in reverse initialization order.
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}
